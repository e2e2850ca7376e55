package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pizzaline/pizzaline/pkg/order"
)

// Result is the structured outcome of a tool call, serialized back to the
// agent verbatim. Validation failures are results, not errors; an error from
// Dispatch means the call itself was malformed or the backend failed.
type Result map[string]any

func ok(fields Result) Result {
	out := Result{"ok": true}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func fail(code, message string) Result {
	return Result{"ok": false, "code": code, "message": message}
}

// Failure codes returned to the agent.
const (
	CodeUnknownItem      = "UnknownItem"
	CodeUnknownTopping   = "UnknownTopping"
	CodeUnknownSize      = "UnknownSize"
	CodeCartFull         = "CartFull"
	CodeEmptyOrder       = "EmptyOrder"
	CodeNoSuchCartItem   = "NoSuchCartItem"
	CodeInvalidPhone     = "InvalidPhone"
	CodePhoneMissing     = "PhoneMissing"
	CodePhoneUnconfirmed = "PhoneUnconfirmed"
	CodeTooManyOrders    = "TooManyOrders"
	CodeAlreadyFinalized = "AlreadyFinalized"
	CodeCallEnded        = "CallEnded"
	CodeOrderNotFound    = "OrderNotFound"
)

type toolFunc func(s *Session, ctx context.Context, args json.RawMessage) (Result, error)

// toolTable is the closed set of functions the agent may invoke.
var toolTable = map[string]toolFunc{
	"menu_summary":   (*Session).menuSummary,
	"add_item":       (*Session).addItem,
	"remove_item":    (*Session).removeItem,
	"modify_item":    (*Session).modifyItem,
	"get_cart":       (*Session).getCart,
	"save_phone":     (*Session).savePhone,
	"confirm_phone":  (*Session).confirmPhone,
	"finalize_order": (*Session).finalizeOrder,
	"order_status":   (*Session).orderStatus,
	"cancel_order":   (*Session).cancelOrder,
}

// ToolNames lists the registered tool names in no particular order.
func ToolNames() []string {
	names := make([]string, 0, len(toolTable))
	for name := range toolTable {
		names = append(names, name)
	}
	return names
}

// Dispatch routes one agent function call to its handler. Unknown names
// return an error so the relay can answer with a protocol-level failure.
func (s *Session) Dispatch(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	fn, found := toolTable[name]
	if !found {
		return nil, fmt.Errorf("session: unknown tool %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseAborted {
		return fail(CodeCallEnded, "the call has ended"), nil
	}
	if s.phase == PhaseGreeting {
		s.phase = PhaseOrdering
	}

	res, err := fn(s, ctx, args)
	if err != nil {
		s.logger.Error("tool call failed", "tool", name, "error", err)
		return nil, err
	}
	s.logger.Info("tool call", "tool", name, "phase", s.phase, "ok", res["ok"])
	return res, nil
}

// Handlers below run with s.mu held.

func (s *Session) menuSummary(context.Context, json.RawMessage) (Result, error) {
	return ok(Result{
		"summary": s.menu.Summary,
		"flavors": s.menu.Flavors,
		"sizes":   s.menu.Sizes,
	}), nil
}

type addItemArgs struct {
	Item      string   `json:"item"`
	Size      string   `json:"size"`
	Quantity  int      `json:"quantity"`
	Modifiers []string `json:"modifiers"`
}

func (s *Session) addItem(_ context.Context, raw json.RawMessage) (Result, error) {
	var args addItemArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if s.phase == PhaseCompleted {
		return fail(CodeAlreadyFinalized, "the order was already placed"), nil
	}

	flavor := s.menu.MatchFlavor(args.Item)
	if flavor == "" {
		return fail(CodeUnknownItem, fmt.Sprintf("%q is not on the menu", args.Item)), nil
	}

	size := s.menu.DefaultSize()
	if args.Size != "" {
		size = s.menu.MatchSize(args.Size)
		if size == "" {
			return fail(CodeUnknownSize, fmt.Sprintf("size %q is not offered", args.Size)), nil
		}
	}

	quantity := args.Quantity
	if quantity < 1 {
		quantity = 1
	}

	modifiers := make([]string, 0, len(args.Modifiers))
	for _, m := range args.Modifiers {
		topping := s.menu.MatchTopping(m)
		if topping == "" {
			return fail(CodeUnknownTopping, fmt.Sprintf("%q is not an available topping", m)), nil
		}
		modifiers = append(modifiers, topping)
	}

	if s.cartQuantityLocked()+quantity > MaxItemsPerOrder {
		return fail(CodeCartFull, fmt.Sprintf("an order can hold at most %d items", MaxItemsPerOrder)), nil
	}

	line := order.LineItem{
		Item:      flavor,
		Size:      size,
		Quantity:  quantity,
		Modifiers: modifiers,
		UnitPrice: s.menu.Price(flavor, size),
	}
	s.cart = append(s.cart, line)
	s.phase = PhaseConfirmingItem

	return ok(Result{
		"item":     flavor,
		"size":     size,
		"quantity": quantity,
		"cart":     cartSummary(s.cart),
	}), nil
}

type itemRefArgs struct {
	Item string `json:"item"`
}

func (s *Session) removeItem(_ context.Context, raw json.RawMessage) (Result, error) {
	var args itemRefArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if s.phase == PhaseCompleted {
		return fail(CodeAlreadyFinalized, "the order was already placed"), nil
	}

	idx := s.findCartItemLocked(args.Item)
	if idx < 0 {
		return fail(CodeNoSuchCartItem, fmt.Sprintf("%q is not in the cart", args.Item)), nil
	}
	removed := s.cart[idx]
	s.cart = append(s.cart[:idx], s.cart[idx+1:]...)
	s.phase = PhaseConfirmingItem

	return ok(Result{
		"removed": removed.Item,
		"cart":    cartSummary(s.cart),
	}), nil
}

type modifyItemArgs struct {
	Item      string   `json:"item"`
	Size      string   `json:"size"`
	Quantity  int      `json:"quantity"`
	Modifiers []string `json:"modifiers"`
}

func (s *Session) modifyItem(_ context.Context, raw json.RawMessage) (Result, error) {
	var args modifyItemArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if s.phase == PhaseCompleted {
		return fail(CodeAlreadyFinalized, "the order was already placed"), nil
	}

	idx := s.findCartItemLocked(args.Item)
	if idx < 0 {
		return fail(CodeNoSuchCartItem, fmt.Sprintf("%q is not in the cart", args.Item)), nil
	}
	line := s.cart[idx]

	if args.Size != "" {
		size := s.menu.MatchSize(args.Size)
		if size == "" {
			return fail(CodeUnknownSize, fmt.Sprintf("size %q is not offered", args.Size)), nil
		}
		line.Size = size
		line.UnitPrice = s.menu.Price(line.Item, size)
	}
	if args.Quantity > 0 {
		delta := args.Quantity - line.Quantity
		if s.cartQuantityLocked()+delta > MaxItemsPerOrder {
			return fail(CodeCartFull, fmt.Sprintf("an order can hold at most %d items", MaxItemsPerOrder)), nil
		}
		line.Quantity = args.Quantity
	}
	if args.Modifiers != nil {
		modifiers := make([]string, 0, len(args.Modifiers))
		for _, m := range args.Modifiers {
			topping := s.menu.MatchTopping(m)
			if topping == "" {
				return fail(CodeUnknownTopping, fmt.Sprintf("%q is not an available topping", m)), nil
			}
			modifiers = append(modifiers, topping)
		}
		line.Modifiers = modifiers
	}

	s.cart[idx] = line
	s.phase = PhaseConfirmingItem

	return ok(Result{
		"item":     line.Item,
		"size":     line.Size,
		"quantity": line.Quantity,
		"cart":     cartSummary(s.cart),
	}), nil
}

func (s *Session) getCart(context.Context, json.RawMessage) (Result, error) {
	if !s.phase.Terminal() {
		s.phase = PhaseAwaitingMore
	}
	return ok(Result{
		"cart":  cartSummary(s.cart),
		"total": cartTotal(s.cart),
	}), nil
}

type savePhoneArgs struct {
	Phone string `json:"phone"`
}

func (s *Session) savePhone(_ context.Context, raw json.RawMessage) (Result, error) {
	var args savePhoneArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	phone := NormalizePhone(args.Phone)
	if phone == "" {
		return fail(CodeInvalidPhone, fmt.Sprintf("%q does not look like a phone number", args.Phone)), nil
	}
	s.phone = phone
	s.phoneConfirmed = false
	if !s.phase.Terminal() {
		s.phase = PhaseCollectingPhone
	}
	return ok(Result{"phone": phone}), nil
}

type confirmPhoneArgs struct {
	Confirmed bool `json:"confirmed"`
}

func (s *Session) confirmPhone(_ context.Context, raw json.RawMessage) (Result, error) {
	var args confirmPhoneArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if s.phone == "" {
		return fail(CodePhoneMissing, "no phone number has been saved"), nil
	}
	if !args.Confirmed {
		s.phone = ""
		s.phoneConfirmed = false
		if !s.phase.Terminal() {
			s.phase = PhaseCollectingPhone
		}
		return ok(Result{"confirmed": false}), nil
	}
	s.phoneConfirmed = true
	if !s.phase.Terminal() {
		s.phase = PhaseConfirmingOrder
	}
	return ok(Result{"confirmed": true, "phone": s.phone}), nil
}

func (s *Session) finalizeOrder(ctx context.Context, _ json.RawMessage) (Result, error) {
	if s.phase == PhaseCompleted {
		return fail(CodeAlreadyFinalized, fmt.Sprintf("order %s was already placed", s.orderNumber)), nil
	}
	if len(s.cart) == 0 {
		return fail(CodeEmptyOrder, "the cart is empty"), nil
	}
	if s.phone == "" {
		return fail(CodePhoneMissing, "a phone number is required before placing the order"), nil
	}
	if !s.phoneConfirmed {
		return fail(CodePhoneUnconfirmed, "the phone number has not been confirmed"), nil
	}
	if s.ledger.CountActiveForPhone(s.phone) >= MaxActiveOrdersPerPhone {
		return fail(CodeTooManyOrders, fmt.Sprintf("%s already has %d open orders", s.phone, MaxActiveOrdersPerPhone)), nil
	}

	placed, err := s.ledger.Create(ctx, s.cart, s.phone)
	if err != nil {
		return nil, fmt.Errorf("session: finalize order: %w", err)
	}
	s.orderNumber = placed.Number
	s.phase = PhaseCompleted

	return ok(Result{
		"order_number": placed.Number,
		"status":       string(placed.Status),
		"total":        placed.Total,
	}), nil
}

type orderStatusArgs struct {
	OrderNumber string `json:"order_number"`
	Phone       string `json:"phone"`
}

func (s *Session) orderStatus(_ context.Context, raw json.RawMessage) (Result, error) {
	var args orderStatusArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}

	if args.OrderNumber != "" {
		o, err := s.ledger.Get(args.OrderNumber)
		if err != nil {
			return fail(CodeOrderNotFound, fmt.Sprintf("no order numbered %s", args.OrderNumber)), nil
		}
		return ok(Result{"orders": []Result{orderSummary(o)}}), nil
	}

	phone := NormalizePhone(args.Phone)
	if phone == "" {
		phone = s.phone
	}
	if phone == "" {
		return fail(CodePhoneMissing, "an order number or phone number is required"), nil
	}
	o, err := s.ledger.FindByPhone(phone)
	if err != nil {
		return fail(CodeOrderNotFound, fmt.Sprintf("no orders for %s", phone)), nil
	}
	return ok(Result{"orders": []Result{orderSummary(o)}}), nil
}

type cancelOrderArgs struct {
	OrderNumber string `json:"order_number"`
}

func (s *Session) cancelOrder(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args cancelOrderArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}

	number := args.OrderNumber
	if number == "" {
		number = s.orderNumber
	}
	if number == "" {
		// Nothing placed yet: cancelling means ending the conversation.
		s.cart = nil
		s.phase = PhaseAborted
		return ok(Result{"cancelled": "cart"}), nil
	}

	o, err := s.ledger.AdvanceStatus(ctx, number, order.StatusCancelled)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			return fail(CodeOrderNotFound, fmt.Sprintf("no order numbered %s", number)), nil
		case errors.Is(err, order.ErrInvalidTransition):
			return fail(CodeOrderNotFound, fmt.Sprintf("order %s can no longer be cancelled", number)), nil
		default:
			return nil, fmt.Errorf("session: cancel order: %w", err)
		}
	}
	return ok(Result{"cancelled": o.Number, "status": string(o.Status)}), nil
}

func (s *Session) findCartItemLocked(spoken string) int {
	flavor := s.menu.MatchFlavor(spoken)
	target := strings.ToLower(strings.TrimSpace(spoken))
	for i, line := range s.cart {
		if flavor != "" && line.Item == flavor {
			return i
		}
		if strings.ToLower(line.Item) == target {
			return i
		}
	}
	return -1
}

func unmarshalArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("session: decode tool arguments: %w", err)
	}
	return nil
}

func cartSummary(cart []order.LineItem) []Result {
	out := make([]Result, 0, len(cart))
	for _, line := range cart {
		entry := Result{
			"item":     line.Item,
			"size":     line.Size,
			"quantity": line.Quantity,
			"price":    line.UnitPrice,
		}
		if len(line.Modifiers) > 0 {
			entry["modifiers"] = line.Modifiers
		}
		out = append(out, entry)
	}
	return out
}

func cartTotal(cart []order.LineItem) float64 {
	total := 0.0
	for _, line := range cart {
		q := line.Quantity
		if q < 1 {
			q = 1
		}
		total += line.UnitPrice * float64(q)
	}
	return total
}

func orderSummary(o *order.Order) Result {
	return Result{
		"order_number": o.Number,
		"status":       string(o.Status),
		"total":        o.Total,
		"items":        cartSummary(o.Items),
	}
}
