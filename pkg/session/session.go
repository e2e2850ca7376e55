// Package session holds the per-call conversation state and the tool
// handlers the remote agent invokes to mutate it. A session is owned by the
// relay that created it and never crosses calls.
package session

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pizzaline/pizzaline/pkg/menu"
	"github.com/pizzaline/pizzaline/pkg/order"
)

// Phase is the conversation's position in the ordering flow.
type Phase string

const (
	PhaseGreeting         Phase = "greeting"
	PhaseOrdering         Phase = "ordering"
	PhaseConfirmingItem   Phase = "confirming_item"
	PhaseAwaitingMore     Phase = "awaiting_more_items"
	PhaseCollectingPhone  Phase = "collecting_phone"
	PhaseConfirmingOrder  Phase = "confirming_order"
	PhaseCompleted        Phase = "completed"
	PhaseAborted          Phase = "aborted"
)

// Terminal reports whether the phase admits no further conversation.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAborted
}

// MaxItemsPerOrder caps cart size per call.
const MaxItemsPerOrder = 5

// MaxActiveOrdersPerPhone caps concurrent open orders for one caller.
const MaxActiveOrdersPerPhone = 5

// Session is one call's conversation state. All mutation goes through the
// tool dispatcher; the relay additionally calls Abort on termination.
type Session struct {
	CallID string

	mu             sync.Mutex
	phase          Phase
	cart           []order.LineItem
	phone          string
	phoneConfirmed bool
	orderNumber    string
	createdAt      time.Time

	menu   *menu.Menu
	ledger *order.Ledger
	logger *slog.Logger
}

// New creates a session in the greeting phase.
func New(callID string, m *menu.Menu, ledger *order.Ledger, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = menu.Default()
	}
	return &Session{
		CallID:    callID,
		phase:     PhaseGreeting,
		createdAt: time.Now(),
		menu:      m,
		ledger:    ledger,
		logger:    logger.With("call_id", callID),
	}
}

// Phase returns the current conversation phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Phone returns the collected caller phone number, empty until saved.
func (s *Session) Phone() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phone
}

// OrderNumber returns the finalized order number, empty until completed.
func (s *Session) OrderNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderNumber
}

// Cart returns a copy of the current cart.
func (s *Session) Cart() []order.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]order.LineItem, len(s.cart))
	copy(out, s.cart)
	return out
}

// Abort moves the session to the aborted phase unless the order already
// completed. Called by the relay on call termination.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseCompleted {
		s.phase = PhaseAborted
	}
}

func (s *Session) cartQuantityLocked() int {
	total := 0
	for _, it := range s.cart {
		q := it.Quantity
		if q < 1 {
			q = 1
		}
		total += q
	}
	return total
}

var phoneE164 = regexp.MustCompile(`^\+\d{7,15}$`)
var nonDigits = regexp.MustCompile(`\D`)

// NormalizePhone canonicalizes a spoken or typed phone number to E.164
// form. Returns "" when the input cannot be a phone number.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	digits := nonDigits.ReplaceAllString(raw, "")
	if strings.HasPrefix(raw, "+") {
		candidate := "+" + digits
		if phoneE164.MatchString(candidate) {
			return candidate
		}
		return ""
	}
	if len(digits) >= 7 && len(digits) <= 15 {
		return "+" + digits
	}
	return ""
}
