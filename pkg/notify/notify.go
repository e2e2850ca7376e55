// Package notify delivers order notifications to callers. Delivery failures
// are logged, never propagated: an order mutation must not fail because a
// text message could not be sent.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pizzaline/pizzaline/pkg/order"
)

// LogNotifier writes notifications to the log only. The fallback when no
// SMS credentials are configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

func (n *LogNotifier) OrderCreated(_ context.Context, o *order.Order) {
	n.logger().Info("order notification", "kind", "created", "order_number", o.Number, "phone", o.Phone)
}

func (n *LogNotifier) OrderReady(_ context.Context, o *order.Order) {
	n.logger().Info("order notification", "kind", "ready", "order_number", o.Number, "phone", o.Phone)
}

// SMSConfig configures the carrier REST sender.
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	From       string

	// BaseURL overrides the carrier API host, for tests.
	BaseURL string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

const defaultSMSBaseURL = "https://api.twilio.com"

// SMSNotifier sends order texts through the carrier messages endpoint.
type SMSNotifier struct {
	cfg    SMSConfig
	client *http.Client
	logger *slog.Logger
}

// NewSMS validates credentials and returns the sender.
func NewSMS(cfg SMSConfig) (*SMSNotifier, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, fmt.Errorf("notify: account sid is required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("notify: auth token is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("notify: from number is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSMSBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SMSNotifier{cfg: cfg, client: client, logger: logger}, nil
}

func (n *SMSNotifier) OrderCreated(ctx context.Context, o *order.Order) {
	body := fmt.Sprintf("Your order %s is in! Total $%.2f. We'll text you when it's ready.", o.Number, o.Total)
	n.send(ctx, o, body)
}

func (n *SMSNotifier) OrderReady(ctx context.Context, o *order.Order) {
	body := fmt.Sprintf("Order %s is ready for pickup!", o.Number)
	n.send(ctx, o, body)
}

func (n *SMSNotifier) send(ctx context.Context, o *order.Order, body string) {
	if strings.TrimSpace(o.Phone) == "" {
		n.logger.Warn("skipping sms, order has no phone", "order_number", o.Number)
		return
	}

	form := url.Values{}
	form.Set("To", o.Phone)
	form.Set("From", n.cfg.From)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", n.cfg.BaseURL, n.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		n.logger.Error("build sms request", "order_number", o.Number, "error", err)
		return
	}
	req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("send sms", "order_number", o.Number, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		n.logger.Error("sms rejected", "order_number", o.Number, "status", resp.StatusCode)
		return
	}
	n.logger.Info("sms sent", "order_number", o.Number, "phone", o.Phone)
}
