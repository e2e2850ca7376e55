// Command callout places a test call through the carrier REST API, pointing
// it at the service's voice webhook.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pizzaline/pizzaline/internal/dotenv"
	"github.com/pizzaline/pizzaline/pkg/session"
)

const defaultCarrierBaseURL = "https://api.twilio.com"

type callRequest struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
	WebhookURL string
	BaseURL    string
}

func placeCall(ctx context.Context, client *http.Client, req callRequest) (string, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", req.WebhookURL)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", req.BaseURL, req.AccountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build call request: %w", err)
	}
	httpReq.SetBasicAuth(req.AccountSID, req.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("place call: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("carrier rejected call: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var created struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("decode call response: %w", err)
	}
	return created.SID, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("callout", flag.ContinueOnError)
	fs.SetOutput(stderr)
	to := fs.String("to", os.Getenv("TWILIO_TO_NUMBER"), "number to call, E.164")
	host := fs.String("host", os.Getenv("PIZZALINE_PUBLIC_HOST"), "public host serving /voice")
	if err := fs.Parse(args); err != nil {
		return err
	}

	normalized := session.NormalizePhone(*to)
	if normalized == "" {
		return fmt.Errorf("a valid -to number is required")
	}
	if strings.TrimSpace(*host) == "" {
		return fmt.Errorf("a -host is required")
	}

	accountSID := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	from := os.Getenv("TWILIO_FROM_NUMBER")
	if accountSID == "" || authToken == "" || from == "" {
		return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER must be set")
	}
	baseURL := os.Getenv("TWILIO_BASE_URL")
	if baseURL == "" {
		baseURL = defaultCarrierBaseURL
	}

	webhook := "https://" + *host + "/voice"
	fmt.Fprintf(stdout, "placing call to %s via %s\n", normalized, webhook)

	client := &http.Client{Timeout: 15 * time.Second}
	sid, err := placeCall(ctx, client, callRequest{
		AccountSID: accountSID,
		AuthToken:  authToken,
		From:       from,
		To:         normalized,
		WebhookURL: webhook,
		BaseURL:    baseURL,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "call initiated: %s\n", sid)
	return nil
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "callout: %v\n", err)
		os.Exit(1)
	}
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "callout: %v\n", err)
		os.Exit(1)
	}
}
