// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreBackend selects the ledger's persistence driver.
type StoreBackend string

const (
	StoreFile     StoreBackend = "file"
	StorePostgres StoreBackend = "postgres"
)

type Config struct {
	Addr string

	// PublicHost is the externally reachable host used to build the media
	// stream URL handed to the carrier, e.g. "pizza.example.com".
	PublicHost string

	// Store selection.
	StoreBackend StoreBackend
	OrdersPath   string
	FreshStore   bool
	PostgresDSN  string

	// Menu file; empty uses the built-in menu.
	MenuPath string

	// Agent connection.
	AgentURL      string
	AgentAPIKey   string
	AgentLanguage string
	AgentGreeting string
	AgentPrompt   string
	ListenModel   string
	ThinkModel    string
	ThinkProvider string
	SpeakModel    string

	// Carrier credentials. SMS and outbound calls are disabled when unset.
	CarrierAccountSID string
	CarrierAuthToken  string
	CarrierFrom       string

	// Relay tuning.
	AgentInRate       int
	AgentOutRate      int
	OutboundQueueSize int
	IdleTimeout       time.Duration
	WriteTimeout      time.Duration

	// Event bus.
	BusQueueSize int

	// Operational.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
	SSEPingInterval     time.Duration
	LogJSON             bool
}

// LoadFromEnv reads configuration and validates the combinations that can
// only fail at startup.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("PIZZALINE_ADDR", ":8000"),
		PublicHost:          envOr("PIZZALINE_PUBLIC_HOST", "localhost:8000"),
		StoreBackend:        StoreBackend(envOr("PIZZALINE_STORE", string(StoreFile))),
		OrdersPath:          envOr("PIZZALINE_ORDERS_PATH", "orders.json"),
		FreshStore:          envBoolOr("PIZZALINE_FRESH_STORE", true),
		PostgresDSN:         envOr("PIZZALINE_POSTGRES_DSN", ""),
		MenuPath:            envOr("PIZZALINE_MENU_PATH", ""),
		AgentURL:            envOr("PIZZALINE_AGENT_URL", ""),
		AgentAPIKey:         envOr("DEEPGRAM_API_KEY", ""),
		AgentLanguage:       envOr("PIZZALINE_AGENT_LANGUAGE", "en"),
		AgentGreeting:       envOr("PIZZALINE_AGENT_GREETING", ""),
		AgentPrompt:         envOr("PIZZALINE_AGENT_PROMPT", ""),
		ListenModel:         envOr("PIZZALINE_STT_MODEL", "flux-general-en"),
		ThinkModel:          envOr("PIZZALINE_THINK_MODEL", "gemini-2.0-flash"),
		ThinkProvider:       envOr("PIZZALINE_THINK_PROVIDER", "google"),
		SpeakModel:          envOr("PIZZALINE_TTS_MODEL", "aura-2-odysseus-en"),
		CarrierAccountSID:   envOr("TWILIO_ACCOUNT_SID", ""),
		CarrierAuthToken:    envOr("TWILIO_AUTH_TOKEN", ""),
		CarrierFrom:         envOr("TWILIO_FROM_NUMBER", ""),
		AgentInRate:         envIntOr("PIZZALINE_AGENT_IN_RATE", 16000),
		AgentOutRate:        envIntOr("PIZZALINE_AGENT_OUT_RATE", 16000),
		OutboundQueueSize:   envIntOr("PIZZALINE_OUTBOUND_QUEUE", 64),
		IdleTimeout:         envDurationOr("PIZZALINE_IDLE_TIMEOUT", 60*time.Second),
		WriteTimeout:        envDurationOr("PIZZALINE_WRITE_TIMEOUT", 5*time.Second),
		BusQueueSize:        envIntOr("PIZZALINE_BUS_QUEUE", 64),
		ReadHeaderTimeout:   envDurationOr("PIZZALINE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("PIZZALINE_SHUTDOWN_GRACE", 15*time.Second),
		SSEPingInterval:     envDurationOr("PIZZALINE_SSE_PING_INTERVAL", 15*time.Second),
		LogJSON:             envBoolOr("PIZZALINE_LOG_JSON", false),
	}

	switch cfg.StoreBackend {
	case StoreFile:
		if strings.TrimSpace(cfg.OrdersPath) == "" {
			return Config{}, fmt.Errorf("PIZZALINE_ORDERS_PATH must not be empty")
		}
	case StorePostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return Config{}, fmt.Errorf("PIZZALINE_POSTGRES_DSN must be set when PIZZALINE_STORE=postgres")
		}
	default:
		return Config{}, fmt.Errorf("PIZZALINE_STORE must be file or postgres, got %q", cfg.StoreBackend)
	}

	if strings.TrimSpace(cfg.AgentAPIKey) == "" {
		return Config{}, fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if cfg.AgentInRate <= 0 || cfg.AgentOutRate <= 0 {
		return Config{}, fmt.Errorf("agent sample rates must be > 0")
	}
	if cfg.IdleTimeout <= 0 {
		return Config{}, fmt.Errorf("PIZZALINE_IDLE_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("PIZZALINE_SHUTDOWN_GRACE must be > 0")
	}

	sms := 0
	for _, v := range []string{cfg.CarrierAccountSID, cfg.CarrierAuthToken, cfg.CarrierFrom} {
		if strings.TrimSpace(v) != "" {
			sms++
		}
	}
	if sms != 0 && sms != 3 {
		return Config{}, fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER must be set together")
	}

	return cfg, nil
}

// SMSEnabled reports whether carrier credentials are configured.
func (c Config) SMSEnabled() bool {
	return strings.TrimSpace(c.CarrierAccountSID) != ""
}

// MediaStreamURL is the websocket URL handed to the carrier in TwiML.
func (c Config) MediaStreamURL() string {
	return "wss://" + c.PublicHost + "/media"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
