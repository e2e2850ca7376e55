// Package agent is the websocket client for the conversational voice agent.
// It performs the settings handshake, streams caller PCM up, and surfaces
// typed events and agent speech to the relay.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pizzaline/pizzaline/pkg/session"
)

const (
	// DefaultURL is the agent converse endpoint.
	DefaultURL = "wss://agent.deepgram.com/v1/agent/converse"

	// InputRate and OutputRate are the PCM rates negotiated in settings.
	// Caller audio is upsampled to InputRate; agent speech arrives at
	// OutputRate and is downsampled for the phone leg.
	InputRate  = 16000
	OutputRate = 16000

	maxMessageBytes = 1 << 24
)

// Provider selects one model for a pipeline stage.
type Provider struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

// Config carries everything needed to open one agent connection.
type Config struct {
	URL    string
	APIKey string

	Language string
	Greeting string
	Prompt   string

	Listen Provider
	Think  Provider
	Speak  Provider

	InputRate  int
	OutputRate int

	Functions []session.Definition

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.InputRate <= 0 {
		c.InputRate = InputRate
	}
	if c.OutputRate <= 0 {
		c.OutputRate = OutputRate
	}
	if c.Listen == (Provider{}) {
		c.Listen = Provider{Type: "deepgram", Model: "flux-general-en"}
	}
	if c.Think == (Provider{}) {
		c.Think = Provider{Type: "google", Model: "gemini-2.0-flash"}
	}
	if c.Speak == (Provider{}) {
		c.Speak = Provider{Type: "deepgram", Model: "aura-2-odysseus-en"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// settingsMessage is the handshake frame sent immediately after connect.
type settingsMessage struct {
	Type  string `json:"type"`
	Audio struct {
		Input struct {
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sample_rate"`
		} `json:"input"`
		Output struct {
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sample_rate"`
			Container  string `json:"container"`
		} `json:"output"`
	} `json:"audio"`
	Agent struct {
		Language string `json:"language"`
		Listen   struct {
			Provider Provider `json:"provider"`
		} `json:"listen"`
		Think struct {
			Provider  Provider             `json:"provider"`
			Prompt    string               `json:"prompt"`
			Functions []session.Definition `json:"functions,omitempty"`
		} `json:"think"`
		Speak struct {
			Provider Provider `json:"provider"`
		} `json:"speak"`
		Greeting string `json:"greeting,omitempty"`
	} `json:"agent"`
}

func buildSettings(cfg Config) settingsMessage {
	var msg settingsMessage
	msg.Type = "Settings"
	msg.Audio.Input.Encoding = "linear16"
	msg.Audio.Input.SampleRate = cfg.InputRate
	msg.Audio.Output.Encoding = "linear16"
	msg.Audio.Output.SampleRate = cfg.OutputRate
	msg.Audio.Output.Container = "none"
	msg.Agent.Language = cfg.Language
	msg.Agent.Listen.Provider = cfg.Listen
	msg.Agent.Think.Provider = cfg.Think
	msg.Agent.Think.Prompt = cfg.Prompt
	msg.Agent.Think.Functions = cfg.Functions
	msg.Agent.Speak.Provider = cfg.Speak
	msg.Agent.Greeting = cfg.Greeting
	return msg
}

// Client is one live agent connection. Read is single-reader; writes are
// serialized internally and safe from multiple goroutines.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial opens the connection and sends the settings handshake. It does not
// wait for SettingsApplied; that arrives through ReadEvent.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("agent: api key is required")
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+strings.TrimSpace(cfg.APIKey))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("agent: dial %s: %w", cfg.URL, err)
	}
	conn.SetReadLimit(maxMessageBytes)

	c := &Client{conn: conn, logger: cfg.Logger}
	if err := c.writeJSON(buildSettings(cfg)); err != nil {
		c.Close()
		return nil, fmt.Errorf("agent: send settings: %w", err)
	}
	return c, nil
}

// NewClient wraps an already-open connection. Used by tests and by callers
// that manage their own handshake.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	conn.SetReadLimit(maxMessageBytes)
	return &Client{conn: conn, logger: logger}
}

// ReadEvent blocks for the next inbound frame. Binary frames return Audio;
// text frames return a decoded event. A text frame that fails to decode is
// logged and skipped; the connection stays up. Errors from ReadEvent are
// connection errors. The caller owns the returned slices.
func (c *Client) ReadEvent() (any, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch msgType {
		case websocket.BinaryMessage:
			return Audio(data), nil
		case websocket.TextMessage:
			ev, err := DecodeEvent(data)
			if err != nil {
				c.logger.Warn("skipping undecodable agent frame", "error", err)
				continue
			}
			return ev, nil
		default:
			// Ping/pong is handled by the transport.
			continue
		}
	}
}

// SendAudio streams one frame of caller PCM.
func (c *Client) SendAudio(pcm []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// functionCallResponse answers one FunctionCall. Content is the handler
// result encoded as a JSON string, per the wire contract.
type functionCallResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// SendFunctionResult answers a function call with its structured result.
func (c *Client) SendFunctionResult(id, name string, result any) error {
	content, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("agent: encode function result: %w", err)
	}
	return c.writeJSON(functionCallResponse{
		Type:    "FunctionCallResponse",
		ID:      id,
		Name:    name,
		Content: string(content),
	})
}

// SendKeepAlive nudges the connection during long caller silence.
func (c *Client) SendKeepAlive() error {
	return c.writeJSON(map[string]string{"type": "KeepAlive"})
}

func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("agent: encode frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
