// Package server exposes the service's HTTP surface: the carrier voice
// webhook and media websocket, the kitchen dashboard API, and the SSE event
// feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pizzaline/pizzaline/pkg/agent"
	"github.com/pizzaline/pizzaline/pkg/bus"
	"github.com/pizzaline/pizzaline/pkg/config"
	"github.com/pizzaline/pizzaline/pkg/menu"
	"github.com/pizzaline/pizzaline/pkg/order"
	"github.com/pizzaline/pizzaline/pkg/relay"
	"github.com/pizzaline/pizzaline/pkg/session"
	"github.com/pizzaline/pizzaline/pkg/telephony"
)

// Dependencies carries the server's collaborators. Ledger and Events are
// required; a nil Menu uses the built-in one.
type Dependencies struct {
	Config config.Config
	Logger *slog.Logger
	Ledger *order.Ledger
	Events *bus.Bus
	Menu   *menu.Menu

	// DialAgent overrides the agent dialer, for tests. Nil dials the
	// configured agent endpoint.
	DialAgent func(ctx context.Context, callID string) (relay.AgentConn, error)
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	ledger *order.Ledger
	events *bus.Bus
	menu   *menu.Menu

	dialAgent func(ctx context.Context, callID string) (relay.AgentConn, error)

	mux      *http.ServeMux
	upgrader websocket.Upgrader

	// callCtx scopes live relays; Shutdown cancels it to drain calls.
	callCtx    context.Context
	callCancel context.CancelFunc
	calls      sync.WaitGroup
}

// New wires routes and the relay factory.
func New(deps Dependencies) (*Server, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("server: ledger is required")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("server: event bus is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Menu == nil {
		deps.Menu = menu.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		ledger:     deps.Ledger,
		events:     deps.Events,
		menu:       deps.Menu,
		dialAgent:  deps.DialAgent,
		mux:        http.NewServeMux(),
		callCtx:    ctx,
		callCancel: cancel,
	}
	if s.dialAgent == nil {
		s.dialAgent = s.dialConfiguredAgent
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /voice", s.handleVoice)
	s.mux.HandleFunc("/media", s.handleMedia)
	s.mux.HandleFunc("GET /api/orders", s.handleListOrders)
	s.mux.HandleFunc("GET /api/orders/{number}", s.handleGetOrder)
	s.mux.HandleFunc("POST /api/orders/{number}/status", s.handleAdvanceStatus)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = Recover(s.logger, h)
	h = AccessLog(s.logger, h)
	h = RequestID(h)
	return h
}

// Shutdown cancels live calls and waits for their relays to release both
// legs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.callCancel()
	done := make(chan struct{})
	go func() {
		s.calls.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleVoice answers the carrier's call webhook with the stream directive.
func (s *Server) handleVoice(w http.ResponseWriter, _ *http.Request) {
	doc, err := telephony.ConnectStreamTwiML(s.cfg.MediaStreamURL())
	if err != nil {
		s.logger.Error("render voice response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(doc)
}

// handleMedia upgrades to the media websocket and runs one call relay to
// completion.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("media upgrade failed", "error", err)
		return
	}

	callID := "call_" + uuid.NewString()
	sess := session.New(callID, s.menu, s.ledger, s.logger)
	rl, err := relay.New(relay.Dependencies{
		Telephony: conn,
		DialAgent: func(ctx context.Context) (relay.AgentConn, error) {
			return s.dialAgent(ctx, callID)
		},
		Session: sess,
		Events:  s.events,
		Logger:  s.logger,
		Config: relay.Config{
			AgentInRate:       s.cfg.AgentInRate,
			AgentOutRate:      s.cfg.AgentOutRate,
			OutboundQueueSize: s.cfg.OutboundQueueSize,
			IdleTimeout:       s.cfg.IdleTimeout,
			WriteTimeout:      s.cfg.WriteTimeout,
		},
	})
	if err != nil {
		s.logger.Error("relay setup failed", "error", err)
		_ = conn.Close()
		return
	}

	s.calls.Add(1)
	defer s.calls.Done()
	if err := rl.Run(s.callCtx); err != nil {
		s.logger.Error("call relay failed", "call_id", callID, "error", err)
	}
}

func (s *Server) dialConfiguredAgent(ctx context.Context, callID string) (relay.AgentConn, error) {
	return agent.Dial(ctx, agent.Config{
		URL:        s.cfg.AgentURL,
		APIKey:     s.cfg.AgentAPIKey,
		Language:   s.cfg.AgentLanguage,
		Greeting:   s.greeting(),
		Prompt:     s.prompt(),
		Listen:     agent.Provider{Type: "deepgram", Model: s.cfg.ListenModel},
		Think:      agent.Provider{Type: s.cfg.ThinkProvider, Model: s.cfg.ThinkModel},
		Speak:      agent.Provider{Type: "deepgram", Model: s.cfg.SpeakModel},
		InputRate:  s.cfg.AgentInRate,
		OutputRate: s.cfg.AgentOutRate,
		Functions:  session.Definitions(),
		Logger:     s.logger.With("call_id", callID),
	})
}

func (s *Server) greeting() string {
	if s.cfg.AgentGreeting != "" {
		return s.cfg.AgentGreeting
	}
	return "Hi! Welcome to Pizzaline. What can I get for you today?"
}

func (s *Server) prompt() string {
	if s.cfg.AgentPrompt != "" {
		return s.cfg.AgentPrompt
	}
	var b strings.Builder
	b.WriteString("You are Pizzaline, a friendly voice assistant for a pizza shop. ")
	b.WriteString("Keep responses short and conversational, at most two sentences. ")
	b.WriteString("Use the provided functions for every menu lookup and cart change. ")
	b.WriteString("Always read the order and phone number back before placing it.\n\n")
	b.WriteString("Menu: ")
	b.WriteString(s.menu.Summary)
	b.WriteString("\nItems: ")
	b.WriteString(strings.Join(s.menu.Flavors, ", "))
	b.WriteString("\nSizes: ")
	b.WriteString(strings.Join(s.menu.Sizes, ", "))
	return b.String()
}

func (s *Server) handleListOrders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"orders": s.ledger.ListActive()})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	o, err := s.ledger.Get(number)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "no order numbered "+number)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleAdvanceStatus(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}

	o, err := s.ledger.AdvanceStatus(r.Context(), number, order.Status(body.Status))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, o)
	case errors.Is(err, order.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", "no order numbered "+number)
	case errors.Is(err, order.ErrInvalidTransition):
		writeJSONError(w, http.StatusConflict, "invalid_transition", err.Error())
	default:
		s.logger.Error("advance status failed", "order_number", number, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "could not update the order")
	}
}

// handleEvents streams bus events as SSE until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := bus.FilterAll
	if r.URL.Query().Get("filter") == "orders" {
		filter = bus.FilterOrders
	}

	sw, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_ = sw.Ping()

	sub := s.events.Subscribe(filter)
	defer s.events.Unsubscribe(sub.ID)

	pingInterval := s.cfg.SSEPingInterval
	if pingInterval <= 0 {
		pingInterval = 15 * time.Second
	}
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.callCtx.Done():
			return
		case <-ping.C:
			if err := sw.Ping(); err != nil {
				return
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := sw.Send(ev.Type, ev); err != nil {
				return
			}
		}
	}
}
