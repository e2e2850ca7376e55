// Package relay bridges one phone call to one agent conversation: a
// telephony websocket on one side, the agent client on the other, with codec
// conversion in between and the conversation session driven by agent
// function calls.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pizzaline/pizzaline/pkg/agent"
	"github.com/pizzaline/pizzaline/pkg/audio"
	"github.com/pizzaline/pizzaline/pkg/bus"
	"github.com/pizzaline/pizzaline/pkg/session"
	"github.com/pizzaline/pizzaline/pkg/telephony"
)

// TelephonyConn is the carrier websocket surface the relay needs.
type TelephonyConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// AgentConn is the agent client surface the relay needs.
type AgentConn interface {
	ReadEvent() (any, error)
	SendAudio(pcm []byte) error
	SendFunctionResult(id, name string, result any) error
	Close() error
}

// Config tunes one relay. Zero values take defaults in New.
type Config struct {
	AgentInRate  int
	AgentOutRate int

	// TelephonyFrameBytes is the mu-law payload size of one outbound media
	// message. 160 bytes is 20ms at 8kHz.
	TelephonyFrameBytes int

	OutboundQueueSize int
	IdleTimeout       time.Duration
	WriteTimeout      time.Duration
}

// Dependencies carries the relay's collaborators. Telephony, DialAgent, and
// Session are required.
type Dependencies struct {
	Telephony TelephonyConn
	DialAgent func(ctx context.Context) (AgentConn, error)
	Session   *session.Session
	Events    *bus.Bus
	Logger    *slog.Logger
	Config    Config
}

// Relay runs one call end to end.
type Relay struct {
	telephony TelephonyConn
	dialAgent func(ctx context.Context) (AgentConn, error)
	session   *session.Session
	events    *bus.Bus
	logger    *slog.Logger
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	streamSID string
	callSID   string

	outbound chan []byte

	lastActivity atomic.Int64
	lastSeq      atomic.Int64

	closeOnce sync.Once
}

// New validates dependencies and applies defaults.
func New(deps Dependencies) (*Relay, error) {
	if deps.Telephony == nil {
		return nil, fmt.Errorf("relay: telephony connection is required")
	}
	if deps.DialAgent == nil {
		return nil, fmt.Errorf("relay: agent dialer is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("relay: session is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg := deps.Config
	if cfg.AgentInRate <= 0 {
		cfg.AgentInRate = 16000
	}
	if cfg.AgentOutRate <= 0 {
		cfg.AgentOutRate = 16000
	}
	if cfg.TelephonyFrameBytes <= 0 {
		cfg.TelephonyFrameBytes = 160
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 64
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	r := &Relay{
		telephony: deps.Telephony,
		dialAgent: deps.DialAgent,
		session:   deps.Session,
		events:    deps.Events,
		logger:    deps.Logger.With("call_id", deps.Session.CallID),
		cfg:       cfg,
		outbound:  make(chan []byte, cfg.OutboundQueueSize),
	}
	r.lastSeq.Store(-1)
	return r, nil
}

// Run drives the call until either leg closes, the agent fails, or the idle
// timeout fires. It always releases both connections and settles the
// session phase before returning.
func (r *Relay) Run(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	defer r.cancel()

	r.touch()

	// The carrier speaks first: wait for the start frame before dialing the
	// agent so a dead upgrade never burns an agent connection.
	start, err := r.awaitStart()
	if err != nil {
		r.shutdown(nil)
		return err
	}
	r.streamSID = start.StreamID()
	r.callSID = start.Info.CallSID
	r.logger = r.logger.With("stream_sid", r.streamSID)
	r.logger.Info("call started", "call_sid", r.callSID)
	r.publish(bus.Event{Type: bus.EventCallStarted, CallID: r.session.CallID, Data: map[string]any{
		"stream_sid": r.streamSID,
		"call_sid":   r.callSID,
	}})

	agentConn, err := r.dialAgent(r.ctx)
	if err != nil {
		r.shutdown(nil)
		return fmt.Errorf("relay: dial agent: %w", err)
	}

	upsample, err := audio.NewResampler(audio.TelephonyRate, r.cfg.AgentInRate)
	if err != nil {
		r.shutdown(agentConn)
		return fmt.Errorf("relay: uplink resampler: %w", err)
	}
	downsample, err := audio.NewResampler(r.cfg.AgentOutRate, audio.TelephonyRate)
	if err != nil {
		r.shutdown(agentConn)
		return fmt.Errorf("relay: downlink resampler: %w", err)
	}

	errs := make(chan error, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		errs <- r.telephonyLoop(agentConn, upsample)
	}()
	go func() {
		defer wg.Done()
		errs <- r.agentLoop(agentConn, downsample)
	}()
	go func() {
		defer wg.Done()
		errs <- r.writerLoop()
	}()

	idle := time.NewTicker(r.cfg.IdleTimeout / 4)
	defer idle.Stop()

	var cause error
	for cause == nil {
		select {
		case <-r.ctx.Done():
			cause = r.ctx.Err()
		case err := <-errs:
			if err == nil {
				err = errFinished
			}
			cause = err
		case <-idle.C:
			if time.Since(time.Unix(0, r.lastActivity.Load())) > r.cfg.IdleTimeout {
				cause = errIdle
			}
		}
	}

	r.shutdown(agentConn)
	wg.Wait()

	r.session.Abort()
	r.logger.Info("call ended",
		"phase", string(r.session.Phase()),
		"order_number", r.session.OrderNumber(),
		"reason", terminationReason(cause))
	r.publish(bus.Event{Type: bus.EventCallEnded, CallID: r.session.CallID, Data: map[string]any{
		"phase":        string(r.session.Phase()),
		"order_number": r.session.OrderNumber(),
		"reason":       terminationReason(cause),
	}})

	if errors.Is(cause, errFinished) || errors.Is(cause, errIdle) || errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

var (
	errFinished = errors.New("relay: leg closed")
	errIdle     = errors.New("relay: idle timeout")
)

func terminationReason(cause error) string {
	switch {
	case errors.Is(cause, errIdle):
		return "idle_timeout"
	case errors.Is(cause, errFinished), errors.Is(cause, context.Canceled), cause == nil:
		return "hangup"
	default:
		return "error"
	}
}

func (r *Relay) touch() {
	r.lastActivity.Store(time.Now().UnixNano())
}

func (r *Relay) publish(e bus.Event) {
	if r.events != nil {
		r.events.Publish(e)
	}
}

// awaitStart consumes telephony frames until the stream opens.
func (r *Relay) awaitStart() (telephony.Start, error) {
	for {
		msgType, data, err := r.telephony.ReadMessage()
		if err != nil {
			return telephony.Start{}, fmt.Errorf("relay: read before start: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := telephony.DecodeMessage(data)
		if err != nil {
			r.logger.Warn("undecodable frame before start", "error", err)
			continue
		}
		switch m := msg.(type) {
		case telephony.Connected:
			continue
		case telephony.Start:
			r.touch()
			return m, nil
		case telephony.Stop:
			return telephony.Start{}, fmt.Errorf("relay: stream stopped before start")
		default:
			continue
		}
	}
}

// telephonyLoop forwards caller audio up to the agent.
func (r *Relay) telephonyLoop(agentConn AgentConn, upsample *audio.Resampler) error {
	for {
		msgType, data, err := r.telephony.ReadMessage()
		if err != nil {
			if r.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: telephony read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := telephony.DecodeMessage(data)
		if err != nil {
			r.logger.Warn("undecodable telephony frame", "error", err)
			continue
		}

		switch m := msg.(type) {
		case telephony.Media:
			r.touch()
			r.noteSeq(m.Seq())
			ulaw, err := m.Audio()
			if err != nil {
				r.logger.Warn("dropping media frame", "error", err)
				continue
			}
			pcm, err := upsample.Process(audio.DecodeULaw(ulaw))
			if err != nil {
				return fmt.Errorf("relay: upsample caller audio: %w", err)
			}
			if len(pcm) == 0 {
				continue
			}
			if err := agentConn.SendAudio(audio.PCMToBytes(pcm)); err != nil {
				if r.ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("relay: forward caller audio: %w", err)
			}
		case telephony.Stop:
			r.logger.Info("stream stopped by carrier")
			return errFinished
		case telephony.Mark:
			// Playback acknowledgements are ignored.
		case telephony.Start:
			r.logger.Warn("duplicate start frame ignored")
		}
	}
}

// noteSeq logs sequence gaps. Diagnostics only; frames are never reordered
// or dropped on gaps.
func (r *Relay) noteSeq(seq int64) {
	if seq < 0 {
		return
	}
	prev := r.lastSeq.Swap(seq)
	if prev >= 0 && seq != prev+1 {
		r.logger.Warn("media sequence gap", "prev", prev, "seq", seq)
	}
}

// agentLoop consumes agent events. Function calls are answered before any
// later frame is read, so a tool result always lands before the speech that
// refers to it.
func (r *Relay) agentLoop(agentConn AgentConn, downsample *audio.Resampler) error {
	frames := audio.NewFrameBuffer(0)

	for {
		ev, err := agentConn.ReadEvent()
		if err != nil {
			if r.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: agent read: %w", err)
		}
		r.touch()

		switch m := ev.(type) {
		case agent.Audio:
			if err := r.forwardAgentAudio(m, downsample, frames); err != nil {
				return err
			}
		case agent.FunctionCallRequest:
			for _, fc := range m.Functions {
				result, err := r.session.Dispatch(r.ctx, fc.Name, json.RawMessage(fc.Arguments))
				if err != nil {
					r.logger.Error("tool dispatch failed", "tool", fc.Name, "error", err)
					result = session.Result{"ok": false, "code": "InternalError", "message": "the request could not be completed"}
				}
				if err := agentConn.SendFunctionResult(fc.ID, fc.Name, result); err != nil {
					if r.ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("relay: answer function call: %w", err)
				}
			}
		case agent.ConversationText:
			r.logger.Info("transcript", "role", m.Role, "content", m.Content)
		case agent.UserStartedSpeaking:
			frames.Drain()
			r.enqueueClear()
		case agent.AgentAudioDone:
			r.flushFrames(frames, true)
		case agent.ServerError:
			return fmt.Errorf("relay: agent error: %w", m)
		case agent.Unknown:
			r.logger.Debug("skipping unknown agent event", "type", m.EventType)
		default:
			// Welcome, SettingsApplied, and the like need no action.
		}
	}
}

// forwardAgentAudio downsamples one PCM frame, mu-law encodes it, and cuts
// it into fixed-size media payloads.
func (r *Relay) forwardAgentAudio(pcmBytes []byte, downsample *audio.Resampler, frames *audio.FrameBuffer) error {
	pcm, err := audio.BytesToPCM(pcmBytes)
	if err != nil {
		r.logger.Warn("dropping malformed agent audio frame", "error", err)
		return nil
	}
	out, err := downsample.Process(pcm)
	if err != nil {
		return fmt.Errorf("relay: downsample agent audio: %w", err)
	}
	if len(out) == 0 {
		return nil
	}
	frames.Push(audio.EncodeULaw(out))
	r.flushFrames(frames, false)
	return nil
}

// flushFrames emits complete media payloads; final also emits the trailing
// partial frame at a turn boundary.
func (r *Relay) flushFrames(frames *audio.FrameBuffer, final bool) {
	for {
		chunk, ok := frames.Pop(r.cfg.TelephonyFrameBytes)
		if !ok {
			break
		}
		r.enqueueMedia(chunk)
	}
	if final {
		if rest := frames.Drain(); len(rest) > 0 {
			r.enqueueMedia(rest)
		}
	}
}

func (r *Relay) enqueueMedia(ulaw []byte) {
	frame, err := telephony.EncodeMedia(r.streamSID, ulaw)
	if err != nil {
		r.logger.Error("encode media frame", "error", err)
		return
	}
	r.enqueue(frame)
}

func (r *Relay) enqueueClear() {
	frame, err := telephony.EncodeClear(r.streamSID)
	if err != nil {
		r.logger.Error("encode clear frame", "error", err)
		return
	}
	r.enqueue(frame)
}

// enqueue queues one outbound telephony frame, shedding the oldest queued
// frame when the phone leg cannot keep up. Single producer: only the agent
// loop enqueues.
func (r *Relay) enqueue(frame []byte) {
	for {
		select {
		case r.outbound <- frame:
			return
		default:
		}
		select {
		case <-r.outbound:
			r.logger.Warn("telephony outbound queue full, dropping oldest frame")
		default:
		}
	}
}

// writerLoop is the only writer on the telephony leg.
func (r *Relay) writerLoop() error {
	for {
		select {
		case <-r.ctx.Done():
			return nil
		case frame := <-r.outbound:
			_ = r.telephony.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
			if err := r.telephony.WriteMessage(websocket.TextMessage, frame); err != nil {
				if r.ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("relay: telephony write: %w", err)
			}
		}
	}
}

// shutdown closes both legs exactly once and unblocks the loops.
func (r *Relay) shutdown(agentConn AgentConn) {
	r.closeOnce.Do(func() {
		r.cancel()
		_ = r.telephony.Close()
		if agentConn != nil {
			_ = agentConn.Close()
		}
	})
}
