// Package telephony implements the carrier media-stream wire protocol: JSON
// control frames over a websocket, with call audio carried as base64 G.711
// mu-law in media frames.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// Start opens a stream: one per call, before any media.
type Start struct {
	Event string `json:"event"`
	Info  struct {
		StreamSID  string            `json:"streamSid"`
		AccountSID string            `json:"accountSid"`
		CallSID    string            `json:"callSid"`
		Parameters map[string]string `json:"customParameters"`
		MediaFormat struct {
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sampleRate"`
			Channels   int    `json:"channels"`
		} `json:"mediaFormat"`
	} `json:"start"`
	StreamSID string `json:"streamSid"`
}

// Media carries one frame of caller audio.
type Media struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber"`
	StreamSID      string `json:"streamSid"`
	Payload        struct {
		Track     string `json:"track"`
		Chunk     string `json:"chunk"`
		Timestamp string `json:"timestamp"`
		Data      string `json:"payload"`
	} `json:"media"`
}

// Audio decodes the base64 mu-law payload.
func (m Media) Audio() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(m.Payload.Data)
	if err != nil {
		return nil, badFrame("media payload is not valid base64", "media.payload")
	}
	return raw, nil
}

// Seq parses the sequence number, -1 when absent or malformed. Sequence gaps
// are diagnostic only and never affect forwarding.
func (m Media) Seq() int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(m.SequenceNumber), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// Stop closes a stream. No frames follow it.
type Stop struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Info      struct {
		CallSID string `json:"callSid"`
	} `json:"stop"`
}

// Mark acknowledges playback of a named audio chunk.
type Mark struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Payload   struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// Connected is the handshake frame some carriers send before start.
type Connected struct {
	Event    string `json:"event"`
	Protocol string `json:"protocol"`
	Version  string `json:"version"`
}

// DecodeMessage parses one inbound frame into its typed form. The returned
// value is one of Connected, Start, Media, Stop, or Mark.
func DecodeMessage(data []byte) (any, error) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return nil, badFrame("missing event", "event")
	}

	switch event {
	case "connected":
		var msg Connected
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid connected frame", "")
		}
		return msg, nil
	case "start":
		var msg Start
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid start frame", "")
		}
		if strings.TrimSpace(msg.Info.StreamSID) == "" && strings.TrimSpace(msg.StreamSID) == "" {
			return nil, badFrame("start.streamSid is required", "start.streamSid")
		}
		return msg, nil
	case "media":
		var msg Media
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid media frame", "")
		}
		if strings.TrimSpace(msg.Payload.Data) == "" {
			return nil, badFrame("media.payload is required", "media.payload")
		}
		return msg, nil
	case "stop":
		var msg Stop
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid stop frame", "")
		}
		return msg, nil
	case "mark":
		var msg Mark
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid mark frame", "")
		}
		return msg, nil
	default:
		return nil, &DecodeError{Code: "unsupported", Message: "unknown event " + event, Param: "event"}
	}
}

// StreamID returns the stream identifier from a start frame, preferring the
// nested field.
func (s Start) StreamID() string {
	if sid := strings.TrimSpace(s.Info.StreamSID); sid != "" {
		return sid
	}
	return strings.TrimSpace(s.StreamSID)
}

// EncodeMedia builds an outbound media frame carrying mu-law audio.
func EncodeMedia(streamSID string, ulaw []byte) ([]byte, error) {
	frame := map[string]any{
		"event":     "media",
		"streamSid": streamSID,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(ulaw),
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("telephony: encode media: %w", err)
	}
	return data, nil
}

// EncodeClear builds the frame that flushes buffered carrier playback, used
// when the agent is interrupted mid-utterance.
func EncodeClear(streamSID string) ([]byte, error) {
	data, err := json.Marshal(map[string]any{
		"event":     "clear",
		"streamSid": streamSID,
	})
	if err != nil {
		return nil, fmt.Errorf("telephony: encode clear: %w", err)
	}
	return data, nil
}

// EncodeMark builds a named playback marker frame.
func EncodeMark(streamSID, name string) ([]byte, error) {
	data, err := json.Marshal(map[string]any{
		"event":     "mark",
		"streamSid": streamSID,
		"mark":      map[string]string{"name": name},
	})
	if err != nil {
		return nil, fmt.Errorf("telephony: encode mark: %w", err)
	}
	return data, nil
}
