package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound event types. The wire carries JSON text frames with a "type"
// discriminator plus raw binary frames of PCM agent speech.

// Welcome is the server's first frame after connect.
type Welcome struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

// SettingsApplied acknowledges the settings handshake.
type SettingsApplied struct {
	Type string `json:"type"`
}

// ConversationText is a transcript line for either role.
type ConversationText struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserStartedSpeaking signals barge-in: buffered agent playback should be
// flushed.
type UserStartedSpeaking struct {
	Type string `json:"type"`
}

// AgentAudioDone marks the end of one spoken agent turn.
type AgentAudioDone struct {
	Type string `json:"type"`
}

// FunctionCall is one requested invocation inside a FunctionCallRequest.
// Arguments is a JSON object encoded as a string.
type FunctionCall struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	ClientSide bool   `json:"client_side"`
}

// FunctionCallRequest asks the client to run one or more functions and
// answer with FunctionCallResponse frames.
type FunctionCallRequest struct {
	Type      string         `json:"type"`
	Functions []FunctionCall `json:"functions"`
}

// ServerError is a fatal protocol or upstream failure.
type ServerError struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

func (e ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agent: %s (%s)", e.Description, e.Code)
	}
	return "agent: " + e.Description
}

// Unknown wraps an event type this client does not handle. Callers log and
// skip it.
type Unknown struct {
	EventType string
	Raw       []byte
}

// Audio is one binary frame of PCM agent speech.
type Audio []byte

// DecodeEvent parses one inbound JSON text frame. The returned value is one
// of Welcome, SettingsApplied, ConversationText, UserStartedSpeaking,
// AgentAudioDone, FunctionCallRequest, ServerError, or Unknown.
func DecodeEvent(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("agent: invalid event frame: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)

	switch typ {
	case "Welcome":
		var msg Welcome
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("agent: invalid Welcome: %w", err)
		}
		return msg, nil
	case "SettingsApplied":
		return SettingsApplied{Type: typ}, nil
	case "ConversationText":
		var msg ConversationText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("agent: invalid ConversationText: %w", err)
		}
		return msg, nil
	case "UserStartedSpeaking":
		return UserStartedSpeaking{Type: typ}, nil
	case "AgentAudioDone":
		return AgentAudioDone{Type: typ}, nil
	case "FunctionCallRequest":
		var msg FunctionCallRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("agent: invalid FunctionCallRequest: %w", err)
		}
		if len(msg.Functions) == 0 {
			return nil, fmt.Errorf("agent: FunctionCallRequest carries no functions")
		}
		return msg, nil
	case "Error":
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("agent: invalid Error: %w", err)
		}
		return msg, nil
	default:
		return Unknown{EventType: typ, Raw: data}, nil
	}
}
