package agent

import (
	"encoding/json"
	"testing"
)

func TestDecodeEventTypes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{
			"welcome",
			`{"type":"Welcome","request_id":"req-1"}`,
			Welcome{Type: "Welcome", RequestID: "req-1"},
		},
		{
			"settings applied",
			`{"type":"SettingsApplied"}`,
			SettingsApplied{Type: "SettingsApplied"},
		},
		{
			"conversation text",
			`{"type":"ConversationText","role":"assistant","content":"What size?"}`,
			ConversationText{Type: "ConversationText", Role: "assistant", Content: "What size?"},
		},
		{
			"user started speaking",
			`{"type":"UserStartedSpeaking"}`,
			UserStartedSpeaking{Type: "UserStartedSpeaking"},
		},
		{
			"agent audio done",
			`{"type":"AgentAudioDone"}`,
			AgentAudioDone{Type: "AgentAudioDone"},
		},
		{
			"error",
			`{"type":"Error","description":"boom","code":"internal"}`,
			ServerError{Type: "Error", Description: "boom", Code: "internal"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.raw))
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if got != tt.want {
				t.Fatalf("DecodeEvent = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeFunctionCallRequest(t *testing.T) {
	raw := `{
		"type": "FunctionCallRequest",
		"functions": [
			{"id": "fc-1", "name": "add_item", "arguments": "{\"item\":\"margherita\"}", "client_side": true}
		]
	}`
	got, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	req, ok := got.(FunctionCallRequest)
	if !ok {
		t.Fatalf("decoded %T, want FunctionCallRequest", got)
	}
	if len(req.Functions) != 1 {
		t.Fatalf("functions = %d, want 1", len(req.Functions))
	}
	fc := req.Functions[0]
	if fc.ID != "fc-1" || fc.Name != "add_item" || !fc.ClientSide {
		t.Fatalf("function = %#v", fc)
	}
	var args struct {
		Item string `json:"item"`
	}
	if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
		t.Fatalf("arguments not a JSON object string: %v", err)
	}
	if args.Item != "margherita" {
		t.Fatalf("arguments item = %q, want margherita", args.Item)
	}
}

func TestDecodeFunctionCallRequestRejectsEmpty(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":"FunctionCallRequest","functions":[]}`)); err == nil {
		t.Fatal("DecodeEvent accepted a request with no functions")
	}
}

func TestDecodeEventUnknownType(t *testing.T) {
	got, err := DecodeEvent([]byte(`{"type":"PromptUpdated"}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	unk, ok := got.(Unknown)
	if !ok || unk.EventType != "PromptUpdated" {
		t.Fatalf("decoded %#v, want Unknown PromptUpdated", got)
	}
}

func TestDecodeEventRejectsInvalidJSON(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{{`)); err == nil {
		t.Fatal("DecodeEvent accepted invalid json")
	}
}

func TestServerErrorMessage(t *testing.T) {
	e := ServerError{Description: "quota exceeded", Code: "too_many_requests"}
	if got := e.Error(); got != "agent: quota exceeded (too_many_requests)" {
		t.Fatalf("Error() = %q", got)
	}
}
