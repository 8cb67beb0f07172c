package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientMessageSubmit(t *testing.T) {
	raw := []byte(`{"type":"submit_message","conversation_id":"c1","content":"hello there"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	submit, ok := msg.(SubmitMessage)
	if !ok {
		t.Fatalf("message type = %T, want SubmitMessage", msg)
	}
	if submit.ConversationID != "c1" || submit.Content != "hello there" {
		t.Fatalf("unexpected submit message: %+v", submit)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func TestParseClientMessageRejectsInvalidSubmit(t *testing.T) {
	cases := []string{
		`{"type":"submit_message","conversation_id":"","content":"hi"}`,
		`{"type":"submit_message","conversation_id":"c1","content":""}`,
		`{"type":"submit_message","conversation_id":"c1","content":"   "}`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Errorf("ParseClientMessage(%s) expected validation error", raw)
		}
	}
}

func TestOutboundConstructors(t *testing.T) {
	reply := NewAssistantReply("c1", "m1", "hello")
	data, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if decoded["type"] != string(TypeAssistantReply) || decoded["message_id"] != "m1" {
		t.Fatalf("unexpected reply payload: %v", decoded)
	}

	evt := NewErrorEvent("", CodeInvalidMessage, "bad frame")
	data, err = json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal error event: %v", err)
	}
	decoded = nil
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error event: %v", err)
	}
	if _, present := decoded["conversation_id"]; present {
		t.Fatalf("empty conversation_id should be omitted: %v", decoded)
	}
	if decoded["code"] != CodeInvalidMessage {
		t.Fatalf("code = %v", decoded["code"])
	}
}
