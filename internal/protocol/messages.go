package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeSubmitMessage  MessageType = "submit_message"
	TypeAssistantReply MessageType = "assistant_reply"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// SubmitMessage is the only inbound payload: one user message bound to a
// conversation.
type SubmitMessage struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Content        string      `json:"content"`
}

// AssistantReply carries the generated answer back to the client.
// MessageID names the user message this reply answers, so clients can
// correlate replies when several submissions are in flight.
type AssistantReply struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	MessageID      string      `json:"message_id"`
	Content        string      `json:"content"`
}

// ErrorEvent reports a client-visible failure for one submission.
type ErrorEvent struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Code           string      `json:"code"`
	Detail         string      `json:"detail,omitempty"`
}

// Error codes surfaced to clients.
const (
	CodeInvalidMessage      = "invalid_message"
	CodeUnknownConversation = "unknown_conversation"
	CodeProcessingFailed    = "processing_failed"
)

func NewAssistantReply(conversationID, messageID, content string) AssistantReply {
	return AssistantReply{
		Type:           TypeAssistantReply,
		ConversationID: conversationID,
		MessageID:      messageID,
		Content:        content,
	}
}

func NewErrorEvent(conversationID, code, detail string) ErrorEvent {
	return ErrorEvent{
		Type:           TypeErrorEvent,
		ConversationID: conversationID,
		Code:           code,
		Detail:         detail,
	}
}

// ParseClientMessage decodes and validates one inbound frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSubmitMessage:
		var msg SubmitMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ConversationID == "" || strings.TrimSpace(msg.Content) == "" {
			return nil, errors.New("invalid submit_message")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
