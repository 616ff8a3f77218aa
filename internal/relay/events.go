// Package relay multiplexes live chat sessions between WebSocket clients
// and the inference backend.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/codefionn/chatrelay/internal/chat"
)

// Outbound event types
const (
	EventTypeWelcome        = "welcome"
	EventTypeHistoryLoaded  = "history_loaded"
	EventTypeStreamStart    = "stream_start"
	EventTypeStream         = "stream"
	EventTypeStreamEnd      = "stream_end"
	EventTypeHistoryCleared = "history_cleared"
	EventTypeError          = "error"
	EventTypeSystem         = "system"
)

// Inbound event types
const (
	eventTypeMessage      = "message"
	eventTypeClearHistory = "clear_history"
)

// Event is an outbound JSON event delivered to the client.
type Event struct {
	Type             string         `json:"type"`
	Model            string         `json:"model,omitempty"`
	ModelDisplayName string         `json:"modelDisplayName,omitempty"`
	Content          string         `json:"content,omitempty"`
	Messages         []chat.Message `json:"messages,omitempty"`
}

// WelcomeEvent greets a freshly connected client with the raw and
// normalized model names.
func WelcomeEvent(model, displayName string) Event {
	return Event{Type: EventTypeWelcome, Model: model, ModelDisplayName: displayName}
}

// HistoryLoadedEvent replays previously persisted messages.
func HistoryLoadedEvent(messages []chat.Message) Event {
	return Event{Type: EventTypeHistoryLoaded, Messages: messages}
}

// StreamStartEvent announces that a generation started.
func StreamStartEvent() Event {
	return Event{Type: EventTypeStreamStart}
}

// StreamEvent carries one generated fragment.
func StreamEvent(fragment string) Event {
	return Event{Type: EventTypeStream, Content: fragment}
}

// StreamEndEvent announces that a generation finished, successfully or not.
func StreamEndEvent() Event {
	return Event{Type: EventTypeStreamEnd}
}

// HistoryClearedEvent confirms a clear request.
func HistoryClearedEvent() Event {
	return Event{Type: EventTypeHistoryCleared}
}

// ErrorEvent reports a non-terminal failure to the client.
func ErrorEvent(message string) Event {
	return Event{Type: EventTypeError, Content: message}
}

// SystemEvent reports a terminal condition, sent once before close.
func SystemEvent(message string) Event {
	return Event{Type: EventTypeSystem, Content: message}
}

// InboundEvent is the closed set of events a client may send.
type InboundEvent interface {
	isInbound()
}

// MessageEvent submits a user turn.
type MessageEvent struct {
	Content string
}

func (MessageEvent) isInbound() {}

// ClearHistoryEvent resets the bound conversation.
type ClearHistoryEvent struct{}

func (ClearHistoryEvent) isInbound() {}

// ProtocolError reports an inbound payload that violates the protocol.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol violation: " + e.Reason
}

// DecodeInbound parses a raw inbound payload into its variant, failing
// fast on malformed JSON or unrecognized type tags.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var raw struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed event: %v", err)}
	}

	switch raw.Type {
	case eventTypeMessage:
		return MessageEvent{Content: raw.Content}, nil
	case eventTypeClearHistory:
		return ClearHistoryEvent{}, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unrecognized event type %q", raw.Type)}
	}
}
