package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType identifies an event on the bus. Types are namespaced by category
// with a dot separator so subscribers can filter on prefix.
type EventType string

// User intents, published by the action pump after draining the bridge.
const (
	EventUserSendMessage        EventType = "user.send_message"
	EventUserStopStreaming      EventType = "user.stop_streaming"
	EventUserNewConversation    EventType = "user.new_conversation"
	EventUserToggleTool         EventType = "user.toggle_tool"
	EventUserSelectConversation EventType = "user.select_conversation"
)

// Chat stream lifecycle, published by the orchestrator.
const (
	EventStreamStarted   EventType = "chat.stream.started"
	EventTextDelta       EventType = "chat.stream.text_delta"
	EventThinkingDelta   EventType = "chat.stream.thinking_delta"
	EventStreamCompleted EventType = "chat.stream.completed"
	EventStreamCancelled EventType = "chat.stream.cancelled"
	EventStreamError     EventType = "chat.stream.error"
	EventMessageSaved    EventType = "chat.message.saved"
)

// Tool lifecycle and registry mutations.
const (
	EventToolCallStarted   EventType = "tool.call.started"
	EventToolCallCompleted EventType = "tool.call.completed"
	EventToolToggled       EventType = "tool.toggled"
)

// Profile, conversation, and navigation events.
const (
	EventProfileSelected         EventType = "profile.selected"
	EventConversationCreated     EventType = "conversation.created"
	EventConversationSelected    EventType = "conversation.selected"
	EventConversationListChanged EventType = "conversation.list_changed"
	EventViewChanged             EventType = "navigation.view_changed"
)

// System events.
const (
	EventSystemError    EventType = "system.error"
	EventSystemLagged   EventType = "system.lagged"
	EventSystemShutdown EventType = "system.shutdown"
)

// Category returns the namespace prefix of the event type ("user", "chat",
// "tool", "conversation", "system", ...).
func (t EventType) Category() string {
	if i := strings.IndexByte(string(t), '.'); i > 0 {
		return string(t[:i])
	}
	return string(t)
}

// Event is the bus envelope. Payloads are pre-marshaled so an event can be
// fanned out to many subscribers without copying; large content (full
// transcripts, tool outputs) is carried by identifier, not inline.
type Event struct {
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event, marshaling the payload. A payload that fails to
// marshal is dropped rather than poisoning the bus.
func NewEvent(t EventType, conversationID string, payload any) Event {
	ev := Event{
		Type:           t,
		Timestamp:      time.Now(),
		ConversationID: conversationID,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// DecodePayload unmarshals the event payload into v.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return WrapOpDetail("event.decode", ErrInvalidInput, "empty payload")
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return WrapOpDetail("event.decode", ErrInvalidInput, err.Error())
	}
	return nil
}

// --- Payloads ---

// SendMessagePayload accompanies EventUserSendMessage.
type SendMessagePayload struct {
	Text string `json:"text"`
}

// ToggleToolPayload accompanies EventUserToggleTool.
type ToggleToolPayload struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// StreamStartedPayload accompanies EventStreamStarted.
type StreamStartedPayload struct {
	StreamID string `json:"stream_id"`
	Model    string `json:"model"`
}

// DeltaPayload accompanies text and thinking delta events.
type DeltaPayload struct {
	Text string `json:"text"`
}

// ToolCallStartedPayload accompanies EventToolCallStarted.
type ToolCallStartedPayload struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
}

// ToolCallCompletedPayload accompanies EventToolCallCompleted. Exactly one is
// published per started call, after the final retry attempt.
type ToolCallCompletedPayload struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StreamCompletedPayload accompanies EventStreamCompleted.
type StreamCompletedPayload struct {
	StreamID  string `json:"stream_id"`
	MessageID string `json:"message_id"`
	Tokens    int    `json:"tokens"`
}

// StreamCancelledPayload accompanies EventStreamCancelled. PartialText is the
// exact concatenation of the text deltas delivered before cancellation.
type StreamCancelledPayload struct {
	StreamID    string `json:"stream_id"`
	PartialText string `json:"partial_text"`
}

// StreamErrorPayload accompanies EventStreamError.
type StreamErrorPayload struct {
	StreamID  string    `json:"stream_id,omitempty"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// MessageSavedPayload accompanies EventMessageSaved. The message body is
// fetched from the store by ID.
type MessageSavedPayload struct {
	MessageID string `json:"message_id"`
	Role      Role   `json:"role"`
}

// ToolToggledPayload accompanies EventToolToggled.
type ToolToggledPayload struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// ConversationPayload accompanies conversation created/selected events.
type ConversationPayload struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title,omitempty"`
}

// ViewChangedPayload accompanies EventViewChanged.
type ViewChangedPayload struct {
	View string `json:"view"`
}

// SystemErrorPayload accompanies EventSystemError, including presenter faults.
type SystemErrorPayload struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

// LaggedPayload accompanies EventSystemLagged, synthesized by the bus for a
// subscriber that fell behind and was fast-forwarded.
type LaggedPayload struct {
	Missed uint64 `json:"missed"`
}
