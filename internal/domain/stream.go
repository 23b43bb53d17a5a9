package domain

import (
	"sync/atomic"
	"time"
)

// StreamHandle represents one live assistant response. At most one exists per
// conversation; a second send while one is live fails with ErrBusy. The
// cancel flag is cooperative: the orchestrator checks it at chunk and
// tool-call boundaries rather than being preempted.
type StreamHandle struct {
	id             string
	conversationID string
	startedAt      time.Time
	cancelled      atomic.Bool
}

// NewStreamHandle creates a handle for a stream on the given conversation.
func NewStreamHandle(conversationID string) *StreamHandle {
	return &StreamHandle{
		id:             NewID(),
		conversationID: conversationID,
		startedAt:      time.Now(),
	}
}

// ID returns the stream's unique identifier.
func (h *StreamHandle) ID() string { return h.id }

// ConversationID returns the conversation this stream belongs to.
func (h *StreamHandle) ConversationID() string { return h.conversationID }

// StartedAt returns when the stream began.
func (h *StreamHandle) StartedAt() time.Time { return h.startedAt }

// Cancel requests cooperative cancellation. Safe to call from any goroutine,
// idempotent.
func (h *StreamHandle) Cancel() {
	h.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (h *StreamHandle) Cancelled() bool {
	return h.cancelled.Load()
}

// StreamState names the phases of one assistant response.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamBuildingContext
	StreamStreaming
	StreamCancelling
	StreamCompleted
	StreamCancelledPersisted
	StreamErrored
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamBuildingContext:
		return "building_context"
	case StreamStreaming:
		return "streaming"
	case StreamCancelling:
		return "cancelling"
	case StreamCompleted:
		return "completed"
	case StreamCancelledPersisted:
		return "cancelled_persisted"
	case StreamErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the stream's lifecycle.
func (s StreamState) Terminal() bool {
	switch s {
	case StreamCompleted, StreamCancelledPersisted, StreamErrored:
		return true
	}
	return false
}
