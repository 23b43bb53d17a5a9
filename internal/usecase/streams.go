package usecase

import (
	"sync"

	"hearth/internal/domain"
)

// StreamTable enforces at most one live stream per conversation. Begin wins
// or fails atomically; there is no queueing of a second send.
type StreamTable struct {
	mu      sync.Mutex
	streams map[string]*domain.StreamHandle
}

// NewStreamTable creates an empty table.
func NewStreamTable() *StreamTable {
	return &StreamTable{
		streams: make(map[string]*domain.StreamHandle),
	}
}

// Begin registers a new stream for the conversation. Returns ErrBusy when
// one is already live.
func (t *StreamTable) Begin(conversationID string) (*domain.StreamHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, live := t.streams[conversationID]; live {
		return nil, domain.WrapOp("stream.begin", domain.ErrBusy)
	}
	h := domain.NewStreamHandle(conversationID)
	t.streams[conversationID] = h
	return h, nil
}

// Cancel requests cooperative cancellation of the conversation's live
// stream. Reports whether a live stream was found.
func (t *StreamTable) Cancel(conversationID string) bool {
	t.mu.Lock()
	h, live := t.streams[conversationID]
	t.mu.Unlock()

	if !live {
		return false
	}
	h.Cancel()
	return true
}

// End removes the handle once its stream reached a terminal state. The slot
// frees only here: a cancelled stream stays live until its partial content
// is persisted.
func (t *StreamTable) End(h *domain.StreamHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, live := t.streams[h.ConversationID()]; live && cur == h {
		delete(t.streams, h.ConversationID())
	}
}

// Live reports whether the conversation has a live stream.
func (t *StreamTable) Live(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, live := t.streams[conversationID]
	return live
}
