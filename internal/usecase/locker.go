package usecase

import (
	"context"
	"fmt"
	"sync"
)

// ConversationLocker hands out one mutex per conversation id on demand and
// retires it once the last holder releases. Append order inside one
// conversation is the order in which writers acquire the lock; different
// conversations never contend.
type ConversationLocker struct {
	mu    sync.Mutex
	locks map[string]*convMutex
}

type convMutex struct {
	mu       sync.Mutex
	refCount int
}

// NewConversationLocker creates an empty lock table.
func NewConversationLocker() *ConversationLocker {
	return &ConversationLocker{
		locks: make(map[string]*convMutex),
	}
}

// Lock blocks until the conversation's mutex is held or ctx ends. The
// returned unlock function must be called exactly once.
func (cl *ConversationLocker) Lock(ctx context.Context, conversationID string) (unlock func(), err error) {
	cl.mu.Lock()
	cm, ok := cl.locks[conversationID]
	if !ok {
		cm = &convMutex{}
		cl.locks[conversationID] = cm
	}
	cm.refCount++
	cl.mu.Unlock()

	release := func() {
		cm.mu.Unlock()
		cl.mu.Lock()
		cm.refCount--
		if cm.refCount == 0 {
			delete(cl.locks, conversationID)
		}
		cl.mu.Unlock()
	}

	acquired := make(chan struct{})
	go func() {
		cm.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return release, nil
	case <-ctx.Done():
		// The spawned acquire still completes eventually; hand the mutex
		// straight back so the entry never stays held by nobody.
		go func() {
			<-acquired
			release()
		}()
		return nil, fmt.Errorf("conversation lock: %w", ctx.Err())
	}
}

// ActiveCount reports how many conversation entries exist, held or pending.
// Test hook.
func (cl *ConversationLocker) ActiveCount() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.locks)
}
