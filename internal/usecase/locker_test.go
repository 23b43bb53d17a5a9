package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerSerializesPerConversation(t *testing.T) {
	locker := NewConversationLocker()
	ctx := context.Background()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	unlock, err := locker.Lock(ctx, "c1")
	require.NoError(t, err)

	wg.Add(1)
	go func() {
		defer wg.Done()
		u, err := locker.Lock(ctx, "c1")
		require.NoError(t, err)
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		u()
	}()

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	unlock()
	wg.Wait()

	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 0, locker.ActiveCount(), "table cleans up after release")
}

func TestLockerIndependentConversations(t *testing.T) {
	locker := NewConversationLocker()
	ctx := context.Background()

	u1, err := locker.Lock(ctx, "c1")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		u2, err := locker.Lock(ctx, "c2")
		require.NoError(t, err)
		u2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different conversations must not contend")
	}
	u1()
}

func TestLockerContextCancellation(t *testing.T) {
	locker := NewConversationLocker()

	unlock, err := locker.Lock(context.Background(), "c1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "c1")
	assert.Error(t, err)

	unlock()

	// The abandoned acquisition must release itself so the lock stays usable.
	assert.Eventually(t, func() bool {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel2()
		u, err := locker.Lock(ctx2, "c1")
		if err != nil {
			return false
		}
		u()
		return true
	}, time.Second, 10*time.Millisecond)
}
