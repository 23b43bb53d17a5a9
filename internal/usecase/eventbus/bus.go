package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"hearth/internal/domain"
)

// DefaultCapacity is the per-subscriber queue depth when none is given.
const DefaultCapacity = 256

// ErrClosed is returned by Recv after the bus shuts down and the
// subscriber's queue is drained.
var ErrClosed = errors.New("eventbus: closed")

// Bus is an in-process broadcast bus. Every subscriber owns a bounded queue;
// Publish never blocks. A subscriber that falls behind loses its oldest
// undelivered events, keeps the newest, and is handed a synthetic
// system.lagged event carrying the miss count before the survivors, so it
// knows to resync from the store.
type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]*Subscription
	nextID   atomic.Uint64
	capacity int
	logger   *slog.Logger
	done     chan struct{}
	closed   atomic.Bool
}

// New creates a bus with the given per-subscriber queue capacity.
// capacity <= 0 selects DefaultCapacity. The capacity is fixed for the
// bus's lifetime.
func New(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subs:     make(map[uint64]*Subscription),
		capacity: capacity,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Publish fans the event out to all live subscribers without blocking.
// A full subscriber queue evicts its oldest undelivered event to make room,
// counting the eviction against that subscriber; the subscriber keeps the
// newest events. Publishing after Close is a no-op.
func (b *Bus) Publish(event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		// Full queue: evict the oldest undelivered event and take its slot.
		var dropped uint64
		select {
		case <-sub.ch:
			dropped++
		default:
		}
		select {
		case sub.ch <- event:
		default:
			// Another publisher refilled the freed slot first.
			dropped++
		}
		if dropped > 0 {
			missed := sub.missed.Add(dropped)
			if missed == dropped {
				b.logger.Warn("subscriber lagging, evicting oldest events",
					"subscriber", sub.id,
					"event", string(event.Type),
				)
			}
		}
	}
}

// Subscribe registers a new subscriber receiving every subsequent event.
// Callers must drain with Recv or TryRecv and Close the subscription when
// done.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		id:  b.nextID.Add(1),
		bus: b,
		ch:  make(chan domain.Event, b.capacity),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub
}

// Close shuts the bus down. Subsequent publishes are dropped; subscribers
// drain their queues and then receive ErrClosed. Idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	close(b.done)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one subscriber's bounded queue on the bus.
type Subscription struct {
	id     uint64
	bus    *Bus
	ch     chan domain.Event
	missed atomic.Uint64
	once   sync.Once
}

// Recv returns the next event, blocking until one is available, the context
// is cancelled, or the bus closes. When events were dropped for this
// subscriber, a system.lagged event with the miss count is delivered ahead
// of the surviving queue and the counter resets.
func (s *Subscription) Recv(ctx context.Context) (domain.Event, error) {
	// Lag notice before the queue: evictions are older than anything still
	// queued, so the resync point comes first.
	if missed := s.missed.Swap(0); missed > 0 {
		return domain.NewEvent(domain.EventSystemLagged, "", domain.LaggedPayload{Missed: missed}), nil
	}

	select {
	case ev := <-s.ch:
		return ev, nil
	case <-ctx.Done():
		return domain.Event{}, ctx.Err()
	case <-s.bus.done:
		// Drain what was queued before shutdown.
		select {
		case ev := <-s.ch:
			return ev, nil
		default:
			return domain.Event{}, ErrClosed
		}
	}
}

// TryRecv returns a queued event without blocking.
func (s *Subscription) TryRecv() (domain.Event, bool) {
	select {
	case ev := <-s.ch:
		return ev, true
	default:
		return domain.Event{}, false
	}
}

// Missed reports events dropped for this subscriber since the last lag
// notice.
func (s *Subscription) Missed() uint64 {
	return s.missed.Load()
}

// Close unsubscribes. Pending events are discarded. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}
