// Package subscription fans the event log out to live subscribers.
//
// A subscription replays the log from a requested sequence, then switches to
// live delivery, with no duplicates and no gaps. Slow consumers are closed
// with ErrLagged rather than blocking the append path.
package subscription

import (
	"context"
	"errors"
	"sync"

	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/eventstore"
)

// ErrLagged closes a subscription whose consumer fell behind the bounded
// buffer. The client reconnects from its last acknowledged sequence.
var ErrLagged = errors.New("subscriber lagged behind buffer")

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("subscription hub closed")

// DefaultBuffer is the per-subscriber queue bound.
const DefaultBuffer = 256

// Hub bridges the event store's append notifications to subscribers.
type Hub struct {
	store  eventstore.Store
	buffer int

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewHub creates a hub over store. Wire the hub as the store's append
// notifier before the first append.
func NewHub(store eventstore.Store, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{store: store, buffer: buffer, subs: make(map[uint64]*Subscription)}
}

// EventAppended implements eventstore.Notifier. Called in sequence order;
// the memory and SQL stores both notify under their append lock.
func (h *Hub) EventAppended(e *events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		select {
		case sub.live <- e:
		default:
			// Buffer full: the consumer lagged. Close it rather than
			// blocking the append path.
			sub.fail(ErrLagged)
			delete(h.subs, id)
		}
	}
}

// Subscription is one subscriber's ordered event feed. Read Events until it
// closes, then check Err.
type Subscription struct {
	// Events delivers the feed in strictly increasing sequence order.
	Events <-chan *events.Event

	hub  *Hub
	id   uint64
	out  chan *events.Event
	live chan *events.Event
	done chan struct{}

	errMu    sync.Mutex
	err      error
	failOnce sync.Once
}

// Err reports why the feed closed; nil after a clean Close.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close detaches the subscription.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
	s.fail(nil)
}

func (s *Subscription) fail(err error) {
	s.failOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
	})
}

// Subscribe opens a feed starting at fromSequence: replay first, then live,
// exactly once per event. fromSequence 0 and 1 both mean the full log.
func (h *Hub) Subscribe(ctx context.Context, fromSequence uint64) (*Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.nextID++
	sub := &Subscription{
		hub:  h,
		id:   h.nextID,
		out:  make(chan *events.Event),
		live: make(chan *events.Event, h.buffer),
		done: make(chan struct{}),
	}
	sub.Events = sub.out
	// Registered before the replay read: appends that land during replay
	// queue in live and are deduplicated by sequence.
	h.subs[sub.id] = sub
	h.mu.Unlock()

	if fromSequence == 0 {
		fromSequence = 1
	}
	go h.run(ctx, sub, fromSequence)
	return sub, nil
}

func (h *Hub) run(ctx context.Context, sub *Subscription, fromSequence uint64) {
	defer close(sub.out)

	deliver := func(e *events.Event) bool {
		select {
		case sub.out <- e:
			return true
		case <-sub.done:
			return false
		case <-ctx.Done():
			sub.Close()
			return false
		}
	}

	replayed, err := h.store.GetBySequence(ctx, fromSequence, 0)
	if err != nil {
		h.remove(sub.id)
		sub.fail(err)
		return
	}
	last := fromSequence - 1
	for _, e := range replayed {
		if !deliver(e) {
			return
		}
		last = e.Sequence
	}

	for {
		select {
		case e := <-sub.live:
			if e.Sequence <= last {
				continue
			}
			if !deliver(e) {
				return
			}
			last = e.Sequence
		case <-sub.done:
			// Drain: live events queued before failure are lost by design;
			// the client reconnects from its last acknowledged sequence.
			return
		case <-ctx.Done():
			sub.Close()
			return
		}
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Close detaches every subscriber and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		sub.fail(nil)
		delete(h.subs, id)
	}
}
