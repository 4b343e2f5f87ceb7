package eventstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/hashchain"
	"github.com/Covenant-Labs/covenant/core/pkg/id"
)

// MemoryStore is the in-memory reference backend used by tests.
type MemoryStore struct {
	mu          sync.RWMutex
	log         []*events.Event
	byAggregate map[string][]int // aggregate key -> indexes into log
	versions    map[string]uint64
	headChain   string
	chained     bool
	notifier    Notifier
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithHashChain enables hash chaining of appended events.
func WithHashChain() MemoryOption {
	return func(s *MemoryStore) { s.chained = true }
}

// WithNotifier sets the post-append notifier.
func WithNotifier(n Notifier) MemoryOption {
	return func(s *MemoryStore) { s.notifier = n }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		byAggregate: make(map[string][]int),
		versions:    make(map[string]uint64),
		headChain:   hashchain.Genesis,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNotifier replaces the post-append notifier. Intended for wiring at
// startup, before concurrent appends begin.
func (s *MemoryStore) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func aggregateKey(at events.AggregateType, aggregateID string) string {
	return string(at) + "/" + aggregateID
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, c events.Candidate) (*events.Event, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid candidate: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := aggregateKey(c.AggregateType, c.AggregateID)
	current := s.versions[key]
	if c.AggregateVersion != current+1 {
		return nil, fmt.Errorf("%w: %s version %d, current %d",
			ErrConcurrencyConflict, key, c.AggregateVersion, current)
	}

	e := &events.Event{
		EventID:          id.New(),
		Sequence:         uint64(len(s.log)) + 1,
		AggregateType:    c.AggregateType,
		AggregateID:      c.AggregateID,
		AggregateVersion: c.AggregateVersion,
		Type:             c.Type,
		Timestamp:        c.Timestamp,
		Actor:            c.Actor,
		Payload:          c.Payload,
		Causation:        c.Causation,
	}

	if s.chained {
		chain, err := hashchain.Next(s.headChain, e)
		if err != nil {
			return nil, fmt.Errorf("hash chain: %w", err)
		}
		e.HashChain = chain
		s.headChain = chain
	}

	s.log = append(s.log, e)
	s.byAggregate[key] = append(s.byAggregate[key], len(s.log)-1)
	s.versions[key] = c.AggregateVersion

	// Notified under the lock so subscribers observe sequence order.
	if s.notifier != nil {
		s.notifier.EventAppended(e)
	}
	return e, nil
}

// GetByAggregate implements Store.
func (s *MemoryStore) GetByAggregate(ctx context.Context, at events.AggregateType, aggregateID string) ([]*events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byAggregate[aggregateKey(at, aggregateID)]
	out := make([]*events.Event, len(idxs))
	for i, idx := range idxs {
		out[i] = s.log[idx]
	}
	return out, nil
}

// GetBySequence implements Store.
func (s *MemoryStore) GetBySequence(ctx context.Context, from, to uint64) ([]*events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	current := uint64(len(s.log))
	if to == 0 || to > current {
		to = current
	}
	if from == 0 {
		from = 1
	}
	if from > to {
		return nil, nil
	}
	out := make([]*events.Event, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		out = append(out, s.log[seq-1])
	}
	return out, nil
}

// GetLatest implements Store.
func (s *MemoryStore) GetLatest(ctx context.Context, at events.AggregateType, aggregateID string) (*events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byAggregate[aggregateKey(at, aggregateID)]
	if len(idxs) == 0 {
		return nil, ErrNotFound
	}
	return s.log[idxs[len(idxs)-1]], nil
}

// CurrentSequence implements Store.
func (s *MemoryStore) CurrentSequence(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.log)), nil
}
