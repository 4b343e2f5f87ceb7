// Package eventstore provides the append-only event log.
//
// Two interchangeable backends exist: an in-memory store used by tests and a
// SQL store (SQLite or Postgres via standard drivers). Both assign a globally
// monotonic sequence at append, enforce per-aggregate version contiguity, and
// notify a subscriber hook after each durable append.
package eventstore

import (
	"context"
	"errors"

	"github.com/Covenant-Labs/covenant/core/pkg/events"
)

var (
	// ErrConcurrencyConflict is returned when the candidate's
	// aggregateVersion does not equal the aggregate's current version + 1.
	ErrConcurrencyConflict = errors.New("aggregate version conflict")

	// ErrNotFound is returned by point reads with no matching event.
	ErrNotFound = errors.New("event not found")
)

// IsConflict reports whether err is a concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// Notifier receives every event after it has been durably appended.
// Notification runs on the appender's goroutine; implementations must not
// block.
type Notifier interface {
	EventAppended(e *events.Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(e *events.Event)

func (f NotifierFunc) EventAppended(e *events.Event) { f(e) }

// Store is the append-only event log contract.
type Store interface {
	// Append validates the candidate's aggregateVersion (current+1, or 1
	// for a new aggregate), assigns the next global sequence, persists the
	// event atomically and notifies subscribers. Returns
	// ErrConcurrencyConflict on a version mismatch.
	Append(ctx context.Context, c events.Candidate) (*events.Event, error)

	// GetByAggregate returns the aggregate's events in version order.
	// The result is a snapshot; later appends are not visible in it.
	GetByAggregate(ctx context.Context, at events.AggregateType, id string) ([]*events.Event, error)

	// GetBySequence returns events with from <= sequence <= to in sequence
	// order. to == 0 means the current sequence at call time.
	GetBySequence(ctx context.Context, from, to uint64) ([]*events.Event, error)

	// GetLatest returns the aggregate's highest-version event, or
	// ErrNotFound.
	GetLatest(ctx context.Context, at events.AggregateType, id string) (*events.Event, error)

	// CurrentSequence returns the highest assigned sequence (0 when empty).
	CurrentSequence(ctx context.Context) (uint64, error)
}
