package eventstore

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Covenant-Labs/covenant/core/pkg/events"
)

// TestAppendOrderingProperties exercises the log ordering guarantees over
// randomized interleavings of appends across several aggregates:
// per-aggregate versions are dense (1..n) and the global sequence is an
// unbroken total order consistent with insert order.
func TestAppendOrderingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("versions dense per aggregate, sequence unbroken", prop.ForAll(
		func(picks []int) bool {
			s := NewMemoryStore()
			ctx := context.Background()
			versions := map[string]uint64{}

			for _, p := range picks {
				aggID := []string{"a", "b", "c"}[((p%3)+3)%3]
				next := versions[aggID] + 1
				if _, err := s.Append(ctx, candidate(events.AggregateParty, aggID, next, events.TypeEntityUpdated)); err != nil {
					return false
				}
				versions[aggID] = next
			}

			log, err := s.GetBySequence(ctx, 0, 0)
			if err != nil || len(log) != len(picks) {
				return false
			}
			perAggregate := map[string]uint64{}
			for i, e := range log {
				if e.Sequence != uint64(i)+1 {
					return false
				}
				if e.AggregateVersion != perAggregate[e.AggregateID]+1 {
					return false
				}
				perAggregate[e.AggregateID] = e.AggregateVersion
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

// TestStaleVersionAlwaysConflicts: any append whose version is not exactly
// current+1 fails with ErrConcurrencyConflict and leaves the log unchanged.
func TestStaleVersionAlwaysConflicts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("non-contiguous version conflicts", prop.ForAll(
		func(current uint8, attempt uint8) bool {
			s := NewMemoryStore()
			ctx := context.Background()
			n := uint64(current%8) + 1
			for v := uint64(1); v <= n; v++ {
				if _, err := s.Append(ctx, candidate(events.AggregateAsset, "x", v, events.TypeAssetRegistered)); err != nil {
					return false
				}
			}
			tryV := uint64(attempt%16) + 1
			_, err := s.Append(ctx, candidate(events.AggregateAsset, "x", tryV, events.TypeAssetRegistered))
			if tryV == n+1 {
				return err == nil
			}
			if !IsConflict(err) {
				return false
			}
			seq, _ := s.CurrentSequence(ctx)
			return seq == n
		},
		gen.UInt8(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
