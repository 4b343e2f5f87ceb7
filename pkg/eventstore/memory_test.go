package eventstore

import (
	"context"
	"sync"
	"testing"

	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/hashchain"
)

func candidate(at events.AggregateType, aggID string, version uint64, eventType string) events.Candidate {
	return events.Candidate{
		AggregateType:    at,
		AggregateID:      aggID,
		AggregateVersion: version,
		Type:             eventType,
		Timestamp:        1700000000000 + int64(version),
		Actor:            events.SystemActor("test"),
		Payload:          map[string]interface{}{"v": float64(version)},
	}
}

func TestMemoryAppendAssignsSequence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	e1, err := s.Append(ctx, candidate(events.AggregateParty, "p-1", 1, events.TypeEntityCreated))
	if err != nil {
		t.Fatal(err)
	}
	e2, err := s.Append(ctx, candidate(events.AggregateParty, "p-2", 1, events.TypeEntityCreated))
	if err != nil {
		t.Fatal(err)
	}
	if e1.Sequence != 1 || e2.Sequence != 2 {
		t.Fatalf("sequences = %d, %d; want 1, 2", e1.Sequence, e2.Sequence)
	}
	if e1.EventID == "" || e1.EventID == e2.EventID {
		t.Fatal("event ids must be fresh and unique")
	}
}

func TestMemoryVersionConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Append(ctx, candidate(events.AggregateParty, "p-1", 1, events.TypeEntityCreated)); err != nil {
		t.Fatal(err)
	}
	// Same version again: conflict.
	_, err := s.Append(ctx, candidate(events.AggregateParty, "p-1", 1, events.TypeEntityUpdated))
	if !IsConflict(err) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	// Skipping a version: conflict.
	_, err = s.Append(ctx, candidate(events.AggregateParty, "p-1", 3, events.TypeEntityUpdated))
	if !IsConflict(err) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	// Correct next version succeeds.
	if _, err := s.Append(ctx, candidate(events.AggregateParty, "p-1", 2, events.TypeEntityUpdated)); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryConcurrentSameVersionExactlyOneWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Append(ctx, candidate(events.AggregateAgreement, "a-1", 1, events.TypeAgreementProposed)); err != nil {
		t.Fatal(err)
	}

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Append(ctx, candidate(events.AggregateAgreement, "a-1", 2, events.TypePartyConsented))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !IsConflict(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one concurrent append must win, got %d", wins)
	}
}

func TestMemoryGetByAggregateIsSnapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for v := uint64(1); v <= 3; v++ {
		if _, err := s.Append(ctx, candidate(events.AggregateAsset, "as-1", v, events.TypeAssetRegistered)); err != nil {
			t.Fatal(err)
		}
	}
	snap, err := s.GetByAggregate(ctx, events.AggregateAsset, "as-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, candidate(events.AggregateAsset, "as-1", 4, events.TypeAssetTransferred)); err != nil {
		t.Fatal(err)
	}
	if len(snap) != 3 {
		t.Fatalf("snapshot grew after append: len %d", len(snap))
	}
	for i, e := range snap {
		if e.AggregateVersion != uint64(i)+1 {
			t.Fatalf("version order broken at %d: %d", i, e.AggregateVersion)
		}
	}
}

func TestMemoryGetBySequenceBounds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, candidate(events.AggregateParty, "p-x", uint64(i)+1, events.TypeEntityUpdated)); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.GetBySequence(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("want all 5 events, got %d", len(all))
	}

	mid, err := s.GetBySequence(ctx, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(mid) != 3 || mid[0].Sequence != 2 || mid[2].Sequence != 4 {
		t.Fatalf("range query wrong: %+v", mid)
	}

	beyond, err := s.GetBySequence(ctx, 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(beyond) != 0 {
		t.Fatalf("range past the end should be empty, got %d", len(beyond))
	}
}

func TestMemoryGetLatest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.GetLatest(ctx, events.AggregateParty, "nope"); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	for v := uint64(1); v <= 2; v++ {
		if _, err := s.Append(ctx, candidate(events.AggregateParty, "p-1", v, events.TypeEntityUpdated)); err != nil {
			t.Fatal(err)
		}
	}
	latest, err := s.GetLatest(ctx, events.AggregateParty, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.AggregateVersion != 2 {
		t.Fatalf("latest version = %d, want 2", latest.AggregateVersion)
	}
}

func TestMemoryNotifierObservesSequenceOrder(t *testing.T) {
	var seen []uint64
	s := NewMemoryStore(WithNotifier(NotifierFunc(func(e *events.Event) {
		seen = append(seen, e.Sequence)
	})))
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := s.Append(ctx, candidate(events.AggregateParty, "p-1", uint64(i)+1, events.TypeEntityUpdated)); err != nil {
			t.Fatal(err)
		}
	}
	for i, seq := range seen {
		if seq != uint64(i)+1 {
			t.Fatalf("notification order broken: %v", seen)
		}
	}
}

func TestMemoryHashChain(t *testing.T) {
	s := NewMemoryStore(WithHashChain())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, candidate(events.AggregateParty, "p-1", uint64(i)+1, events.TypeEntityUpdated)); err != nil {
			t.Fatal(err)
		}
	}
	log, err := s.GetBySequence(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if broken, err := hashchain.Verify(log); broken != -1 {
		t.Fatalf("chain broken at %d: %v", broken, err)
	}
}
