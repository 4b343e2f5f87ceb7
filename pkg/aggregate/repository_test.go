package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/eventstore"
)

func seedParty(t *testing.T, s eventstore.Store, partyID, name string, ts int64) {
	t.Helper()
	next := uint64(1)
	if latest, err := s.GetLatest(context.Background(), events.AggregateParty, partyID); err == nil {
		next = latest.AggregateVersion + 1
	}
	eventType := events.TypeEntityCreated
	payload := map[string]interface{}{"entityType": "Person", "name": name}
	if next > 1 {
		eventType = events.TypeEntityUpdated
		payload = map[string]interface{}{"name": name}
	}
	_, err := s.Append(context.Background(), events.Candidate{
		AggregateType:    events.AggregateParty,
		AggregateID:      partyID,
		AggregateVersion: next,
		Type:             eventType,
		Timestamp:        ts,
		Actor:            events.SystemActor("test"),
		Payload:          payload,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRepositoryGetPartyAndCache(t *testing.T) {
	s := eventstore.NewMemoryStore()
	r := NewRepository(s)
	ctx := context.Background()

	seedParty(t, s, "p-1", "Alice", 1000)
	p, err := r.GetParty(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Alice" {
		t.Fatalf("name = %s", p.Name)
	}

	// Cached read returns the same fold while the version is unchanged.
	p2, err := r.GetParty(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if p2 != p {
		t.Fatal("unchanged aggregate should be served from cache")
	}

	// New event invalidates the cached fold.
	seedParty(t, s, "p-1", "Alicia", 2000)
	p3, err := r.GetParty(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if p3.Name != "Alicia" || p3.Version != 2 {
		t.Fatalf("stale state after append: %+v", p3)
	}
}

func TestRepositoryNotFound(t *testing.T) {
	r := NewRepository(eventstore.NewMemoryStore())
	_, err := r.GetParty(context.Background(), "missing")
	if !errors.Is(err, ErrAggregateNotFound) {
		t.Fatalf("want ErrAggregateNotFound, got %v", err)
	}
}

func TestRepositoryNextVersion(t *testing.T) {
	s := eventstore.NewMemoryStore()
	r := NewRepository(s)
	ctx := context.Background()

	v, err := r.NextVersion(ctx, events.AggregateParty, "p-1")
	if err != nil || v != 1 {
		t.Fatalf("next version for new aggregate = %d (%v), want 1", v, err)
	}
	seedParty(t, s, "p-1", "Alice", 1000)
	v, err = r.NextVersion(ctx, events.AggregateParty, "p-1")
	if err != nil || v != 2 {
		t.Fatalf("next version = %d (%v), want 2", v, err)
	}
}

func TestRepositoryAsOfReconstruction(t *testing.T) {
	s := eventstore.NewMemoryStore()
	r := NewRepository(s)
	ctx := context.Background()

	seedParty(t, s, "p-1", "First", 1000)
	seedParty(t, s, "p-1", "Second", 2000)
	seedParty(t, s, "p-1", "Third", 3000)

	asOf, err := r.GetPartyAsOf(ctx, "p-1", 2000)
	if err != nil {
		t.Fatal(err)
	}
	if asOf.Name != "Second" {
		t.Fatalf("as-of name = %s, want Second", asOf.Name)
	}
	now, err := r.GetParty(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if now.Name != "Third" {
		t.Fatalf("current name = %s, want Third", now.Name)
	}
}

func TestRepositoryAgreementsForParty(t *testing.T) {
	s := eventstore.NewMemoryStore()
	r := NewRepository(s)
	ctx := context.Background()

	propose := func(aggID, partyID string) {
		_, err := s.Append(ctx, events.Candidate{
			AggregateType:    events.AggregateAgreement,
			AggregateID:      aggID,
			AggregateVersion: 1,
			Type:             events.TypeAgreementProposed,
			Timestamp:        1000,
			Actor:            events.SystemActor("test"),
			Payload: map[string]interface{}{
				"agreementType": "service",
				"parties": []interface{}{
					map[string]interface{}{"entityId": partyID, "role": "provider"},
				},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	propose("a-1", "p-1")
	propose("a-2", "p-2")

	got, err := r.AgreementsForParty(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a-1" {
		t.Fatalf("agreements = %+v, want [a-1]", got)
	}

	// Watermark advance picks up later appends.
	propose("a-3", "p-1")
	got, err = r.AgreementsForParty(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("agreements after append = %d, want 2", len(got))
	}
}

func TestAgreementsForPartyReturnsSnapshots(t *testing.T) {
	s := eventstore.NewMemoryStore()
	r := NewRepository(s)
	ctx := context.Background()

	appendAgreement := func(aggID string, version uint64, eventType string, payload map[string]interface{}) {
		t.Helper()
		_, err := s.Append(ctx, events.Candidate{
			AggregateType:    events.AggregateAgreement,
			AggregateID:      aggID,
			AggregateVersion: version,
			Type:             eventType,
			Timestamp:        1000,
			Actor:            events.SystemActor("test"),
			Payload:          payload,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	appendAgreement("a-1", 1, events.TypeAgreementProposed, map[string]interface{}{
		"agreementType": "service",
		"parties": []interface{}{
			map[string]interface{}{"entityId": "p-1", "role": "provider"},
		},
	})

	got, err := r.AgreementsForParty(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	snapshot := got[0]
	if snapshot.Status != StatusProposed {
		t.Fatalf("status = %s, want Proposed", snapshot.Status)
	}

	// Later index catch-up must not mutate an already returned snapshot.
	appendAgreement("a-1", 2, events.TypeAgreementActivated, nil)
	if _, err := r.AgreementsForParty(ctx, "p-1"); err != nil {
		t.Fatal(err)
	}
	if snapshot.Status != StatusProposed {
		t.Fatalf("snapshot mutated to %s after index catch-up", snapshot.Status)
	}

	// Concurrent readers of snapshots while lifecycle events keep folding
	// into the index; meaningful under the race detector.
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				as, err := r.AgreementsForParty(ctx, "p-1")
				if err != nil {
					t.Error(err)
					return
				}
				for _, a := range as {
					_ = a.Status
					_ = a.HasParty("p-1")
				}
			}
		}(g)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			eventType := events.TypeAgreementDisputed
			if i%2 == 1 {
				eventType = events.TypeAgreementResolved
			}
			appendAgreement("a-1", uint64(3+i), eventType, map[string]interface{}{"outcome": "Active"})
		}
	}()
	wg.Wait()
}
