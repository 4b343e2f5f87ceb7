package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/Covenant-Labs/covenant/core/pkg/authz"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/eventstore"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordDecisionGranted(t *testing.T) {
	s := eventstore.NewMemoryStore()
	l := NewLogger(s, discard())

	req := authz.Request{
		Actor: events.EntityActor("alice"), Resource: "agreement", Action: "propose",
		Realm: "r-1", Timestamp: 1000,
	}
	d := &authz.Decision{
		Allowed: true, Reason: "granted",
		EvaluatedAgreements: []string{"a-1", "a-2"},
		GrantedBy:           []string{"a-1"},
	}
	e := l.RecordDecision(context.Background(), "agreement:propose", req, d, "cmd-1")
	if e == nil {
		t.Fatal("append should succeed")
	}
	if e.Type != events.TypeAuthorizationGranted {
		t.Fatalf("type = %s", e.Type)
	}
	if e.AggregateType != events.AggregateSystem || e.AggregateVersion != 1 {
		t.Fatalf("audit events live on fresh System aggregates: %+v", e)
	}
	if e.Payload["permission"] != "agreement:propose" || e.Payload["decision"] != DecisionGranted {
		t.Fatalf("payload wrong: %+v", e.Payload)
	}
	if e.CommandID() != "cmd-1" {
		t.Fatal("causation commandId not carried")
	}
}

func TestRecordDecisionDenied(t *testing.T) {
	s := eventstore.NewMemoryStore()
	l := NewLogger(s, discard())

	req := authz.Request{
		Actor: events.EntityActor("alice"), Resource: "agreement", Action: "propose", Timestamp: 1000,
	}
	d := &authz.Decision{Allowed: false, Reason: "no active agreement grants agreement:propose"}
	e := l.RecordDecision(context.Background(), "agreement:propose", req, d, "")
	if e == nil || e.Type != events.TypeAuthorizationDenied {
		t.Fatalf("want denial event, got %+v", e)
	}

	log, err := s.GetBySequence(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 1 {
		t.Fatalf("exactly one audit event expected, got %d", len(log))
	}
}

func TestDistinctDecisionsUseDistinctAggregates(t *testing.T) {
	s := eventstore.NewMemoryStore()
	l := NewLogger(s, discard())
	req := authz.Request{Actor: events.EntityActor("a"), Resource: "x", Action: "y", Timestamp: 1}
	d := &authz.Decision{Allowed: true, Reason: "ok"}

	e1 := l.RecordDecision(context.Background(), "i", req, d, "")
	e2 := l.RecordDecision(context.Background(), "i", req, d, "")
	if e1.AggregateID == e2.AggregateID {
		t.Fatal("each decision gets a fresh aggregate id")
	}
}

// failStore rejects all appends so the fallback path is exercised.
type failStore struct{ eventstore.Store }

func (f failStore) Append(ctx context.Context, c events.Candidate) (*events.Event, error) {
	return nil, context.DeadlineExceeded
}

func TestRecordDecisionFallsBackOnStoreFailure(t *testing.T) {
	l := NewLogger(failStore{}, discard())
	req := authz.Request{Actor: events.EntityActor("a"), Resource: "x", Action: "y", Timestamp: 1}
	e := l.RecordDecision(context.Background(), "i", req, &authz.Decision{Allowed: true, Reason: "ok"}, "")
	if e != nil {
		t.Fatal("failed append must return nil, not a fabricated event")
	}
}
