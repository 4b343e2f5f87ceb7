package eventstore

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Covenant-Labs/covenant/core/pkg/events"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("opening stub database: %s", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLStore(db)
	if err != nil {
		t.Fatalf("store init: %s", err)
	}
	return s, mock
}

func TestSQLAppend(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(aggregate_version\), 0\) FROM events`).
		WithArgs("Party", "p-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(sequence\), 0\) FROM events`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(7))
	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	e, err := s.Append(ctx, candidate(events.AggregateParty, "p-1", 1, events.TypeEntityCreated))
	if err != nil {
		t.Fatalf("append: %s", err)
	}
	if e.Sequence != 8 {
		t.Fatalf("sequence = %d, want 8", e.Sequence)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestSQLAppendVersionConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(aggregate_version\), 0\) FROM events`).
		WithArgs("Party", "p-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(3))
	mock.ExpectRollback()

	_, err := s.Append(ctx, candidate(events.AggregateParty, "p-1", 2, events.TypeEntityUpdated))
	if !IsConflict(err) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestSQLCurrentSequence(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(sequence\), 0\) FROM events`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(42))

	seq, err := s.CurrentSequence(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if seq != 42 {
		t.Fatalf("sequence = %d, want 42", seq)
	}
}

func TestSQLUniqueViolationMapsToConflict(t *testing.T) {
	if !isUniqueViolation(errUnique("UNIQUE constraint failed: events.sequence")) {
		t.Fatal("sqlite unique violation not detected")
	}
	if !isUniqueViolation(errUnique(`pq: duplicate key value violates unique constraint "events_sequence_key"`)) {
		t.Fatal("postgres unique violation not detected")
	}
	if isUniqueViolation(errUnique("connection refused")) {
		t.Fatal("unrelated error treated as unique violation")
	}
}

type errUnique string

func (e errUnique) Error() string { return string(e) }
