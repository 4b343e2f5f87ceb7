package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/hashchain"
	"github.com/Covenant-Labs/covenant/core/pkg/id"
)

// SQLStore implements Store on database/sql. It works against both SQLite
// (modernc.org/sqlite) and Postgres (lib/pq): the schema keys events by
// (aggregate_type, aggregate_id, aggregate_version) with a unique secondary
// sequence column.
type SQLStore struct {
	db       *sql.DB
	mu       sync.Mutex // serializes appends; readers go straight to the DB
	chained  bool
	notifier Notifier
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLHashChain enables hash chaining of appended events.
func WithSQLHashChain() SQLOption {
	return func(s *SQLStore) { s.chained = true }
}

// WithSQLNotifier sets the post-append notifier.
func WithSQLNotifier(n Notifier) SQLOption {
	return func(s *SQLStore) { s.notifier = n }
}

// NewSQLStore creates the store and runs its migration.
func NewSQLStore(db *sql.DB, opts ...SQLOption) (*SQLStore, error) {
	s := &SQLStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("event store migration: %w", err)
	}
	return s, nil
}

// SetNotifier replaces the post-append notifier.
func (s *SQLStore) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *SQLStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		sequence BIGINT NOT NULL UNIQUE,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		aggregate_version BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp_ms BIGINT NOT NULL,
		actor JSON NOT NULL,
		payload JSON,
		causation_command_id TEXT NOT NULL DEFAULT '',
		hash_chain TEXT NOT NULL DEFAULT '',
		UNIQUE (aggregate_type, aggregate_id, aggregate_version)
	);
	CREATE INDEX IF NOT EXISTS idx_events_aggregate
		ON events (aggregate_type, aggregate_id, aggregate_version);`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// Append implements Store. The version check and sequence assignment run in
// one transaction; the unique indexes catch any append racing from outside
// this process.
func (s *SQLStore) Append(ctx context.Context, c events.Candidate) (*events.Event, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid candidate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion uint64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0) FROM events WHERE aggregate_type = $1 AND aggregate_id = $2`,
		string(c.AggregateType), c.AggregateID,
	).Scan(&currentVersion)
	if err != nil {
		return nil, fmt.Errorf("read aggregate version: %w", err)
	}
	if c.AggregateVersion != currentVersion+1 {
		return nil, fmt.Errorf("%w: %s/%s version %d, current %d",
			ErrConcurrencyConflict, c.AggregateType, c.AggregateID, c.AggregateVersion, currentVersion)
	}

	var currentSeq uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM events`).Scan(&currentSeq); err != nil {
		return nil, fmt.Errorf("read sequence: %w", err)
	}

	e := &events.Event{
		EventID:          id.New(),
		Sequence:         currentSeq + 1,
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
		var prevChain string
		err := tx.QueryRowContext(ctx,
			`SELECT hash_chain FROM events WHERE sequence = $1`, currentSeq,
		).Scan(&prevChain)
		if errors.Is(err, sql.ErrNoRows) || prevChain == "" {
			prevChain = hashchain.Genesis
		} else if err != nil {
			return nil, fmt.Errorf("read chain head: %w", err)
		}
		chain, err := hashchain.Next(prevChain, e)
		if err != nil {
			return nil, fmt.Errorf("hash chain: %w", err)
		}
		e.HashChain = chain
	}

	actorJSON, err := json.Marshal(e.Actor)
	if err != nil {
		return nil, fmt.Errorf("marshal actor: %w", err)
	}
	var payloadJSON []byte
	if e.Payload != nil {
		if payloadJSON, err = json.Marshal(e.Payload); err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (event_id, sequence, aggregate_type, aggregate_id, aggregate_version,
			event_type, timestamp_ms, actor, payload, causation_command_id, hash_chain)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.EventID, e.Sequence, string(e.AggregateType), e.AggregateID, e.AggregateVersion,
		e.Type, e.Timestamp, string(actorJSON), nullableText(payloadJSON), e.CommandID(), e.HashChain,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s/%s version %d", ErrConcurrencyConflict,
				c.AggregateType, c.AggregateID, c.AggregateVersion)
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	if s.notifier != nil {
		s.notifier.EventAppended(e)
	}
	return e, nil
}

const eventColumns = `event_id, sequence, aggregate_type, aggregate_id, aggregate_version,
	event_type, timestamp_ms, actor, payload, causation_command_id, hash_chain`

// GetByAggregate implements Store.
func (s *SQLStore) GetByAggregate(ctx context.Context, at events.AggregateType, aggregateID string) ([]*events.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE aggregate_type = $1 AND aggregate_id = $2 ORDER BY aggregate_version`,
		string(at), aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query aggregate: %w", err)
	}
	return scanEvents(rows)
}

// GetBySequence implements Store.
func (s *SQLStore) GetBySequence(ctx context.Context, from, to uint64) ([]*events.Event, error) {
	if to == 0 {
		current, err := s.CurrentSequence(ctx)
		if err != nil {
			return nil, err
		}
		to = current
	}
	if from == 0 {
		from = 1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE sequence >= $1 AND sequence <= $2 ORDER BY sequence`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("query sequence range: %w", err)
	}
	return scanEvents(rows)
}

// GetLatest implements Store.
func (s *SQLStore) GetLatest(ctx context.Context, at events.AggregateType, aggregateID string) (*events.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE aggregate_type = $1 AND aggregate_id = $2 ORDER BY aggregate_version DESC LIMIT 1`,
		string(at), aggregateID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// CurrentSequence implements Store.
func (s *SQLStore) CurrentSequence(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read current sequence: %w", err)
	}
	return seq, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*events.Event, error) {
	var (
		e           events.Event
		at          string
		actorJSON   string
		payloadJSON sql.NullString
		commandID   string
	)
	err := row.Scan(&e.EventID, &e.Sequence, &at, &e.AggregateID, &e.AggregateVersion,
		&e.Type, &e.Timestamp, &actorJSON, &payloadJSON, &commandID, &e.HashChain)
	if err != nil {
		return nil, err
	}
	e.AggregateType = events.AggregateType(at)
	if err := json.Unmarshal([]byte(actorJSON), &e.Actor); err != nil {
		return nil, fmt.Errorf("unmarshal actor: %w", err)
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if commandID != "" {
		e.Causation = &events.Causation{CommandID: commandID}
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*events.Event, error) {
	defer func() { _ = rows.Close() }()
	var out []*events.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableText(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}

// isUniqueViolation matches unique-constraint errors from both drivers
// without importing driver-specific error types.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
