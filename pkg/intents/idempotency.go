package intents

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL is the minimum retention window for replayed results.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStore records dispatched results per (actor, key). A repeated
// key within the retention window replays the stored result without
// re-executing the intent.
type IdempotencyStore interface {
	Get(ctx context.Context, actorID, key string) (*Result, bool, error)
	Put(ctx context.Context, actorID, key string, r *Result) error
}

func idempotencyKey(actorID, key string) string {
	return actorID + "\x00" + key
}

type memoryEntry struct {
	result   *Result
	storedAt time.Time
}

// MemoryIdempotencyStore holds results in process memory. Volatile: a
// restart forgets every key.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryIdempotencyStore creates an in-memory store. ttl below the
// default is raised to it.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	if ttl < DefaultIdempotencyTTL {
		ttl = DefaultIdempotencyTTL
	}
	return &MemoryIdempotencyStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, actorID, key string) (*Result, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[idempotencyKey(actorID, key)]
	s.mu.RUnlock()
	if !ok || s.now().Sub(entry.storedAt) > s.ttl {
		return nil, false, nil
	}
	return entry.result, true, nil
}

func (s *MemoryIdempotencyStore) Put(_ context.Context, actorID, key string, r *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.Sub(e.storedAt) > s.ttl {
			delete(s.entries, k)
		}
	}
	s.entries[idempotencyKey(actorID, key)] = memoryEntry{result: r, storedAt: now}
	return nil
}

// RedisIdempotencyStore keeps results in redis with a TTL, shared across
// nodes.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a redis-backed store.
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl < DefaultIdempotencyTTL {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func redisKey(actorID, key string) string {
	return "intent:idem:" + actorID + ":" + key
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, actorID, key string) (*Result, bool, error) {
	raw, err := s.client.Get(ctx, redisKey(actorID, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false, fmt.Errorf("idempotency decode: %w", err)
	}
	return &r, true, nil
}

func (s *RedisIdempotencyStore) Put(ctx context.Context, actorID, key string, r *Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(actorID, key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency put: %w", err)
	}
	return nil
}

// SQLIdempotencyStore keeps results in a relational table, surviving process
// restarts. Placeholders are written $1-style; both lib/pq and
// modernc.org/sqlite accept them.
type SQLIdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLIdempotencyStore creates the backing table if needed.
func NewSQLIdempotencyStore(db *sql.DB, ttl time.Duration) (*SQLIdempotencyStore, error) {
	if ttl < DefaultIdempotencyTTL {
		ttl = DefaultIdempotencyTTL
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS intent_idempotency (
		actor_id  TEXT NOT NULL,
		idem_key  TEXT NOT NULL,
		result    TEXT NOT NULL,
		stored_at BIGINT NOT NULL,
		PRIMARY KEY (actor_id, idem_key)
	)`)
	if err != nil {
		return nil, fmt.Errorf("idempotency migrate: %w", err)
	}
	return &SQLIdempotencyStore{db: db, ttl: ttl}, nil
}

func (s *SQLIdempotencyStore) Get(ctx context.Context, actorID, key string) (*Result, bool, error) {
	var raw string
	var storedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT result, stored_at FROM intent_idempotency WHERE actor_id = $1 AND idem_key = $2`,
		actorID, key,
	).Scan(&raw, &storedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}
	if time.Since(time.UnixMilli(storedAt)) > s.ttl {
		_, _ = s.db.ExecContext(ctx,
			`DELETE FROM intent_idempotency WHERE actor_id = $1 AND idem_key = $2`, actorID, key)
		return nil, false, nil
	}
	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, false, fmt.Errorf("idempotency decode: %w", err)
	}
	return &r, true, nil
}

func (s *SQLIdempotencyStore) Put(ctx context.Context, actorID, key string, r *Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO intent_idempotency (actor_id, idem_key, result, stored_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (actor_id, idem_key) DO UPDATE SET result = $3, stored_at = $4`,
		actorID, key, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("idempotency put: %w", err)
	}
	return nil
}

// Cleanup deletes entries older than the TTL.
func (s *SQLIdempotencyStore) Cleanup(ctx context.Context) error {
	cutoff := time.Now().Add(-s.ttl).UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM intent_idempotency WHERE stored_at < $1`, cutoff)
	return err
}
