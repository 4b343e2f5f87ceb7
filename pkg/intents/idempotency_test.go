package intents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyRoundTrip(t *testing.T) {
	s := NewMemoryIdempotencyStore(0)
	ctx := context.Background()

	_, hit, err := s.Get(ctx, "alice", "k1")
	require.NoError(t, err)
	assert.False(t, hit)

	stored := &Result{Success: true, Outcome: OutcomeCreated}
	require.NoError(t, s.Put(ctx, "alice", "k1", stored))

	got, hit, err := s.Get(ctx, "alice", "k1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, stored, got)

	// Keys are scoped per actor.
	_, hit, err = s.Get(ctx, "bob", "k1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryIdempotencyTTLFloor(t *testing.T) {
	s := NewMemoryIdempotencyStore(time.Minute)
	assert.Equal(t, DefaultIdempotencyTTL, s.ttl)
}

func TestMemoryIdempotencyExpiry(t *testing.T) {
	s := NewMemoryIdempotencyStore(0)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Put(ctx, "alice", "k1", &Result{Success: true}))

	s.now = func() time.Time { return now.Add(DefaultIdempotencyTTL + time.Minute) }
	_, hit, err := s.Get(ctx, "alice", "k1")
	require.NoError(t, err)
	assert.False(t, hit)
}
