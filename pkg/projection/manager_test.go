package projection

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/eventstore"
	"github.com/Covenant-Labs/covenant/core/pkg/id"
	"github.com/Covenant-Labs/covenant/core/pkg/subscription"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// In-memory sqlite is per-connection; keep the pool at one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func appendEvent(t *testing.T, store eventstore.Store, aggType events.AggregateType, aggID string, version uint64, eventType string, payload map[string]interface{}) *events.Event {
	t.Helper()
	e, err := store.Append(context.Background(), events.Candidate{
		AggregateType:    aggType,
		AggregateID:      aggID,
		AggregateVersion: version,
		Type:             eventType,
		Timestamp:        id.NowMillis(),
		Actor:            events.SystemActor("test"),
		Payload:          payload,
	})
	require.NoError(t, err)
	return e
}

func waitForWatermark(t *testing.T, m *Manager, name string, target uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		seq, err := m.Watermark(context.Background(), name)
		require.NoError(t, err)
		if seq >= target {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("projection %s never reached sequence %d", name, target)
}

func TestBuiltinProjectionsCatchUp(t *testing.T) {
	store := eventstore.NewMemoryStore()
	hub := subscription.NewHub(store, 0)
	store.SetNotifier(hub)
	db := openDB(t)

	appendEvent(t, store, events.AggregateParty, "ent-1", 1, events.TypeEntityCreated, map[string]interface{}{
		"name": "Acme Inc", "entityType": "Organization", "realmId": "realm-1",
	})
	appendEvent(t, store, events.AggregateContainer, "realm-1", 1, events.TypeContainerCreated, map[string]interface{}{
		"name": "Acme", "containerType": "Realm",
		"governanceAgreementId": "agr-1", "ownerId": "ent-1",
	})
	last := appendEvent(t, store, events.AggregateApiKey, "key-1", 1, events.TypeApiKeyCreated, map[string]interface{}{
		"keyHash": "hash-1", "entityId": "ent-1", "realmId": "realm-1", "establishedBy": "agr-1",
	})

	m := NewManager(db, hub, nil, Builtin()...)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	for _, p := range Builtin() {
		waitForWatermark(t, m, p.Name, last.Sequence)
	}

	v := NewViews(db)
	realms, err := v.Realms(context.Background())
	require.NoError(t, err)
	require.Len(t, realms, 1)
	assert.Equal(t, "realm-1", realms[0].ID)
	assert.Equal(t, "Acme", realms[0].Name)
	assert.Equal(t, "agr-1", realms[0].GovernanceAgreementID)
	assert.Equal(t, "ent-1", realms[0].OwnerID)

	key, err := v.LookupKeyHash(context.Background(), "hash-1")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, "key-1", key.ApiKeyID)
	assert.Equal(t, "ent-1", key.EntityID)
	assert.False(t, key.Revoked)

	missing, err := v.LookupKeyHash(context.Background(), "no-such-hash")
	require.NoError(t, err)
	assert.Nil(t, missing)

	parties, err := v.PartiesInRealm(context.Background(), "realm-1")
	require.NoError(t, err)
	require.Len(t, parties, 1)
	assert.Equal(t, "Acme Inc", parties[0].Name)
}

func TestLiveEventsAfterStart(t *testing.T) {
	store := eventstore.NewMemoryStore()
	hub := subscription.NewHub(store, 0)
	store.SetNotifier(hub)
	db := openDB(t)

	m := NewManager(db, hub, nil, ApiKeysProjection())
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	appendEvent(t, store, events.AggregateApiKey, "key-1", 1, events.TypeApiKeyCreated, map[string]interface{}{
		"keyHash": "h1", "entityId": "ent-1",
	})
	last := appendEvent(t, store, events.AggregateApiKey, "key-1", 2, events.TypeApiKeyRevoked, map[string]interface{}{})
	waitForWatermark(t, m, "api_keys", last.Sequence)

	key, err := NewViews(db).LookupKeyHash(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.True(t, key.Revoked)
}

func TestWatermarkSurvivesRestart(t *testing.T) {
	store := eventstore.NewMemoryStore()
	hub := subscription.NewHub(store, 0)
	store.SetNotifier(hub)
	db := openDB(t)

	first := appendEvent(t, store, events.AggregateParty, "ent-1", 1, events.TypeEntityCreated, map[string]interface{}{
		"name": "Acme", "realmId": "realm-1",
	})

	m := NewManager(db, hub, nil, PartiesProjection())
	require.NoError(t, m.Start(context.Background()))
	waitForWatermark(t, m, "parties", first.Sequence)
	m.Stop()

	last := appendEvent(t, store, events.AggregateParty, "ent-2", 1, events.TypeEntityCreated, map[string]interface{}{
		"name": "Globex", "realmId": "realm-1",
	})

	m2 := NewManager(db, hub, nil, PartiesProjection())
	require.NoError(t, m2.Start(context.Background()))
	defer m2.Stop()
	waitForWatermark(t, m2, "parties", last.Sequence)

	parties, err := NewViews(db).PartiesInRealm(context.Background(), "realm-1")
	require.NoError(t, err)
	require.Len(t, parties, 2)
}

func TestReapplyIsIdempotent(t *testing.T) {
	store := eventstore.NewMemoryStore()
	db := openDB(t)
	p := PartiesProjection()
	require.NoError(t, p.Migrate(context.Background(), db))

	e := appendEvent(t, store, events.AggregateParty, "ent-1", 1, events.TypeEntityCreated, map[string]interface{}{
		"name": "Acme", "realmId": "realm-1",
	})

	// At-least-once delivery: a redelivered event must not duplicate rows.
	for i := 0; i < 2; i++ {
		tx, err := db.BeginTx(context.Background(), nil)
		require.NoError(t, err)
		require.NoError(t, p.Apply(context.Background(), tx, e))
		require.NoError(t, tx.Commit())
	}

	parties, err := NewViews(db).PartiesInRealm(context.Background(), "realm-1")
	require.NoError(t, err)
	assert.Len(t, parties, 1)
}

func TestAuditDecisionSeries(t *testing.T) {
	store := eventstore.NewMemoryStore()
	hub := subscription.NewHub(store, 0)
	store.SetNotifier(hub)
	db := openDB(t)

	var last *events.Event
	for i, decision := range []string{"Granted", "Denied", "Granted"} {
		eventType := events.TypeAuthorizationGranted
		if decision == "Denied" {
			eventType = events.TypeAuthorizationDenied
		}
		last, _ = store.Append(context.Background(), events.Candidate{
			AggregateType:    events.AggregateSystem,
			AggregateID:      id.New(),
			AggregateVersion: 1,
			Type:             eventType,
			Timestamp:        id.NowMillis(),
			Actor:            events.EntityActor("alice"),
			Payload: map[string]interface{}{
				"intent":     fmt.Sprintf("intent-%d", i),
				"permission": "agreement:propose",
				"decision":   decision,
			},
		})
	}

	m := NewManager(db, hub, nil, AuditDecisionsProjection())
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	waitForWatermark(t, m, "audit_decisions", last.Sequence)

	decisions, err := NewViews(db).DecisionsForActor(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, decisions, 3)
	assert.Equal(t, "Denied", decisions[1].Decision)
	assert.Equal(t, "intent-1", decisions[1].Intent)
	for i := 1; i < len(decisions); i++ {
		assert.Greater(t, decisions[i].Sequence, decisions[i-1].Sequence)
	}

	none, err := NewViews(db).DecisionsForActor(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, none)
}
