package projection

import (
	"context"
	"database/sql"

	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/intents"
)

// Views reads the built-in projections' tables.
type Views struct {
	db *sql.DB
}

// NewViews wraps the projection database for queries.
func NewViews(db *sql.DB) *Views {
	return &Views{db: db}
}

// Builtin returns the standard projection set.
func Builtin() []*Projection {
	return []*Projection{
		RealmsProjection(),
		ApiKeysProjection(),
		AuditDecisionsProjection(),
		PartiesProjection(),
	}
}

func pstr(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func pnum(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// RealmsProjection lists realm containers.
func RealmsProjection() *Projection {
	return &Projection{
		Name: "realms",
		Migrate: func(ctx context.Context, db *sql.DB) error {
			_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS realms (
				id                      TEXT PRIMARY KEY,
				name                    TEXT NOT NULL,
				governance_agreement_id TEXT,
				owner_id                TEXT,
				created_at              BIGINT NOT NULL
			)`)
			return err
		},
		Apply: func(ctx context.Context, tx *sql.Tx, e *events.Event) error {
			if e.Type != events.TypeContainerCreated || pstr(e.Payload, "containerType") != "Realm" {
				return nil
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO realms (id, name, governance_agreement_id, owner_id, created_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET name = $2, governance_agreement_id = $3, owner_id = $4`,
				e.AggregateID, pstr(e.Payload, "name"),
				pstr(e.Payload, "governanceAgreementId"), pstr(e.Payload, "ownerId"),
				e.Timestamp)
			return err
		},
	}
}

// Realms implements intents.RealmSource from the realms view.
func (v *Views) Realms(ctx context.Context) ([]intents.RealmInfo, error) {
	rows, err := v.db.QueryContext(ctx,
		`SELECT id, name, governance_agreement_id, owner_id FROM realms ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []intents.RealmInfo
	for rows.Next() {
		var r intents.RealmInfo
		var gov, owner sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &gov, &owner); err != nil {
			return nil, err
		}
		r.GovernanceAgreementID = gov.String
		r.OwnerID = owner.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApiKeysProjection indexes api keys by key hash for authentication.
func ApiKeysProjection() *Projection {
	return &Projection{
		Name: "api_keys",
		Migrate: func(ctx context.Context, db *sql.DB) error {
			if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS api_keys (
				id             TEXT PRIMARY KEY,
				key_hash       TEXT NOT NULL,
				entity_id      TEXT NOT NULL,
				realm_id       TEXT,
				expires_at     BIGINT,
				established_by TEXT,
				revoked        INTEGER NOT NULL DEFAULT 0
			)`); err != nil {
				return err
			}
			_, err := db.ExecContext(ctx,
				`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys (key_hash)`)
			return err
		},
		Apply: func(ctx context.Context, tx *sql.Tx, e *events.Event) error {
			switch e.Type {
			case events.TypeApiKeyCreated:
				_, err := tx.ExecContext(ctx, `INSERT INTO api_keys
					(id, key_hash, entity_id, realm_id, expires_at, established_by, revoked)
					VALUES ($1, $2, $3, $4, $5, $6, 0)
					ON CONFLICT (id) DO NOTHING`,
					e.AggregateID, pstr(e.Payload, "keyHash"), pstr(e.Payload, "entityId"),
					pstr(e.Payload, "realmId"), pnum(e.Payload, "expiresAt"),
					pstr(e.Payload, "establishedBy"))
				return err
			case events.TypeApiKeyRevoked:
				_, err := tx.ExecContext(ctx,
					`UPDATE api_keys SET revoked = 1 WHERE id = $1`, e.AggregateID)
				return err
			}
			return nil
		},
	}
}

// KeyRecord is one api_keys row.
type KeyRecord struct {
	ApiKeyID      string
	EntityID      string
	RealmID       string
	ExpiresAt     int64
	EstablishedBy string
	Revoked       bool
}

// LookupKeyHash returns the key record matching hash, or nil.
func (v *Views) LookupKeyHash(ctx context.Context, hash string) (*KeyRecord, error) {
	var r KeyRecord
	var realm, establishedBy sql.NullString
	var revoked int
	err := v.db.QueryRowContext(ctx, `SELECT id, entity_id, realm_id, expires_at, established_by, revoked
		FROM api_keys WHERE key_hash = $1`, hash).
		Scan(&r.ApiKeyID, &r.EntityID, &realm, &r.ExpiresAt, &establishedBy, &revoked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.RealmID = realm.String
	r.EstablishedBy = establishedBy.String
	r.Revoked = revoked != 0
	return &r, nil
}

// AuditDecisionsProjection keeps the per-actor authorization decision
// series addressable without walking the log.
func AuditDecisionsProjection() *Projection {
	return &Projection{
		Name: "audit_decisions",
		Migrate: func(ctx context.Context, db *sql.DB) error {
			if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS audit_decisions (
				event_id   TEXT PRIMARY KEY,
				sequence   BIGINT NOT NULL,
				actor_id   TEXT NOT NULL,
				intent     TEXT NOT NULL,
				permission TEXT NOT NULL,
				decision   TEXT NOT NULL,
				reason     TEXT,
				ts         BIGINT NOT NULL
			)`); err != nil {
				return err
			}
			_, err := db.ExecContext(ctx,
				`CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_decisions (actor_id, sequence)`)
			return err
		},
		Apply: func(ctx context.Context, tx *sql.Tx, e *events.Event) error {
			if e.Type != events.TypeAuthorizationGranted && e.Type != events.TypeAuthorizationDenied {
				return nil
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO audit_decisions
				(event_id, sequence, actor_id, intent, permission, decision, reason, ts)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (event_id) DO NOTHING`,
				e.EventID, e.Sequence, e.Actor.ID(), pstr(e.Payload, "intent"),
				pstr(e.Payload, "permission"), pstr(e.Payload, "decision"),
				pstr(e.Payload, "reason"), e.Timestamp)
			return err
		},
	}
}

// DecisionRecord is one audit_decisions row.
type DecisionRecord struct {
	EventID    string
	Sequence   uint64
	Intent     string
	Permission string
	Decision   string
	Reason     string
}

// DecisionsForActor returns the actor's decision series in sequence order.
func (v *Views) DecisionsForActor(ctx context.Context, actorID string) ([]DecisionRecord, error) {
	rows, err := v.db.QueryContext(ctx, `SELECT event_id, sequence, intent, permission, decision, reason
		FROM audit_decisions WHERE actor_id = $1 ORDER BY sequence`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var d DecisionRecord
		var reason sql.NullString
		if err := rows.Scan(&d.EventID, &d.Sequence, &d.Intent, &d.Permission, &d.Decision, &reason); err != nil {
			return nil, err
		}
		d.Reason = reason.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// PartiesProjection lists registered entities.
func PartiesProjection() *Projection {
	return &Projection{
		Name: "parties",
		Migrate: func(ctx context.Context, db *sql.DB) error {
			_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS parties (
				id          TEXT PRIMARY KEY,
				name        TEXT NOT NULL,
				entity_type TEXT,
				realm_id    TEXT,
				created_at  BIGINT NOT NULL
			)`)
			return err
		},
		Apply: func(ctx context.Context, tx *sql.Tx, e *events.Event) error {
			switch e.Type {
			case events.TypeEntityCreated:
				_, err := tx.ExecContext(ctx, `INSERT INTO parties (id, name, entity_type, realm_id, created_at)
					VALUES ($1, $2, $3, $4, $5)
					ON CONFLICT (id) DO NOTHING`,
					e.AggregateID, pstr(e.Payload, "name"), pstr(e.Payload, "entityType"),
					pstr(e.Payload, "realmId"), e.Timestamp)
				return err
			case events.TypeEntityUpdated:
				if name := pstr(e.Payload, "name"); name != "" {
					_, err := tx.ExecContext(ctx,
						`UPDATE parties SET name = $2 WHERE id = $1`, e.AggregateID, name)
					return err
				}
			}
			return nil
		},
	}
}

// PartyRecord is one parties row.
type PartyRecord struct {
	ID         string
	Name       string
	EntityType string
	RealmID    string
}

// PartiesInRealm lists entities registered in a realm.
func (v *Views) PartiesInRealm(ctx context.Context, realmID string) ([]PartyRecord, error) {
	rows, err := v.db.QueryContext(ctx, `SELECT id, name, entity_type, realm_id
		FROM parties WHERE realm_id = $1 ORDER BY created_at`, realmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PartyRecord
	for rows.Next() {
		var p PartyRecord
		var entityType, realm sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &entityType, &realm); err != nil {
			return nil, err
		}
		p.EntityType = entityType.String
		p.RealmID = realm.String
		out = append(out, p)
	}
	return out, rows.Err()
}
