// Package authn authenticates callers: api keys hashed into the log at
// creation time and short-lived bearer tokens minted against them.
package authn

import (
	"context"
	"errors"
	"fmt"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/canonicalize"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/eventstore"
	"github.com/Covenant-Labs/covenant/core/pkg/id"
	"github.com/Covenant-Labs/covenant/core/pkg/projection"
)

var (
	ErrUnknownKey         = errors.New("authn: unknown api key")
	ErrKeyRevoked         = errors.New("authn: api key revoked")
	ErrKeyExpired         = errors.New("authn: api key expired")
	ErrAgreementNotActive = errors.New("authn: establishing agreement is not active")
)

// Principal is an authenticated caller.
type Principal struct {
	Actor    events.Actor
	ApiKeyID string
	EntityID string
	RealmID  string
	Scopes   []string
}

// KeyIndex resolves a key hash to its api key id. Served by the api_keys
// projection; a nil index or a miss falls back to a log scan.
type KeyIndex interface {
	LookupKeyHash(ctx context.Context, hash string) (*projection.KeyRecord, error)
}

// Verifier authenticates raw api keys. The aggregate is authoritative for
// revocation and expiry; the index only locates the key id. A key whose
// establishing agreement has left Active is denied without any further
// key-level event: terminating the agreement revokes every key under it.
type Verifier struct {
	store eventstore.Store
	repo  *aggregate.Repository
	index KeyIndex
	now   func() int64
}

// NewVerifier creates a verifier. index may be nil.
func NewVerifier(store eventstore.Store, repo *aggregate.Repository, index KeyIndex) *Verifier {
	return &Verifier{store: store, repo: repo, index: index, now: id.NowMillis}
}

// Verify authenticates rawKey and returns the principal it identifies.
func (v *Verifier) Verify(ctx context.Context, rawKey string) (*Principal, error) {
	if rawKey == "" {
		return nil, ErrUnknownKey
	}
	hash := canonicalize.Hash([]byte(rawKey))

	keyID, err := v.resolveKeyID(ctx, hash)
	if err != nil {
		return nil, err
	}
	if keyID == "" {
		return nil, ErrUnknownKey
	}
	return v.VerifyKeyID(ctx, keyID, hash)
}

// VerifyKeyID authenticates a key by aggregate id. expectedHash, when
// non-empty, must match the stored hash. Bearer tokens re-enter here on
// every request so key revocation and agreement termination invalidate
// outstanding tokens immediately.
func (v *Verifier) VerifyKeyID(ctx context.Context, keyID, expectedHash string) (*Principal, error) {
	key, err := v.repo.GetApiKey(ctx, keyID)
	if errors.Is(err, aggregate.ErrAggregateNotFound) {
		return nil, ErrUnknownKey
	}
	if err != nil {
		return nil, fmt.Errorf("load api key: %w", err)
	}
	if !key.Exists() || (expectedHash != "" && key.KeyHash != expectedHash) {
		return nil, ErrUnknownKey
	}
	if key.Revoked {
		return nil, ErrKeyRevoked
	}
	if key.ExpiresAt > 0 && v.now() >= key.ExpiresAt {
		return nil, ErrKeyExpired
	}

	if key.EstablishedBy != "" {
		agr, err := v.repo.GetAgreement(ctx, key.EstablishedBy)
		if errors.Is(err, aggregate.ErrAggregateNotFound) {
			return nil, ErrAgreementNotActive
		}
		if err != nil {
			return nil, fmt.Errorf("load establishing agreement: %w", err)
		}
		if !agr.Exists() || agr.Status != aggregate.StatusActive {
			return nil, ErrAgreementNotActive
		}
	}

	return &Principal{
		Actor:    events.EntityActor(key.EntityID),
		ApiKeyID: key.ID,
		EntityID: key.EntityID,
		RealmID:  key.RealmID,
		Scopes:   key.Scopes,
	}, nil
}

func (v *Verifier) resolveKeyID(ctx context.Context, hash string) (string, error) {
	if v.index != nil {
		rec, err := v.index.LookupKeyHash(ctx, hash)
		if err == nil && rec != nil {
			return rec.ApiKeyID, nil
		}
		// Index miss or failure: the projection may be behind the log.
	}
	return v.scanForKeyID(ctx, hash)
}

func (v *Verifier) scanForKeyID(ctx context.Context, hash string) (string, error) {
	evs, err := v.store.GetBySequence(ctx, 1, 0)
	if err != nil {
		return "", fmt.Errorf("scan api keys: %w", err)
	}
	for _, e := range evs {
		if e.Type != events.TypeApiKeyCreated {
			continue
		}
		if h, _ := e.Payload["keyHash"].(string); h == hash {
			return e.AggregateID, nil
		}
	}
	return "", nil
}
