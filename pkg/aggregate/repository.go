package aggregate

import (
	"context"
	"fmt"
	"sync"

	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/eventstore"
)

// Repository rehydrates aggregates from the event store with a per-aggregate
// fold cache. Cached state is always a prefix-fold of the true log: a cache
// entry is reused only when the aggregate's latest version still matches it.
//
// Returned state is shared with the cache and must be treated as read-only.
type Repository struct {
	store eventstore.Store

	mu    sync.Mutex
	cache map[string]cacheEntry

	// agreement index for party-scoped scans, advanced by sequence watermark
	idxMu        sync.Mutex
	agreementIdx map[string]*Agreement
	idxWatermark uint64
}

type cacheEntry struct {
	version uint64
	state   interface{}
}

// NewRepository creates a repository over the given store.
func NewRepository(store eventstore.Store) *Repository {
	return &Repository{
		store:        store,
		cache:        make(map[string]cacheEntry),
		agreementIdx: make(map[string]*Agreement),
	}
}

// ErrAggregateNotFound is returned when no creation event exists for the id.
var ErrAggregateNotFound = eventstore.ErrNotFound

func cacheKey(at events.AggregateType, id string) string {
	return string(at) + "/" + id
}

// rehydrate returns cached state when fresh, otherwise folds the full
// snapshot and caches the result.
func (r *Repository) rehydrate(ctx context.Context, at events.AggregateType, aggregateID string,
	fold func([]*events.Event) (interface{}, uint64)) (interface{}, error) {

	latest, err := r.store.GetLatest(ctx, at, aggregateID)
	if err != nil {
		if err == eventstore.ErrNotFound {
			return nil, fmt.Errorf("%w: %s/%s", ErrAggregateNotFound, at, aggregateID)
		}
		return nil, err
	}

	key := cacheKey(at, aggregateID)
	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && entry.version == latest.AggregateVersion {
		r.mu.Unlock()
		return entry.state, nil
	}
	r.mu.Unlock()

	evs, err := r.store.GetByAggregate(ctx, at, aggregateID)
	if err != nil {
		return nil, err
	}
	state, version := fold(evs)

	r.mu.Lock()
	r.cache[key] = cacheEntry{version: version, state: state}
	r.mu.Unlock()
	return state, nil
}

// GetParty rehydrates a party.
func (r *Repository) GetParty(ctx context.Context, partyID string) (*Party, error) {
	state, err := r.rehydrate(ctx, events.AggregateParty, partyID, func(evs []*events.Event) (interface{}, uint64) {
		p := FoldParty(partyID, evs)
		return p, p.Version
	})
	if err != nil {
		return nil, err
	}
	return state.(*Party), nil
}

// GetAgreement rehydrates an agreement.
func (r *Repository) GetAgreement(ctx context.Context, agreementID string) (*Agreement, error) {
	state, err := r.rehydrate(ctx, events.AggregateAgreement, agreementID, func(evs []*events.Event) (interface{}, uint64) {
		a := FoldAgreement(agreementID, evs)
		return a, a.Version
	})
	if err != nil {
		return nil, err
	}
	return state.(*Agreement), nil
}

// GetAsset rehydrates an asset.
func (r *Repository) GetAsset(ctx context.Context, assetID string) (*Asset, error) {
	state, err := r.rehydrate(ctx, events.AggregateAsset, assetID, func(evs []*events.Event) (interface{}, uint64) {
		a := FoldAsset(assetID, evs)
		return a, a.Version
	})
	if err != nil {
		return nil, err
	}
	return state.(*Asset), nil
}

// GetContainer rehydrates a container.
func (r *Repository) GetContainer(ctx context.Context, containerID string) (*Container, error) {
	state, err := r.rehydrate(ctx, events.AggregateContainer, containerID, func(evs []*events.Event) (interface{}, uint64) {
		c := FoldContainer(containerID, evs)
		return c, c.Version
	})
	if err != nil {
		return nil, err
	}
	return state.(*Container), nil
}

// GetApiKey rehydrates an api key.
func (r *Repository) GetApiKey(ctx context.Context, keyID string) (*ApiKey, error) {
	state, err := r.rehydrate(ctx, events.AggregateApiKey, keyID, func(evs []*events.Event) (interface{}, uint64) {
		k := FoldApiKey(keyID, evs)
		return k, k.Version
	})
	if err != nil {
		return nil, err
	}
	return state.(*ApiKey), nil
}

// GetRole derives the implicit role view for an entity.
func (r *Repository) GetRole(ctx context.Context, entityID, roleName string) (*Role, error) {
	agreements, err := r.AgreementsForParty(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return DeriveRole(entityID, roleName, agreements), nil
}

// NextVersion returns the next aggregateVersion for the aggregate (1 when it
// does not exist yet). Handlers use this before every append.
func (r *Repository) NextVersion(ctx context.Context, at events.AggregateType, aggregateID string) (uint64, error) {
	latest, err := r.store.GetLatest(ctx, at, aggregateID)
	if err != nil {
		if err == eventstore.ErrNotFound {
			return 1, nil
		}
		return 0, err
	}
	return latest.AggregateVersion + 1, nil
}

// AgreementsForParty returns every agreement naming entityID as a party,
// in any status. This is the log-scan fallback behind the agreements
// projection: an incrementally maintained index advanced by sequence
// watermark, never rescanned from zero.
func (r *Repository) AgreementsForParty(ctx context.Context, entityID string) ([]*Agreement, error) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()

	evs, err := r.store.GetBySequence(ctx, r.idxWatermark+1, 0)
	if err != nil {
		return nil, err
	}
	for _, e := range evs {
		if e.AggregateType == events.AggregateAgreement {
			a, ok := r.agreementIdx[e.AggregateID]
			if !ok {
				a = NewAgreement(e.AggregateID)
				r.agreementIdx[e.AggregateID] = a
			}
			a.Apply(e)
		}
		r.idxWatermark = e.Sequence
	}

	// Snapshots, not the index-owned structs: callers read these outside
	// idxMu while later calls keep folding events into the index.
	var out []*Agreement
	for _, a := range r.agreementIdx {
		if a.HasParty(entityID) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// GetPartyAsOf rehydrates a party from only the events with timestamp <= ts.
// As-of reads bypass the cache.
func (r *Repository) GetPartyAsOf(ctx context.Context, partyID string, ts int64) (*Party, error) {
	evs, err := r.store.GetByAggregate(ctx, events.AggregateParty, partyID)
	if err != nil {
		return nil, err
	}
	return FoldParty(partyID, filterAsOf(evs, ts)), nil
}

// GetAgreementAsOf rehydrates an agreement as of ts.
func (r *Repository) GetAgreementAsOf(ctx context.Context, agreementID string, ts int64) (*Agreement, error) {
	evs, err := r.store.GetByAggregate(ctx, events.AggregateAgreement, agreementID)
	if err != nil {
		return nil, err
	}
	return FoldAgreement(agreementID, filterAsOf(evs, ts)), nil
}

// GetContainerAsOf rehydrates a container as of ts.
func (r *Repository) GetContainerAsOf(ctx context.Context, containerID string, ts int64) (*Container, error) {
	evs, err := r.store.GetByAggregate(ctx, events.AggregateContainer, containerID)
	if err != nil {
		return nil, err
	}
	return FoldContainer(containerID, filterAsOf(evs, ts)), nil
}

func filterAsOf(evs []*events.Event, ts int64) []*events.Event {
	out := make([]*events.Event, 0, len(evs))
	for _, e := range evs {
		if e.Timestamp <= ts {
			out = append(out, e)
		}
	}
	return out
}
