package aggregate

import "github.com/Covenant-Labs/covenant/core/pkg/events"

// ApiKey is the folded state of an ApiKey aggregate. Only the key hash is
// ever stored; the presented secret exists nowhere in the log.
type ApiKey struct {
	ID            string   `json:"id"`
	KeyHash       string   `json:"keyHash"`
	Scopes        []string `json:"scopes,omitempty"`
	EntityID      string   `json:"entityId"`
	RealmID       string   `json:"realmId,omitempty"`
	ExpiresAt     int64    `json:"expiresAt,omitempty"`
	Revoked       bool     `json:"revoked"`
	EstablishedBy string   `json:"establishedBy,omitempty"`
	Version       uint64   `json:"version"`
}

// NewApiKey returns the initial state for id.
func NewApiKey(id string) *ApiKey {
	return &ApiKey{ID: id}
}

// Apply folds one event into the key state.
func (k *ApiKey) Apply(e *events.Event) {
	switch e.Type {
	case events.TypeApiKeyCreated:
		k.KeyHash = payloadString(e.Payload, "keyHash")
		k.Scopes = payloadStringSlice(e.Payload, "scopes")
		k.EntityID = payloadString(e.Payload, "entityId")
		k.RealmID = payloadString(e.Payload, "realmId")
		k.ExpiresAt = payloadInt(e.Payload, "expiresAt")
		k.EstablishedBy = payloadString(e.Payload, "establishedBy")
	case events.TypeApiKeyRevoked:
		k.Revoked = true
	}
	k.Version = e.AggregateVersion
}

// Exists reports whether a creation event has been applied.
func (k *ApiKey) Exists() bool { return k.Version > 0 && k.KeyHash != "" }

// FoldApiKey rehydrates an api key from its events in version order.
func FoldApiKey(id string, evs []*events.Event) *ApiKey {
	k := NewApiKey(id)
	for _, e := range evs {
		k.Apply(e)
	}
	return k
}
