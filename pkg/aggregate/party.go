// Package aggregate reconstructs aggregate state by folding event streams.
//
// Every rehydrator is a pure fold: initial state for an id, then apply per
// event. Folding the same events twice yields structurally identical state,
// and unknown event types are ignored for forward compatibility. State
// carries Version equal to the highest applied aggregateVersion.
package aggregate

import "github.com/Covenant-Labs/covenant/core/pkg/events"

// PartyType classifies an entity.
type PartyType string

const (
	PartyPerson       PartyType = "Person"
	PartyOrganization PartyType = "Organization"
	PartyAgent        PartyType = "Agent"
	PartySystem       PartyType = "System"
)

// Party is the folded state of a Party aggregate.
type Party struct {
	ID            string            `json:"id"`
	Type          PartyType         `json:"type"`
	Name          string            `json:"name"`
	Identifiers   map[string]string `json:"identifiers,omitempty"`
	Contacts      map[string]string `json:"contacts,omitempty"`
	RealmID       string            `json:"realmId,omitempty"`
	AutonomyLevel string            `json:"autonomyLevel,omitempty"`
	GuardianID    string            `json:"guardianId,omitempty"`
	CreatedAt     int64             `json:"createdAt"`
	Version       uint64            `json:"version"`
}

// NewParty returns the initial (pre-creation) state for id.
func NewParty(id string) *Party {
	return &Party{ID: id}
}

// Apply folds one event into the party state.
func (p *Party) Apply(e *events.Event) {
	switch e.Type {
	case events.TypeEntityCreated:
		p.Type = PartyType(payloadString(e.Payload, "entityType"))
		p.Name = payloadString(e.Payload, "name")
		p.Identifiers = payloadStringMap(e.Payload, "identifiers")
		p.Contacts = payloadStringMap(e.Payload, "contacts")
		p.RealmID = payloadString(e.Payload, "realmId")
		p.AutonomyLevel = payloadString(e.Payload, "autonomyLevel")
		p.GuardianID = payloadString(e.Payload, "guardianId")
		p.CreatedAt = e.Timestamp
	case events.TypeEntityUpdated:
		if v := payloadString(e.Payload, "name"); v != "" {
			p.Name = v
		}
		if m := payloadStringMap(e.Payload, "identifiers"); m != nil {
			p.Identifiers = m
		}
		if m := payloadStringMap(e.Payload, "contacts"); m != nil {
			p.Contacts = m
		}
		if v := payloadString(e.Payload, "realmId"); v != "" {
			p.RealmID = v
		}
	}
	p.Version = e.AggregateVersion
}

// Exists reports whether a creation event has been applied.
func (p *Party) Exists() bool { return p.Version > 0 && p.CreatedAt > 0 }

// FoldParty rehydrates a party from its events in version order.
func FoldParty(id string, evs []*events.Event) *Party {
	p := NewParty(id)
	for _, e := range evs {
		p.Apply(e)
	}
	return p
}
