package aggregate

import "github.com/Covenant-Labs/covenant/core/pkg/events"

// AgreementStatus is the lifecycle state of an agreement.
type AgreementStatus string

const (
	StatusProposed   AgreementStatus = "Proposed"
	StatusActive     AgreementStatus = "Active"
	StatusTerminated AgreementStatus = "Terminated"
	StatusDisputed   AgreementStatus = "Disputed"
	StatusResolved   AgreementStatus = "Resolved"
)

// ConsentRecord is one party's recorded consent.
type ConsentRecord struct {
	Method    string `json:"method"`
	Timestamp int64  `json:"timestamp"`
}

// AgreementParty is a party named on an agreement.
type AgreementParty struct {
	EntityID string          `json:"entityId"`
	Role     string          `json:"role"`
	Consents []ConsentRecord `json:"consents,omitempty"`
	Rejected bool            `json:"rejected,omitempty"`
}

// Agreement is the folded state of an Agreement aggregate.
type Agreement struct {
	ID                string                 `json:"id"`
	AgreementType     string                 `json:"agreementType"`
	RealmID           string                 `json:"realmId,omitempty"`
	Parties           []AgreementParty       `json:"parties"`
	Terms             map[string]interface{} `json:"terms,omitempty"`
	Assets            []string               `json:"assets,omitempty"`
	EffectiveFrom     int64                  `json:"effectiveFrom,omitempty"`
	EffectiveUntil    int64                  `json:"effectiveUntil,omitempty"`
	Status            AgreementStatus        `json:"status"`
	ParentAgreementID string                 `json:"parentAgreementId,omitempty"`
	Version           uint64                 `json:"version"`
}

// NewAgreement returns the initial state for id.
func NewAgreement(id string) *Agreement {
	return &Agreement{ID: id}
}

// Apply folds one event into the agreement state.
func (a *Agreement) Apply(e *events.Event) {
	switch e.Type {
	case events.TypeAgreementProposed:
		a.AgreementType = payloadString(e.Payload, "agreementType")
		a.RealmID = payloadString(e.Payload, "realmId")
		a.Terms = payloadMap(e.Payload, "terms")
		a.Assets = payloadStringSlice(e.Payload, "assets")
		a.EffectiveFrom = payloadInt(e.Payload, "effectiveFrom")
		a.EffectiveUntil = payloadInt(e.Payload, "effectiveUntil")
		a.ParentAgreementID = payloadString(e.Payload, "parentAgreementId")
		a.Status = StatusProposed
		a.Parties = a.Parties[:0]
		for _, raw := range payloadSlice(e.Payload, "parties") {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			a.Parties = append(a.Parties, AgreementParty{
				EntityID: payloadString(m, "entityId"),
				Role:     payloadString(m, "role"),
			})
		}
		// Proposing is consent: the proposer's party carries an implicit
		// consent record from the proposal itself.
		if proposer := payloadString(e.Payload, "proposedBy"); proposer != "" {
			for i := range a.Parties {
				if a.Parties[i].EntityID == proposer {
					a.Parties[i].Consents = append(a.Parties[i].Consents, ConsentRecord{
						Method:    "implicit",
						Timestamp: e.Timestamp,
					})
				}
			}
		}
	case events.TypePartyConsented:
		entityID := payloadString(e.Payload, "entityId")
		for i := range a.Parties {
			if a.Parties[i].EntityID == entityID {
				a.Parties[i].Consents = append(a.Parties[i].Consents, ConsentRecord{
					Method:    payloadString(e.Payload, "method"),
					Timestamp: e.Timestamp,
				})
			}
		}
	case events.TypePartyRejected:
		entityID := payloadString(e.Payload, "entityId")
		for i := range a.Parties {
			if a.Parties[i].EntityID == entityID {
				a.Parties[i].Rejected = true
			}
		}
		a.Status = StatusTerminated
	case events.TypeAgreementActivated:
		a.Status = StatusActive
	case events.TypeAgreementTerminated:
		a.Status = StatusTerminated
	case events.TypeAgreementDisputed:
		a.Status = StatusDisputed
	case events.TypeAgreementResolved:
		// Resolution returns the agreement to Active or ends it; the
		// outcome is carried on the event.
		switch AgreementStatus(payloadString(e.Payload, "outcome")) {
		case StatusTerminated:
			a.Status = StatusTerminated
		default:
			a.Status = StatusActive
		}
	}
	a.Version = e.AggregateVersion
}

// Exists reports whether a proposal event has been applied.
func (a *Agreement) Exists() bool { return a.Version > 0 && a.AgreementType != "" }

// Clone returns a snapshot safe to read while the original keeps folding
// events. Parties, consents and assets are copied; Terms is shared because
// Apply only ever replaces it wholesale, never mutates it.
func (a *Agreement) Clone() *Agreement {
	c := *a
	c.Parties = make([]AgreementParty, len(a.Parties))
	for i, p := range a.Parties {
		c.Parties[i] = p
		c.Parties[i].Consents = append([]ConsentRecord(nil), p.Consents...)
	}
	c.Assets = append([]string(nil), a.Assets...)
	return &c
}

// Party returns the named party, or nil.
func (a *Agreement) Party(entityID string) *AgreementParty {
	for i := range a.Parties {
		if a.Parties[i].EntityID == entityID {
			return &a.Parties[i]
		}
	}
	return nil
}

// HasParty reports whether entityID is named on the agreement.
func (a *Agreement) HasParty(entityID string) bool { return a.Party(entityID) != nil }

// CoversTime reports whether the validity window contains ts (ms).
// A zero bound is open-ended.
func (a *Agreement) CoversTime(ts int64) bool {
	if a.EffectiveFrom > 0 && ts < a.EffectiveFrom {
		return false
	}
	if a.EffectiveUntil > 0 && ts > a.EffectiveUntil {
		return false
	}
	return true
}

// FoldAgreement rehydrates an agreement from its events in version order.
func FoldAgreement(id string, evs []*events.Event) *Agreement {
	a := NewAgreement(id)
	for _, e := range evs {
		a.Apply(e)
	}
	return a
}
