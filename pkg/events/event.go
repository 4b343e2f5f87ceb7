// Package events defines the immutable event envelope and the catalog of
// domain event types.
//
// Every state change in the system is recorded as exactly one Event. Events
// are append-only: corrections are new events, never mutations. The envelope
// carries both a global sequence (total order, assigned at append) and a
// per-aggregate version (dense order within one aggregate).
package events

import (
	"errors"
	"fmt"

	"github.com/Covenant-Labs/covenant/core/pkg/canonicalize"
)

// AggregateType names the kind of aggregate an event belongs to.
type AggregateType string

const (
	AggregateParty     AggregateType = "Party"
	AggregateAgreement AggregateType = "Agreement"
	AggregateAsset     AggregateType = "Asset"
	AggregateContainer AggregateType = "Container"
	AggregateApiKey    AggregateType = "ApiKey"
	AggregateRole      AggregateType = "Role"
	AggregateWorkflow  AggregateType = "Workflow"
	AggregateSystem    AggregateType = "System"
)

var knownAggregates = map[AggregateType]bool{
	AggregateParty: true, AggregateAgreement: true, AggregateAsset: true,
	AggregateContainer: true, AggregateApiKey: true, AggregateRole: true,
	AggregateWorkflow: true, AggregateSystem: true,
}

// Causation links events emitted to satisfy a single intent.
type Causation struct {
	CommandID string `json:"commandId,omitempty"`
}

// Event is the atomic, immutable record of a state change.
type Event struct {
	EventID          string                 `json:"eventId"`
	Sequence         uint64                 `json:"sequence"`
	AggregateType    AggregateType          `json:"aggregateType"`
	AggregateID      string                 `json:"aggregateId"`
	AggregateVersion uint64                 `json:"aggregateVersion"`
	Type             string                 `json:"type"`
	Timestamp        int64                  `json:"timestamp"` // ms since epoch, set by caller
	Actor            Actor                  `json:"actor"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	Causation        *Causation             `json:"causation,omitempty"`
	HashChain        string                 `json:"hashChain,omitempty"`
}

// Candidate is an event before append: no sequence, no chain hash.
type Candidate struct {
	AggregateType    AggregateType
	AggregateID      string
	AggregateVersion uint64
	Type             string
	Timestamp        int64
	Actor            Actor
	Payload          map[string]interface{}
	Causation        *Causation
}

// Validate checks structural well-formedness before append.
func (c Candidate) Validate() error {
	if !knownAggregates[c.AggregateType] {
		return fmt.Errorf("unknown aggregate type %q", c.AggregateType)
	}
	if c.AggregateID == "" {
		return errors.New("aggregateId required")
	}
	if c.AggregateVersion == 0 {
		return errors.New("aggregateVersion must be >= 1")
	}
	if c.Type == "" {
		return errors.New("event type required")
	}
	if c.Timestamp <= 0 {
		return errors.New("timestamp required")
	}
	if err := c.Actor.Validate(); err != nil {
		return fmt.Errorf("actor: %w", err)
	}
	return nil
}

// PayloadHash returns the canonical hash of the event payload.
func (e *Event) PayloadHash() (string, error) {
	if e.Payload == nil {
		return canonicalize.Hash(nil), nil
	}
	return canonicalize.CanonicalHash(e.Payload)
}

// CommandID returns the causation command id, or "" when absent.
func (e *Event) CommandID() string {
	if e.Causation == nil {
		return ""
	}
	return e.Causation.CommandID
}
