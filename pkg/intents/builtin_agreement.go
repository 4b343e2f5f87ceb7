package intents

import (
	"context"
	"fmt"

	"github.com/Covenant-Labs/covenant/core/pkg/agreement"
	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/workflow"
)

func agreementPropose() *Definition {
	return &Definition{
		Name:                "agreement:propose",
		Category:            CategoryAgreement,
		Description:         "Propose an agreement between parties",
		RequiredPermissions: []string{"agreement:propose"},
		PayloadSchema: `{
			"type": "object",
			"required": ["agreementType", "parties"],
			"properties": {
				"agreementType": {"type": "string", "minLength": 1},
				"agreementId": {"type": "string"},
				"realmId": {"type": "string"},
				"parties": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"required": ["entityId", "role"],
						"properties": {
							"entityId": {"type": "string", "minLength": 1},
							"role": {"type": "string", "minLength": 1}
						}
					}
				},
				"terms": {"type": "object"},
				"effectiveFrom": {"type": "number"},
				"effectiveUntil": {"type": "number"}
			}
		}`,
		Next: []string{"agreement:consent", "agreement:reject", "agreement:get"},
		Examples: []map[string]interface{}{
			{
				"agreementType": "employment",
				"parties": []map[string]interface{}{
					{"entityId": "<employer>", "role": "employer"},
					{"entityId": "<employee>", "role": "employee"},
				},
				"terms": map[string]interface{}{"position": "engineer", "startDate": "2026-01-01"},
			},
		},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			agreementType := pStr(hc.Payload, "agreementType")
			def := hc.Agreements.Get(agreementType)
			if def == nil {
				return OutcomeNothing, nil, fmt.Errorf("%w: unknown agreement type %q", ErrValidation, agreementType)
			}

			parties := pSlice(hc.Payload, "parties")
			actorNamed := hc.Actor.IsSystem()
			for _, raw := range parties {
				p, ok := raw.(map[string]interface{})
				if !ok {
					return OutcomeNothing, nil, fmt.Errorf("%w: malformed party entry", ErrValidation)
				}
				role := pStr(p, "role")
				if def.Role(role) == nil {
					return OutcomeNothing, nil, fmt.Errorf("%w: role %q not declared by %s", ErrValidation, role, agreementType)
				}
				if pStr(p, "entityId") == hc.Actor.EntityID {
					actorNamed = true
				}
			}
			if !actorNamed {
				return OutcomeNothing, nil, fmt.Errorf("%w: proposer must be a named party", ErrValidation)
			}

			terms := pMap(hc.Payload, "terms")
			if err := def.ValidateTerms(terms); err != nil {
				return OutcomeNothing, nil, fmt.Errorf("%w: %v", ErrValidation, err)
			}

			agreementID := orNewID(pStr(hc.Payload, "agreementId"))
			existing, err := hc.Repo.GetAgreement(ctx, agreementID)
			if err == nil && existing.Exists() {
				return OutcomeNothing, nil, fmt.Errorf("agreement %s: %w", agreementID, ErrAlreadyExists)
			}

			payload := map[string]interface{}{
				"agreementType": agreementType,
				"parties":       parties,
			}
			if hc.Actor.Type == events.ActorEntity {
				payload["proposedBy"] = hc.Actor.EntityID
			}
			if terms != nil {
				payload["terms"] = terms
			}
			if v := pStr(hc.Payload, "realmId"); v != "" {
				payload["realmId"] = v
			} else if hc.Realm != "" {
				payload["realmId"] = hc.Realm
			}
			if v := pInt(hc.Payload, "effectiveFrom"); v > 0 {
				payload["effectiveFrom"] = v
			}
			if v := pInt(hc.Payload, "effectiveUntil"); v > 0 {
				payload["effectiveUntil"] = v
			}

			proposed, err := hc.Append(ctx, events.AggregateAgreement, agreementID, events.TypeAgreementProposed, payload)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if err := hc.RunHooks(ctx, proposed); err != nil {
				return OutcomeNothing, nil, err
			}
			return OutcomeCreated, map[string]interface{}{"agreementId": agreementID}, nil
		},
	}
}

// agreementConsent carries no required permission: the authority to consent
// comes from being a named party, not from an ABAC grant.
func agreementConsent() *Definition {
	return &Definition{
		Name:        "agreement:consent",
		Category:    CategoryAgreement,
		Description: "Record a party's consent; activates the agreement when quorum is met",
		PayloadSchema: `{
			"type": "object",
			"required": ["agreementId"],
			"properties": {
				"agreementId": {"type": "string", "minLength": 1},
				"method": {"type": "string", "enum": ["explicit", "implicit"]}
			}
		}`,
		Next: []string{"agreement:get", "agreement:terminate"},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			agreementID := pStr(hc.Payload, "agreementId")
			a, err := hc.Repo.GetAgreement(ctx, agreementID)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if !a.Exists() {
				return OutcomeNothing, nil, fmt.Errorf("agreement %s: %w", agreementID, aggregate.ErrAggregateNotFound)
			}
			if a.Status != aggregate.StatusProposed {
				return OutcomeNothing, nil, fmt.Errorf("consent in status %s: %w", a.Status, workflow.ErrLifecycleInvalid)
			}
			consenter, err := consentingParty(hc.Actor, a)
			if err != nil {
				return OutcomeNothing, nil, err
			}

			method := pStr(hc.Payload, "method")
			if method == "" {
				method = string(agreement.ConsentExplicit)
			}
			if _, err := hc.Append(ctx, events.AggregateAgreement, agreementID, events.TypePartyConsented, map[string]interface{}{
				"entityId": consenter,
				"method":   method,
			}); err != nil {
				return OutcomeNothing, nil, err
			}

			a, err = hc.Repo.GetAgreement(ctx, agreementID)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			def := hc.Agreements.Get(a.AgreementType)
			activated := false
			if def != nil && def.Quorum.Satisfied(a) {
				if err := agreement.CanTransition(a.Status, agreement.InputActivate, aggregate.StatusActive); err != nil {
					return OutcomeNothing, nil, err
				}
				ev, err := hc.Append(ctx, events.AggregateAgreement, agreementID, events.TypeAgreementActivated, nil)
				if err != nil {
					return OutcomeNothing, nil, err
				}
				if err := hc.RunHooks(ctx, ev); err != nil {
					return OutcomeNothing, nil, err
				}
				activated = true
			}
			return OutcomeConsented, map[string]interface{}{
				"agreementId": agreementID,
				"activated":   activated,
			}, nil
		},
	}
}

func agreementReject() *Definition {
	return &Definition{
		Name:        "agreement:reject",
		Category:    CategoryAgreement,
		Description: "Reject a proposed agreement, terminating it",
		PayloadSchema: `{
			"type": "object",
			"required": ["agreementId"],
			"properties": {
				"agreementId": {"type": "string", "minLength": 1},
				"reason": {"type": "string"}
			}
		}`,
		Next: []string{"agreement:get"},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			agreementID := pStr(hc.Payload, "agreementId")
			a, err := hc.Repo.GetAgreement(ctx, agreementID)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if !a.Exists() {
				return OutcomeNothing, nil, fmt.Errorf("agreement %s: %w", agreementID, aggregate.ErrAggregateNotFound)
			}
			if err := agreement.CanTransition(a.Status, agreement.InputReject, aggregate.StatusTerminated); err != nil {
				return OutcomeNothing, nil, err
			}
			rejecter, err := consentingParty(hc.Actor, a)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			payload := map[string]interface{}{"entityId": rejecter}
			if v := pStr(hc.Payload, "reason"); v != "" {
				payload["reason"] = v
			}
			ev, err := hc.Append(ctx, events.AggregateAgreement, agreementID, events.TypePartyRejected, payload)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if err := hc.RunHooks(ctx, ev); err != nil {
				return OutcomeNothing, nil, err
			}
			return OutcomeTransitioned, map[string]interface{}{"agreementId": agreementID, "status": string(aggregate.StatusTerminated)}, nil
		},
	}
}

func agreementTerminate() *Definition {
	return lifecycleIntent(lifecycleIntentSpec{
		name:        "agreement:terminate",
		description: "Terminate an active agreement",
		input:       agreement.InputTerminate,
		target:      aggregate.StatusTerminated,
		eventType:   events.TypeAgreementTerminated,
	})
}

func agreementDispute() *Definition {
	return lifecycleIntent(lifecycleIntentSpec{
		name:        "agreement:dispute",
		description: "Open a dispute on an active agreement",
		input:       agreement.InputDispute,
		target:      aggregate.StatusDisputed,
		eventType:   events.TypeAgreementDisputed,
	})
}

func agreementResolve() *Definition {
	return &Definition{
		Name:        "agreement:resolve",
		Category:    CategoryAgreement,
		Description: "Resolve a disputed agreement back to Active or to Terminated",
		PayloadSchema: `{
			"type": "object",
			"required": ["agreementId", "outcome"],
			"properties": {
				"agreementId": {"type": "string", "minLength": 1},
				"outcome": {"type": "string", "enum": ["Active", "Terminated"]},
				"reason": {"type": "string"}
			}
		}`,
		Next: []string{"agreement:get"},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			agreementID := pStr(hc.Payload, "agreementId")
			target := aggregate.AgreementStatus(pStr(hc.Payload, "outcome"))
			a, err := hc.Repo.GetAgreement(ctx, agreementID)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if !a.Exists() {
				return OutcomeNothing, nil, fmt.Errorf("agreement %s: %w", agreementID, aggregate.ErrAggregateNotFound)
			}
			if err := agreement.CanTransition(a.Status, agreement.InputResolve, target); err != nil {
				return OutcomeNothing, nil, err
			}
			if _, err := partyOrSystem(hc.Actor, a); err != nil {
				return OutcomeNothing, nil, err
			}
			payload := map[string]interface{}{"outcome": string(target)}
			if v := pStr(hc.Payload, "reason"); v != "" {
				payload["reason"] = v
			}
			if _, err := hc.Append(ctx, events.AggregateAgreement, agreementID, events.TypeAgreementResolved, payload); err != nil {
				return OutcomeNothing, nil, err
			}
			return OutcomeTransitioned, map[string]interface{}{"agreementId": agreementID, "status": string(target)}, nil
		},
	}
}

type lifecycleIntentSpec struct {
	name        string
	description string
	input       workflow.Input
	target      aggregate.AgreementStatus
	eventType   string
}

// lifecycleIntent builds an intent that moves an agreement through one
// lifecycle transition. Authority comes from party membership.
func lifecycleIntent(spec lifecycleIntentSpec) *Definition {
	return &Definition{
		Name:        spec.name,
		Category:    CategoryAgreement,
		Description: spec.description,
		PayloadSchema: `{
			"type": "object",
			"required": ["agreementId"],
			"properties": {
				"agreementId": {"type": "string", "minLength": 1},
				"reason": {"type": "string"}
			}
		}`,
		Next: []string{"agreement:get"},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			agreementID := pStr(hc.Payload, "agreementId")
			a, err := hc.Repo.GetAgreement(ctx, agreementID)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if !a.Exists() {
				return OutcomeNothing, nil, fmt.Errorf("agreement %s: %w", agreementID, aggregate.ErrAggregateNotFound)
			}
			if err := agreement.CanTransition(a.Status, spec.input, spec.target); err != nil {
				return OutcomeNothing, nil, err
			}
			initiator, err := partyOrSystem(hc.Actor, a)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			payload := map[string]interface{}{}
			if initiator != "" {
				payload["entityId"] = initiator
			}
			if v := pStr(hc.Payload, "reason"); v != "" {
				payload["reason"] = v
			}
			ev, err := hc.Append(ctx, events.AggregateAgreement, agreementID, spec.eventType, payload)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if err := hc.RunHooks(ctx, ev); err != nil {
				return OutcomeNothing, nil, err
			}
			return OutcomeTransitioned, map[string]interface{}{"agreementId": agreementID, "status": string(spec.target)}, nil
		},
	}
}

// consentingParty resolves who is consenting: the entity actor itself, or
// for a system actor the party named in the payload is implied elsewhere.
func consentingParty(actor events.Actor, a *aggregate.Agreement) (string, error) {
	if actor.Type != events.ActorEntity {
		return "", fmt.Errorf("%w: consent requires an entity actor", ErrValidation)
	}
	p := a.Party(actor.EntityID)
	if p == nil {
		return "", fmt.Errorf("%w: %s is not a party to agreement %s", ErrValidation, actor.EntityID, a.ID)
	}
	if p.Rejected {
		return "", fmt.Errorf("%w: %s already rejected agreement %s", ErrValidation, actor.EntityID, a.ID)
	}
	return actor.EntityID, nil
}

// partyOrSystem allows a system actor through and otherwise requires the
// actor to be a named party.
func partyOrSystem(actor events.Actor, a *aggregate.Agreement) (string, error) {
	if actor.IsSystem() {
		return "", nil
	}
	if actor.Type != events.ActorEntity || !a.HasParty(actor.EntityID) {
		return "", fmt.Errorf("%w: %s is not a party to agreement %s", ErrValidation, actor.ID(), a.ID)
	}
	return actor.EntityID, nil
}

func assetRegister() *Definition {
	return &Definition{
		Name:                "asset:register",
		Category:            CategoryAsset,
		Description:         "Register an asset",
		RequiredPermissions: []string{"asset:register"},
		PayloadSchema: `{
			"type": "object",
			"required": ["assetType"],
			"properties": {
				"assetType": {"type": "string", "minLength": 1},
				"assetId": {"type": "string"},
				"ownerId": {"type": "string"},
				"quantity": {"type": "number", "minimum": 0},
				"properties": {"type": "object"},
				"establishedBy": {"type": "string"}
			}
		}`,
		Next: []string{"container:deposit", "container:create"},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			assetID := orNewID(pStr(hc.Payload, "assetId"))
			existing, err := hc.Repo.GetAsset(ctx, assetID)
			if err == nil && existing.Exists() {
				return OutcomeNothing, nil, fmt.Errorf("asset %s: %w", assetID, ErrAlreadyExists)
			}
			ownerID := pStr(hc.Payload, "ownerId")
			if ownerID == "" && hc.Actor.Type == events.ActorEntity {
				ownerID = hc.Actor.EntityID
			}
			payload := map[string]interface{}{
				"assetType": pStr(hc.Payload, "assetType"),
				"ownerId":   ownerID,
			}
			if q, ok := pFloat(hc.Payload, "quantity"); ok {
				payload["quantity"] = q
			}
			if m := pMap(hc.Payload, "properties"); m != nil {
				payload["properties"] = m
			}
			if v := pStr(hc.Payload, "establishedBy"); v != "" {
				payload["establishedBy"] = v
			}
			if _, err := hc.Append(ctx, events.AggregateAsset, assetID, events.TypeAssetRegistered, payload); err != nil {
				return OutcomeNothing, nil, err
			}
			return OutcomeCreated, map[string]interface{}{"assetId": assetID}, nil
		},
	}
}
