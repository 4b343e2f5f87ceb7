package intents

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Covenant-Labs/covenant/core/pkg/agreement"
	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/canonicalize"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/id"
)

// RealmInfo is one realm as listed by realm:list.
type RealmInfo struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	GovernanceAgreementID string `json:"governanceAgreementId,omitempty"`
	OwnerID               string `json:"ownerId,omitempty"`
}

// RealmSource lists realms. Served by the realms projection; when nil the
// realm:list handler falls back to a log scan.
type RealmSource interface {
	Realms(ctx context.Context) ([]RealmInfo, error)
}

// RegisterBuiltinIntents registers every built-in intent on r.
func RegisterBuiltinIntents(r *Registry) error {
	defs := []*Definition{
		registerIntent(),
		realmCreate(),
		realmList(),
		agreementPropose(),
		agreementConsent(),
		agreementReject(),
		agreementTerminate(),
		agreementDispute(),
		agreementResolve(),
		assetRegister(),
		containerCreate(),
		containerDeposit(),
		containerWithdraw(),
		containerTransfer(),
		apiKeyCreate(),
		apiKeyRevoke(),
		entityGet(),
		agreementGet(),
		containerGet(),
	}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func registerIntent() *Definition {
	return &Definition{
		Name:        "register",
		Category:    CategoryEntity,
		Description: "Register a new entity",
		PayloadSchema: `{
			"type": "object",
			"required": ["name"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"entityType": {"type": "string"},
				"entityId": {"type": "string"},
				"realmId": {"type": "string"},
				"identifiers": {"type": "object"},
				"contacts": {"type": "object"}
			}
		}`,
		Next: []string{"agreement:propose", "entity:get"},
		Examples: []map[string]interface{}{
			{"name": "Ada Lovelace", "entityType": "Person"},
		},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			entityID := pStr(hc.Payload, "entityId")
			if entityID == "" {
				entityID = id.New()
			}
			existing, err := hc.Repo.GetParty(ctx, entityID)
			if err == nil && existing.Exists() {
				return OutcomeNothing, nil, fmt.Errorf("entity %s: %w", entityID, ErrAlreadyExists)
			}
			payload := map[string]interface{}{
				"name": pStr(hc.Payload, "name"),
			}
			if v := pStr(hc.Payload, "entityType"); v != "" {
				payload["entityType"] = v
			}
			if v := pStr(hc.Payload, "realmId"); v != "" {
				payload["realmId"] = v
			}
			if m := pMap(hc.Payload, "identifiers"); m != nil {
				payload["identifiers"] = m
			}
			if m := pMap(hc.Payload, "contacts"); m != nil {
				payload["contacts"] = m
			}
			if _, err := hc.Append(ctx, events.AggregateParty, entityID, events.TypeEntityCreated, payload); err != nil {
				return OutcomeNothing, nil, err
			}
			return OutcomeCreated, map[string]interface{}{"entityId": entityID}, nil
		},
	}
}

// realmCreate provisions a tenant: a system entity and an organization, a
// tenant license between them, the realm container (via the activation
// hook), and the founder api key.
func realmCreate() *Definition {
	return &Definition{
		Name:                "realm:create",
		Category:            CategoryEntity,
		Description:         "Provision a new realm with its founding organization",
		RequiredPermissions: []string{"realm:create"},
		PayloadSchema: `{
			"type": "object",
			"required": ["name"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"entityId": {"type": "string"},
				"systemEntityId": {"type": "string"},
				"realmContainerId": {"type": "string"},
				"agreementId": {"type": "string"}
			}
		}`,
		Next: []string{"realm:list", "agreement:propose", "apikey:create"},
		Examples: []map[string]interface{}{
			{"name": "Acme"},
		},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			name := pStr(hc.Payload, "name")
			systemEntityID := orNewID(pStr(hc.Payload, "systemEntityId"))
			orgID := orNewID(pStr(hc.Payload, "entityId"))
			realmContainerID := orNewID(pStr(hc.Payload, "realmContainerId"))
			agreementID := orNewID(pStr(hc.Payload, "agreementId"))

			for _, nested := range []Request{
				{
					Intent: "register",
					Actor:  hc.Actor,
					Payload: map[string]interface{}{
						"entityId":   systemEntityID,
						"name":       name + " System",
						"entityType": string(aggregate.PartySystem),
						"realmId":    realmContainerID,
					},
				},
				{
					Intent: "register",
					Actor:  hc.Actor,
					Payload: map[string]interface{}{
						"entityId":   orgID,
						"name":       name,
						"entityType": string(aggregate.PartyOrganization),
						"realmId":    realmContainerID,
					},
				},
			} {
				nested.Timestamp = hc.Timestamp
				res := hc.Dispatcher.Dispatch(ctx, nested)
				hc.RecordResult(res)
				if !res.Success {
					return OutcomeNothing, nil, fmt.Errorf("realm bootstrap: %s", res.Errors[0].Message)
				}
			}

			_, err := hc.Append(ctx, events.AggregateAgreement, agreementID, events.TypeAgreementProposed, map[string]interface{}{
				"agreementType": agreement.TypeTenantLicense,
				"proposedBy":    systemEntityID,
				"realmId":       realmContainerID,
				"parties": []interface{}{
					map[string]interface{}{"entityId": systemEntityID, "role": agreement.RoleLicensor},
					map[string]interface{}{"entityId": orgID, "role": agreement.RoleLicensee},
				},
				"terms": map[string]interface{}{
					"realmName":        name,
					"realmContainerId": realmContainerID,
				},
			})
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if _, err := hc.Append(ctx, events.AggregateAgreement, agreementID, events.TypePartyConsented, map[string]interface{}{
				"entityId": orgID,
				"method":   string(agreement.ConsentImplicit),
			}); err != nil {
				return OutcomeNothing, nil, err
			}
			activated, err := hc.Append(ctx, events.AggregateAgreement, agreementID, events.TypeAgreementActivated, nil)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			// The tenant-license activation hook creates the realm container.
			if err := hc.RunHooks(ctx, activated); err != nil {
				return OutcomeNothing, nil, err
			}

			apiKeyID, rawKey, err := appendApiKey(ctx, hc, apiKeyGrant{
				EntityID:      orgID,
				RealmID:       realmContainerID,
				Scopes:        []string{"*:*"},
				EstablishedBy: agreementID,
			})
			if err != nil {
				return OutcomeNothing, nil, err
			}

			return OutcomeCreated, map[string]interface{}{
				"realm":          map[string]interface{}{"id": realmContainerID, "name": name},
				"entityId":       orgID,
				"systemEntityId": systemEntityID,
				"agreementId":    agreementID,
				"apiKeyId":       apiKeyID,
				"apiKey":         rawKey,
			}, nil
		},
	}
}

func realmList() *Definition {
	return &Definition{
		Name:        "realm:list",
		Category:    CategoryQuery,
		Description: "List all realms",
		Next:        []string{"realm:create", "container:get"},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			var realms []RealmInfo
			var err error
			if hc.Realms != nil {
				realms, err = hc.Realms.Realms(ctx)
			}
			if hc.Realms == nil || err != nil {
				realms, err = scanRealms(ctx, hc)
				if err != nil {
					return OutcomeNothing, nil, err
				}
			}
			listed := make([]interface{}, 0, len(realms))
			for _, r := range realms {
				listed = append(listed, map[string]interface{}{
					"id":                    r.ID,
					"name":                  r.Name,
					"governanceAgreementId": r.GovernanceAgreementID,
					"ownerId":               r.OwnerID,
				})
			}
			return OutcomeQueried, map[string]interface{}{"realms": listed}, nil
		},
	}
}

// scanRealms is the log-scan fallback behind the realms projection.
func scanRealms(ctx context.Context, hc *Context) ([]RealmInfo, error) {
	evs, err := hc.Store.GetBySequence(ctx, 1, 0)
	if err != nil {
		return nil, err
	}
	var realms []RealmInfo
	for _, e := range evs {
		if e.Type != events.TypeContainerCreated {
			continue
		}
		if pStr(e.Payload, "containerType") != "Realm" {
			continue
		}
		realms = append(realms, RealmInfo{
			ID:                    e.AggregateID,
			Name:                  pStr(e.Payload, "name"),
			GovernanceAgreementID: pStr(e.Payload, "governanceAgreementId"),
			OwnerID:               pStr(e.Payload, "ownerId"),
		})
	}
	return realms, nil
}

type apiKeyGrant struct {
	EntityID      string
	RealmID       string
	Scopes        []string
	ExpiresAt     int64
	EstablishedBy string
}

// appendApiKey mints a secret, stores only its hash, and returns the secret
// exactly once.
func appendApiKey(ctx context.Context, hc *Context, grant apiKeyGrant) (apiKeyID, rawKey string, err error) {
	apiKeyID = id.New()
	rawKey = "cov_" + uuid.NewString()
	payload := map[string]interface{}{
		"keyHash":  canonicalize.Hash([]byte(rawKey)),
		"entityId": grant.EntityID,
	}
	if grant.RealmID != "" {
		payload["realmId"] = grant.RealmID
	}
	if len(grant.Scopes) > 0 {
		scopes := make([]interface{}, 0, len(grant.Scopes))
		for _, s := range grant.Scopes {
			scopes = append(scopes, s)
		}
		payload["scopes"] = scopes
	}
	if grant.ExpiresAt > 0 {
		payload["expiresAt"] = grant.ExpiresAt
	}
	if grant.EstablishedBy != "" {
		payload["establishedBy"] = grant.EstablishedBy
	}
	if _, err := hc.Append(ctx, events.AggregateApiKey, apiKeyID, events.TypeApiKeyCreated, payload); err != nil {
		return "", "", err
	}
	return apiKeyID, rawKey, nil
}

func orNewID(v string) string {
	if v == "" {
		return id.New()
	}
	return v
}

// Payload accessors; payloads arrive as decoded JSON.

func pStr(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func pMap(m map[string]interface{}, key string) map[string]interface{} {
	v, _ := m[key].(map[string]interface{})
	return v
}

func pSlice(m map[string]interface{}, key string) []interface{} {
	v, _ := m[key].([]interface{})
	return v
}

func pFloat(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func pInt(m map[string]interface{}, key string) int64 {
	f, _ := pFloat(m, key)
	return int64(f)
}

func pStrings(m map[string]interface{}, key string) []string {
	raw := pSlice(m, key)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
