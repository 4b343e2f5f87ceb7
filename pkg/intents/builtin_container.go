package intents

import (
	"context"
	"fmt"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/container"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
)

const physicsSchema = `{
	"type": "object",
	"required": ["fungibility", "topology", "permeability", "execution"],
	"properties": {
		"fungibility": {"type": "string", "enum": ["Strict", "Versioned", "Transient"]},
		"topology": {"type": "string", "enum": ["Values", "Objects", "Subjects", "Links"]},
		"permeability": {"type": "string", "enum": ["Sealed", "Gated", "Collaborative", "Open"]},
		"execution": {"type": "string", "enum": ["Disabled", "Sandboxed", "Full"]}
	}
}`

func containerCreate() *Definition {
	return &Definition{
		Name:                "container:create",
		Category:            CategoryAsset,
		Description:         "Create a container with explicit physics",
		RequiredPermissions: []string{"container:create"},
		PayloadSchema: `{
			"type": "object",
			"required": ["name", "containerType", "physics"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"containerId": {"type": "string"},
				"containerType": {"type": "string", "minLength": 1},
				"physics": ` + physicsSchema + `,
				"governanceAgreementId": {"type": "string"},
				"realmId": {"type": "string"},
				"parentContainerId": {"type": "string"}
			}
		}`,
		Next: []string{"container:deposit", "container:get"},
		Examples: []map[string]interface{}{
			{
				"name":          "Treasury",
				"containerType": "wallet",
				"physics": map[string]interface{}{
					"fungibility": "Strict", "topology": "Values",
					"permeability": "Gated", "execution": "Disabled",
				},
			},
		},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			containerID := orNewID(pStr(hc.Payload, "containerId"))
			existing, err := hc.Repo.GetContainer(ctx, containerID)
			if err == nil && existing.Exists() {
				return OutcomeNothing, nil, fmt.Errorf("container %s: %w", containerID, ErrAlreadyExists)
			}
			ownerID := ""
			if hc.Actor.Type == events.ActorEntity {
				ownerID = hc.Actor.EntityID
			}
			payload := map[string]interface{}{
				"name":          pStr(hc.Payload, "name"),
				"containerType": pStr(hc.Payload, "containerType"),
				"physics":       pMap(hc.Payload, "physics"),
			}
			if ownerID != "" {
				payload["ownerId"] = ownerID
			}
			for _, key := range []string{"governanceAgreementId", "realmId", "parentContainerId"} {
				if v := pStr(hc.Payload, key); v != "" {
					payload[key] = v
				}
			}
			if _, ok := payload["realmId"]; !ok && hc.Realm != "" {
				payload["realmId"] = hc.Realm
			}
			if _, err := hc.Append(ctx, events.AggregateContainer, containerID, events.TypeContainerCreated, payload); err != nil {
				return OutcomeNothing, nil, err
			}
			return OutcomeCreated, map[string]interface{}{"containerId": containerID}, nil
		},
	}
}

func containerDeposit() *Definition {
	return &Definition{
		Name:                "container:deposit",
		Category:            CategoryAsset,
		Description:         "Deposit an item into a container",
		RequiredPermissions: []string{"container:deposit"},
		PayloadSchema: `{
			"type": "object",
			"required": ["containerId", "itemId"],
			"properties": {
				"containerId": {"type": "string", "minLength": 1},
				"itemId": {"type": "string", "minLength": 1},
				"itemType": {"type": "string"},
				"kind": {"type": "string", "enum": ["Value", "Object", "Subject", "Link"]},
				"quantity": {"type": "number", "exclusiveMinimum": 0},
				"metadata": {"type": "object"},
				"governingAgreementId": {"type": "string"}
			}
		}`,
		Next: []string{"container:get", "container:withdraw", "container:transfer"},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			ev, err := hc.Containers.DepositItem(ctx, hc.Actor, hc.Timestamp, hc.CommandID, container.Deposit{
				ContainerID:          pStr(hc.Payload, "containerId"),
				ItemID:               pStr(hc.Payload, "itemId"),
				ItemType:             pStr(hc.Payload, "itemType"),
				Kind:                 container.ItemKind(pStr(hc.Payload, "kind")),
				Quantity:             optFloat(hc.Payload, "quantity"),
				Metadata:             pMap(hc.Payload, "metadata"),
				GoverningAgreementID: pStr(hc.Payload, "governingAgreementId"),
			})
			// A physics rejection still appends a DepositAttempted event.
			hc.Record(ev)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			return OutcomeUpdated, map[string]interface{}{"containerId": pStr(hc.Payload, "containerId")}, nil
		},
	}
}

func containerWithdraw() *Definition {
	return &Definition{
		Name:                "container:withdraw",
		Category:            CategoryAsset,
		Description:         "Withdraw an item from a container",
		RequiredPermissions: []string{"container:withdraw"},
		PayloadSchema: `{
			"type": "object",
			"required": ["containerId", "itemId"],
			"properties": {
				"containerId": {"type": "string", "minLength": 1},
				"itemId": {"type": "string", "minLength": 1},
				"quantity": {"type": "number", "exclusiveMinimum": 0},
				"governingAgreementId": {"type": "string"}
			}
		}`,
		Next: []string{"container:get"},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			ev, err := hc.Containers.WithdrawItem(ctx, hc.Actor, hc.Timestamp, hc.CommandID, container.Withdrawal{
				ContainerID:          pStr(hc.Payload, "containerId"),
				ItemID:               pStr(hc.Payload, "itemId"),
				Quantity:             optFloat(hc.Payload, "quantity"),
				GoverningAgreementID: pStr(hc.Payload, "governingAgreementId"),
			})
			hc.Record(ev)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			return OutcomeUpdated, map[string]interface{}{"containerId": pStr(hc.Payload, "containerId")}, nil
		},
	}
}

func containerTransfer() *Definition {
	return &Definition{
		Name:                "container:transfer",
		Category:            CategoryAsset,
		Description:         "Move or copy an item between containers",
		RequiredPermissions: []string{"container:transfer"},
		PayloadSchema: `{
			"type": "object",
			"required": ["sourceId", "destId", "itemId"],
			"properties": {
				"sourceId": {"type": "string", "minLength": 1},
				"destId": {"type": "string", "minLength": 1},
				"itemId": {"type": "string", "minLength": 1},
				"quantity": {"type": "number", "exclusiveMinimum": 0},
				"governingAgreementId": {"type": "string"}
			}
		}`,
		Next: []string{"container:get"},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			mode, emitted, err := hc.Containers.TransferItem(ctx, hc.Actor, hc.Timestamp, hc.CommandID, container.Transfer{
				SourceID:             pStr(hc.Payload, "sourceId"),
				DestID:               pStr(hc.Payload, "destId"),
				ItemID:               pStr(hc.Payload, "itemId"),
				Quantity:             optFloat(hc.Payload, "quantity"),
				GoverningAgreementID: pStr(hc.Payload, "governingAgreementId"),
			})
			hc.Record(emitted...)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			return OutcomeTransferred, map[string]interface{}{"mode": string(mode)}, nil
		},
	}
}

func apiKeyCreate() *Definition {
	return &Definition{
		Name:                "apikey:create",
		Category:            CategoryMeta,
		Description:         "Mint an api key; the secret is returned exactly once",
		RequiredPermissions: []string{"apikey:create"},
		PayloadSchema: `{
			"type": "object",
			"required": ["establishedBy"],
			"properties": {
				"entityId": {"type": "string"},
				"realmId": {"type": "string"},
				"scopes": {"type": "array", "items": {"type": "string"}},
				"expiresAt": {"type": "number"},
				"establishedBy": {"type": "string", "minLength": 1}
			}
		}`,
		Next: []string{"apikey:revoke"},
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			establishedBy := pStr(hc.Payload, "establishedBy")
			g, err := hc.Repo.GetAgreement(ctx, establishedBy)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if !g.Exists() || g.Status != aggregate.StatusActive {
				return OutcomeNothing, nil, fmt.Errorf("%w: establishing agreement %s is not active", ErrValidation, establishedBy)
			}
			entityID := pStr(hc.Payload, "entityId")
			if entityID == "" {
				if hc.Actor.Type != events.ActorEntity {
					return OutcomeNothing, nil, fmt.Errorf("%w: entityId required for non-entity actors", ErrValidation)
				}
				entityID = hc.Actor.EntityID
			}
			realmID := pStr(hc.Payload, "realmId")
			if realmID == "" {
				realmID = hc.Realm
			}
			apiKeyID, rawKey, err := appendApiKey(ctx, hc, apiKeyGrant{
				EntityID:      entityID,
				RealmID:       realmID,
				Scopes:        pStrings(hc.Payload, "scopes"),
				ExpiresAt:     pInt(hc.Payload, "expiresAt"),
				EstablishedBy: establishedBy,
			})
			if err != nil {
				return OutcomeNothing, nil, err
			}
			return OutcomeCreated, map[string]interface{}{
				"apiKeyId": apiKeyID,
				"apiKey":   rawKey,
			}, nil
		},
	}
}

func apiKeyRevoke() *Definition {
	return &Definition{
		Name:                "apikey:revoke",
		Category:            CategoryMeta,
		Description:         "Revoke an api key",
		RequiredPermissions: []string{"apikey:revoke"},
		PayloadSchema: `{
			"type": "object",
			"required": ["apiKeyId"],
			"properties": {
				"apiKeyId": {"type": "string", "minLength": 1},
				"reason": {"type": "string"}
			}
		}`,
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			apiKeyID := pStr(hc.Payload, "apiKeyId")
			k, err := hc.Repo.GetApiKey(ctx, apiKeyID)
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if !k.Exists() {
				return OutcomeNothing, nil, fmt.Errorf("api key %s: %w", apiKeyID, aggregate.ErrAggregateNotFound)
			}
			if k.Revoked {
				return OutcomeNothing, map[string]interface{}{"apiKeyId": apiKeyID}, nil
			}
			payload := map[string]interface{}{}
			if v := pStr(hc.Payload, "reason"); v != "" {
				payload["reason"] = v
			}
			if _, err := hc.Append(ctx, events.AggregateApiKey, apiKeyID, events.TypeApiKeyRevoked, payload); err != nil {
				return OutcomeNothing, nil, err
			}
			return OutcomeUpdated, map[string]interface{}{"apiKeyId": apiKeyID}, nil
		},
	}
}

func optFloat(m map[string]interface{}, key string) *float64 {
	if f, ok := pFloat(m, key); ok {
		return &f
	}
	return nil
}
