package intents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
)

func entityGet() *Definition {
	return &Definition{
		Name:        "entity:get",
		Category:    CategoryQuery,
		Description: "Read an entity's current or as-of state",
		PayloadSchema: `{
			"type": "object",
			"required": ["entityId"],
			"properties": {
				"entityId": {"type": "string", "minLength": 1},
				"asOf": {"type": "number"}
			}
		}`,
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			entityID := pStr(hc.Payload, "entityId")
			var p *aggregate.Party
			var err error
			if asOf := pInt(hc.Payload, "asOf"); asOf > 0 {
				p, err = hc.Repo.GetPartyAsOf(ctx, entityID, asOf)
			} else {
				p, err = hc.Repo.GetParty(ctx, entityID)
			}
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if !p.Exists() {
				return OutcomeNothing, nil, fmt.Errorf("entity %s: %w", entityID, aggregate.ErrAggregateNotFound)
			}
			return OutcomeQueried, map[string]interface{}{"entity": asJSON(p)}, nil
		},
	}
}

func agreementGet() *Definition {
	return &Definition{
		Name:        "agreement:get",
		Category:    CategoryQuery,
		Description: "Read an agreement's current or as-of state",
		PayloadSchema: `{
			"type": "object",
			"required": ["agreementId"],
			"properties": {
				"agreementId": {"type": "string", "minLength": 1},
				"asOf": {"type": "number"}
			}
		}`,
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			agreementID := pStr(hc.Payload, "agreementId")
			var a *aggregate.Agreement
			var err error
			if asOf := pInt(hc.Payload, "asOf"); asOf > 0 {
				a, err = hc.Repo.GetAgreementAsOf(ctx, agreementID, asOf)
			} else {
				a, err = hc.Repo.GetAgreement(ctx, agreementID)
			}
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if !a.Exists() {
				return OutcomeNothing, nil, fmt.Errorf("agreement %s: %w", agreementID, aggregate.ErrAggregateNotFound)
			}
			return OutcomeQueried, map[string]interface{}{"agreement": asJSON(a)}, nil
		},
	}
}

func containerGet() *Definition {
	return &Definition{
		Name:        "container:get",
		Category:    CategoryQuery,
		Description: "Read a container's current or as-of state",
		PayloadSchema: `{
			"type": "object",
			"required": ["containerId"],
			"properties": {
				"containerId": {"type": "string", "minLength": 1},
				"asOf": {"type": "number"}
			}
		}`,
		Handler: func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
			containerID := pStr(hc.Payload, "containerId")
			var c *aggregate.Container
			var err error
			if asOf := pInt(hc.Payload, "asOf"); asOf > 0 {
				c, err = hc.Repo.GetContainerAsOf(ctx, containerID, asOf)
			} else {
				c, err = hc.Repo.GetContainer(ctx, containerID)
			}
			if err != nil {
				return OutcomeNothing, nil, err
			}
			if !c.Exists() {
				return OutcomeNothing, nil, fmt.Errorf("container %s: %w", containerID, aggregate.ErrAggregateNotFound)
			}
			return OutcomeQueried, map[string]interface{}{"container": asJSON(c)}, nil
		},
	}
}

// asJSON flattens an aggregate state into the plain-JSON value space so
// results serialize the same from every transport.
func asJSON(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
