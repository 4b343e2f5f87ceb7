// Package authz evaluates attribute-based access control.
//
// There are no standing role records: an actor's permissions at time T are
// the union of the grants declared by the agreement types of every Active
// agreement that names the actor as a party, whose validity window covers T,
// and whose realm scope matches the request. Terminated agreements never
// grant, not even for past timestamps.
package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/agreement"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
)

// Request is one authorization question.
type Request struct {
	Actor     events.Actor
	Action    string // e.g. "propose"
	Resource  string // e.g. "agreement"
	Realm     string // realm scope of the request; "" for realm-less intents
	Timestamp int64  // ms
}

// Permission returns the request as a "resource:action" string.
func (r Request) Permission() string { return r.Resource + ":" + r.Action }

// Decision is the engine's answer.
type Decision struct {
	Allowed             bool     `json:"allowed"`
	Reason              string   `json:"reason"`
	EvaluatedAgreements []string `json:"evaluatedAgreements"`
	GrantedBy           []string `json:"grantedBy"`
}

// AgreementSource enumerates agreements naming an entity. Served by the
// agreements projection in production, with aggregate.Repository as the
// log-scan fallback.
type AgreementSource interface {
	AgreementsForParty(ctx context.Context, entityID string) ([]*aggregate.Agreement, error)
}

// Engine folds active agreements into effective permissions.
type Engine struct {
	source   AgreementSource
	registry *agreement.Registry
}

// NewEngine creates an engine over the given agreement source and type
// registry.
func NewEngine(source AgreementSource, registry *agreement.Registry) *Engine {
	return &Engine{source: source, registry: registry}
}

// Authorize answers req. The error return is reserved for evaluation
// failures (source errors); a denial is a valid Decision, not an error.
func (e *Engine) Authorize(ctx context.Context, req Request) (*Decision, error) {
	if req.Actor.IsSystem() {
		return &Decision{Allowed: true, Reason: "system actor bypass"}, nil
	}
	if req.Actor.Type != events.ActorEntity || req.Actor.EntityID == "" {
		return &Decision{Allowed: false, Reason: "actor is not a registered entity"}, nil
	}

	agreements, err := e.source.AgreementsForParty(ctx, req.Actor.EntityID)
	if err != nil {
		return nil, fmt.Errorf("enumerate agreements for %s: %w", req.Actor.EntityID, err)
	}
	// Deterministic evaluation order regardless of source.
	sort.Slice(agreements, func(i, j int) bool { return agreements[i].ID < agreements[j].ID })

	d := &Decision{}
	for _, a := range agreements {
		d.EvaluatedAgreements = append(d.EvaluatedAgreements, a.ID)
		if a.Status != aggregate.StatusActive {
			continue
		}
		if !a.CoversTime(req.Timestamp) {
			continue
		}
		if !realmMatches(a.RealmID, req.Realm) {
			continue
		}
		def := e.registry.Get(a.AgreementType)
		if def == nil {
			continue
		}
		party := a.Party(req.Actor.EntityID)
		if party == nil {
			continue
		}
		for _, grant := range def.PermissionsForRole(party.Role) {
			if PermissionMatches(grant, req.Resource, req.Action) {
				d.GrantedBy = append(d.GrantedBy, a.ID)
				break
			}
		}
	}

	if len(d.GrantedBy) > 0 {
		d.Allowed = true
		d.Reason = fmt.Sprintf("granted %s by %d active agreement(s)", req.Permission(), len(d.GrantedBy))
	} else {
		d.Reason = fmt.Sprintf("no active agreement grants %s", req.Permission())
	}
	return d, nil
}

// PermissionMatches reports whether a granted "resource:action" string
// covers the requested resource and action. "*" matches anything in either
// position.
func PermissionMatches(grant, resource, action string) bool {
	parts := strings.SplitN(grant, ":", 2)
	if len(parts) != 2 {
		return false
	}
	grantResource, grantAction := parts[0], parts[1]
	if grantResource != "*" && grantResource != resource {
		return false
	}
	if grantAction != "*" && grantAction != action {
		return false
	}
	return true
}

// SplitPermission splits "resource:action" into its parts.
func SplitPermission(permission string) (resource, action string, ok bool) {
	parts := strings.SplitN(permission, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func realmMatches(agreementRealm, requestRealm string) bool {
	if agreementRealm == "" || requestRealm == "" {
		return true
	}
	return agreementRealm == requestRealm
}
