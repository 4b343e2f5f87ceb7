// Package agreement defines the agreement type registry and lifecycle.
//
// Authority in this system derives exclusively from agreements: an agreement
// type declares which permissions each party role is granted while the
// agreement is Active. Types also declare the consent quorum required for
// activation and lifecycle hooks that emit derived events.
package agreement

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
)

// ConsentMethod is how a party's consent is captured.
type ConsentMethod string

const (
	ConsentExplicit ConsentMethod = "explicit"
	ConsentImplicit ConsentMethod = "implicit"
)

// RoleSpec declares a party role on an agreement type.
type RoleSpec struct {
	Name          string
	ConsentMethod ConsentMethod
	// Permissions granted to a party holding this role while the agreement
	// is Active, as "resource:action" strings ("*" matches in either
	// position).
	Permissions []string
}

// QuorumKind selects the consent rule.
type QuorumKind string

const (
	// QuorumAllParties: every party must have consented, by any method.
	QuorumAllParties QuorumKind = "all-parties"
	// QuorumAllExplicit: every party must have an explicit consent.
	QuorumAllExplicit QuorumKind = "all-explicit"
	// QuorumRoles: every party holding one of the listed roles must have
	// consented; other parties are not required.
	QuorumRoles QuorumKind = "roles"
)

// Quorum is the explicit consent descriptor carried by every type.
type Quorum struct {
	Kind  QuorumKind
	Roles []string // for QuorumRoles
}

// Satisfied reports whether the agreement's recorded consents meet the
// quorum.
func (q Quorum) Satisfied(a *aggregate.Agreement) bool {
	required := func(p aggregate.AgreementParty) bool {
		if q.Kind != QuorumRoles {
			return true
		}
		for _, role := range q.Roles {
			if p.Role == role {
				return true
			}
		}
		return false
	}
	for _, p := range a.Parties {
		if !required(p) {
			continue
		}
		if p.Rejected {
			return false
		}
		if len(p.Consents) == 0 {
			return false
		}
		if q.Kind == QuorumAllExplicit {
			explicit := false
			for _, c := range p.Consents {
				if ConsentMethod(c.Method) == ConsentExplicit {
					explicit = true
				}
			}
			if !explicit {
				return false
			}
		}
	}
	return len(a.Parties) > 0
}

// Definition is a declarative agreement type.
type Definition struct {
	Type          string
	SchemaVersion string // semver of the terms schema
	TermsSchema   string // JSON Schema for the terms object; "" = any terms
	Roles         []RoleSpec
	Quorum        Quorum

	// Lifecycle hooks; nil hooks are skipped. Hooks may emit derived
	// events through the Emitter; emissions share the triggering intent's
	// causation commandId.
	OnProposed   Hook
	OnActivated  Hook
	OnTerminated Hook

	compiledTerms *jsonschema.Schema
}

// Role returns the role spec by name, or nil.
func (d *Definition) Role(name string) *RoleSpec {
	for i := range d.Roles {
		if d.Roles[i].Name == name {
			return &d.Roles[i]
		}
	}
	return nil
}

// PermissionsForRole returns the permissions the role grants ("" for an
// unknown role).
func (d *Definition) PermissionsForRole(name string) []string {
	if r := d.Role(name); r != nil {
		return r.Permissions
	}
	return nil
}

// ValidateTerms checks terms against the type's schema.
func (d *Definition) ValidateTerms(terms map[string]interface{}) error {
	if d.compiledTerms == nil {
		return nil
	}
	var doc interface{} = map[string]interface{}{}
	if terms != nil {
		doc = terms
	}
	if err := d.compiledTerms.Validate(doc); err != nil {
		return fmt.Errorf("terms for %s: %w", d.Type, err)
	}
	return nil
}

// Registry maps agreement type names to definitions.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Definition)}
}

// Register validates and adds a definition. The terms schema is compiled
// once at registration.
func (r *Registry) Register(d *Definition) error {
	if d.Type == "" {
		return fmt.Errorf("agreement type name required")
	}
	if len(d.Roles) == 0 {
		return fmt.Errorf("agreement type %s declares no roles", d.Type)
	}
	if _, err := semver.NewVersion(d.SchemaVersion); err != nil {
		return fmt.Errorf("agreement type %s schema version: %w", d.Type, err)
	}
	switch d.Quorum.Kind {
	case QuorumAllParties, QuorumAllExplicit:
	case QuorumRoles:
		if len(d.Quorum.Roles) == 0 {
			return fmt.Errorf("agreement type %s: roles quorum lists no roles", d.Type)
		}
	default:
		return fmt.Errorf("agreement type %s: unknown quorum kind %q", d.Type, d.Quorum.Kind)
	}

	if d.TermsSchema != "" {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://covenant.schemas.local/agreements/%s.schema.json", d.Type)
		if err := c.AddResource(url, strings.NewReader(d.TermsSchema)); err != nil {
			return fmt.Errorf("terms schema for %s: %w", d.Type, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return fmt.Errorf("terms schema compile for %s: %w", d.Type, err)
		}
		d.compiledTerms = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[d.Type]; exists {
		return fmt.Errorf("agreement type %s already registered", d.Type)
	}
	r.types[d.Type] = d
	return nil
}

// Get returns the definition, or nil when unregistered.
func (r *Registry) Get(agreementType string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[agreementType]
}

// Types returns the registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	return out
}
