package agreement

import (
	"context"
	"fmt"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
)

// TypeTenantLicense is the agreement that establishes a realm: the licensor
// (platform system entity) grants the licensee (founding organization)
// tenancy. Activation creates the realm container.
const TypeTenantLicense = "tenant-license"

// Built-in role names.
const (
	RoleLicensor = "licensor"
	RoleLicensee = "licensee"
	RoleEmployer = "employer"
	RoleEmployee = "employee"
	RoleLender   = "lender"
	RoleBorrower = "borrower"
	RoleProvider = "provider"
	RoleClient   = "client"
	RoleMember   = "member"
	RoleRealm    = "realm"
)

// RegisterBuiltinTypes installs the built-in agreement types.
func RegisterBuiltinTypes(r *Registry) error {
	defs := []*Definition{
		tenantLicense(),
		employment(),
		loan(),
		service(),
		membership(),
	}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func tenantLicense() *Definition {
	return &Definition{
		Type:          TypeTenantLicense,
		SchemaVersion: "1.0.0",
		TermsSchema: `{
			"type": "object",
			"required": ["realmName", "realmContainerId"],
			"properties": {
				"realmName": {"type": "string", "minLength": 1},
				"realmContainerId": {"type": "string", "minLength": 1}
			}
		}`,
		Roles: []RoleSpec{
			{Name: RoleLicensor, ConsentMethod: ConsentImplicit},
			{Name: RoleLicensee, ConsentMethod: ConsentImplicit, Permissions: []string{"*:*"}},
		},
		Quorum:      Quorum{Kind: QuorumAllParties},
		OnActivated: createRealmContainer,
	}
}

// createRealmContainer emits the realm container when a tenant license
// activates. The container id is fixed in the license terms so activation is
// deterministic and replayable.
func createRealmContainer(ctx context.Context, em Emitter, a *aggregate.Agreement) error {
	realmID, _ := a.Terms["realmContainerId"].(string)
	realmName, _ := a.Terms["realmName"].(string)
	if realmID == "" || realmName == "" {
		return fmt.Errorf("tenant-license %s terms missing realm identity", a.ID)
	}
	var ownerID string
	for _, p := range a.Parties {
		if p.Role == RoleLicensee {
			ownerID = p.EntityID
		}
	}
	_, err := em.Emit(ctx, Derived{
		AggregateType: events.AggregateContainer,
		AggregateID:   realmID,
		Type:          events.TypeContainerCreated,
		Payload: map[string]interface{}{
			"realmId":       realmID,
			"name":          realmName,
			"containerType": "Realm",
			"physics": map[string]interface{}{
				"fungibility":  string(aggregate.FungibilityVersioned),
				"topology":     string(aggregate.TopologySubjects),
				"permeability": string(aggregate.PermeabilityGated),
				"execution":    string(aggregate.ExecutionDisabled),
			},
			"governanceAgreementId": a.ID,
			"ownerId":               ownerID,
		},
	})
	return err
}

func employment() *Definition {
	return &Definition{
		Type:          "employment",
		SchemaVersion: "1.0.0",
		TermsSchema: `{
			"type": "object",
			"properties": {
				"position": {"type": "string"},
				"compensation": {"type": "number", "minimum": 0}
			}
		}`,
		Roles: []RoleSpec{
			{Name: RoleEmployer, ConsentMethod: ConsentExplicit, Permissions: []string{
				"agreement:terminate", "asset:register", "container:transfer",
			}},
			{Name: RoleEmployee, ConsentMethod: ConsentExplicit, Permissions: []string{
				"container:deposit", "container:withdraw",
			}},
		},
		Quorum: Quorum{Kind: QuorumAllExplicit},
	}
}

func loan() *Definition {
	return &Definition{
		Type:          "loan",
		SchemaVersion: "1.0.0",
		TermsSchema: `{
			"type": "object",
			"required": ["principal"],
			"properties": {
				"principal": {"type": "number", "exclusiveMinimum": 0},
				"assetId": {"type": "string"}
			}
		}`,
		Roles: []RoleSpec{
			{Name: RoleLender, ConsentMethod: ConsentExplicit, Permissions: []string{
				"agreement:terminate", "container:transfer",
			}},
			{Name: RoleBorrower, ConsentMethod: ConsentExplicit, Permissions: []string{
				"container:deposit", "container:transfer",
			}},
		},
		Quorum: Quorum{Kind: QuorumAllExplicit},
	}
}

func service() *Definition {
	return &Definition{
		Type:          "service",
		SchemaVersion: "1.0.0",
		Roles: []RoleSpec{
			{Name: RoleProvider, ConsentMethod: ConsentExplicit, Permissions: []string{
				"asset:register", "container:deposit",
			}},
			{Name: RoleClient, ConsentMethod: ConsentExplicit, Permissions: []string{
				"agreement:dispute", "container:withdraw",
			}},
		},
		Quorum: Quorum{Kind: QuorumAllExplicit},
	}
}

// membership binds a party into a realm and grants the baseline write
// permissions inside it.
func membership() *Definition {
	return &Definition{
		Type:          "membership",
		SchemaVersion: "1.0.0",
		Roles: []RoleSpec{
			{Name: RoleRealm, ConsentMethod: ConsentImplicit},
			{Name: RoleMember, ConsentMethod: ConsentExplicit, Permissions: []string{
				"agreement:propose", "asset:register", "container:create",
				"container:deposit", "container:withdraw", "container:transfer",
				"apikey:create",
			}},
		},
		Quorum: Quorum{Kind: QuorumRoles, Roles: []string{RoleMember}},
	}
}
