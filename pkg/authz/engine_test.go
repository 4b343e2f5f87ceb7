package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/agreement"
	"github.com/Covenant-Labs/covenant/core/pkg/authz"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
)

type fakeSource struct {
	agreements []*aggregate.Agreement
}

func (f fakeSource) AgreementsForParty(ctx context.Context, entityID string) ([]*aggregate.Agreement, error) {
	var out []*aggregate.Agreement
	for _, a := range f.agreements {
		if a.HasParty(entityID) {
			out = append(out, a)
		}
	}
	return out, nil
}

func newEngine(t *testing.T, agreements ...*aggregate.Agreement) *authz.Engine {
	t.Helper()
	reg := agreement.NewRegistry()
	require.NoError(t, agreement.RegisterBuiltinTypes(reg))
	return authz.NewEngine(fakeSource{agreements: agreements}, reg)
}

func employmentAgreement(id, realm string, status aggregate.AgreementStatus) *aggregate.Agreement {
	return &aggregate.Agreement{
		ID:            id,
		AgreementType: "employment",
		RealmID:       realm,
		Status:        status,
		Parties: []aggregate.AgreementParty{
			{EntityID: "org-1", Role: agreement.RoleEmployer},
			{EntityID: "alice", Role: agreement.RoleEmployee},
		},
	}
}

func TestAuthorizeSystemBypass(t *testing.T) {
	e := newEngine(t)
	d, err := e.Authorize(context.Background(), authz.Request{
		Actor: events.SystemActor("bootstrap"), Resource: "realm", Action: "create",
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAuthorizeDeniesActorWithoutAgreements(t *testing.T) {
	e := newEngine(t)
	d, err := e.Authorize(context.Background(), authz.Request{
		Actor: events.EntityActor("alice"), Resource: "agreement", Action: "propose", Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Empty(t, d.GrantedBy)
}

func TestAuthorizeGrantsFromActiveAgreement(t *testing.T) {
	e := newEngine(t, employmentAgreement("a-1", "r-1", aggregate.StatusActive))
	d, err := e.Authorize(context.Background(), authz.Request{
		Actor: events.EntityActor("alice"), Resource: "container", Action: "deposit",
		Realm: "r-1", Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{"a-1"}, d.GrantedBy)
	assert.Equal(t, []string{"a-1"}, d.EvaluatedAgreements)

	// Employee role does not carry employer permissions.
	d, err = e.Authorize(context.Background(), authz.Request{
		Actor: events.EntityActor("alice"), Resource: "agreement", Action: "terminate",
		Realm: "r-1", Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestAuthorizeTerminatedNeverGrants(t *testing.T) {
	e := newEngine(t, employmentAgreement("a-1", "r-1", aggregate.StatusTerminated))
	d, err := e.Authorize(context.Background(), authz.Request{
		Actor: events.EntityActor("alice"), Resource: "container", Action: "deposit",
		Realm: "r-1", Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.EvaluatedAgreements, "a-1", "terminated agreements are still evaluated")
}

func TestAuthorizeValidityWindow(t *testing.T) {
	a := employmentAgreement("a-1", "r-1", aggregate.StatusActive)
	a.EffectiveFrom = 1000
	a.EffectiveUntil = 2000
	e := newEngine(t, a)

	req := authz.Request{
		Actor: events.EntityActor("alice"), Resource: "container", Action: "deposit", Realm: "r-1",
	}
	req.Timestamp = 1500
	d, err := e.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	req.Timestamp = 2500
	d, err = e.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "expired validity window must not grant")
}

func TestAuthorizeRealmScope(t *testing.T) {
	e := newEngine(t, employmentAgreement("a-1", "r-1", aggregate.StatusActive))
	d, err := e.Authorize(context.Background(), authz.Request{
		Actor: events.EntityActor("alice"), Resource: "container", Action: "deposit",
		Realm: "r-other", Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed, "agreement scoped to another realm must not grant")
}

func TestAuthorizeMultipleGrantors(t *testing.T) {
	e := newEngine(t,
		employmentAgreement("a-1", "r-1", aggregate.StatusActive),
		employmentAgreement("a-2", "r-1", aggregate.StatusActive),
	)
	d, err := e.Authorize(context.Background(), authz.Request{
		Actor: events.EntityActor("alice"), Resource: "container", Action: "deposit",
		Realm: "r-1", Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{"a-1", "a-2"}, d.GrantedBy, "grantedBy lists all granting agreements")
}

func TestAuthorizeWildcardGrant(t *testing.T) {
	lic := &aggregate.Agreement{
		ID:            "a-lic",
		AgreementType: agreement.TypeTenantLicense,
		RealmID:       "r-1",
		Status:        aggregate.StatusActive,
		Parties: []aggregate.AgreementParty{
			{EntityID: "sys-1", Role: agreement.RoleLicensor},
			{EntityID: "org-1", Role: agreement.RoleLicensee},
		},
	}
	e := newEngine(t, lic)
	d, err := e.Authorize(context.Background(), authz.Request{
		Actor: events.EntityActor("org-1"), Resource: "anything", Action: "whatever",
		Realm: "r-1", Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed, "licensee wildcard grants everything in the realm")

	// The licensor role carries no grants.
	d, err = e.Authorize(context.Background(), authz.Request{
		Actor: events.EntityActor("sys-1"), Resource: "anything", Action: "whatever",
		Realm: "r-1", Timestamp: 1000,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestPermissionMatches(t *testing.T) {
	cases := []struct {
		grant            string
		resource, action string
		want             bool
	}{
		{"agreement:propose", "agreement", "propose", true},
		{"agreement:propose", "agreement", "terminate", false},
		{"agreement:*", "agreement", "terminate", true},
		{"*:propose", "asset", "propose", true},
		{"*:*", "x", "y", true},
		{"malformed", "x", "y", false},
	}
	for _, tc := range cases {
		got := authz.PermissionMatches(tc.grant, tc.resource, tc.action)
		assert.Equal(t, tc.want, got, "grant %q vs %s:%s", tc.grant, tc.resource, tc.action)
	}
}

func TestSplitPermission(t *testing.T) {
	r, a, ok := authz.SplitPermission("agreement:propose")
	assert.True(t, ok)
	assert.Equal(t, "agreement", r)
	assert.Equal(t, "propose", a)
	_, _, ok = authz.SplitPermission("nocolon")
	assert.False(t, ok)
	_, _, ok = authz.SplitPermission(":action")
	assert.False(t, ok)
}
