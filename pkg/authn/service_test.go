package authn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
)

func newService(t *testing.T, f *fixture) *Service {
	t.Helper()
	tm, err := NewTokenManager([]byte("test-secret"), "covenant", "covenant-api")
	require.NoError(t, err)
	return NewService(NewVerifier(f.store, aggregate.NewRepository(f.store), nil), tm)
}

func TestAuthenticateRawKey(t *testing.T) {
	f := newFixture(t)
	f.apiKey(t, "key-1", "cov_secret", "org-1", "", 0)

	p, err := newService(t, f).Authenticate(context.Background(), "cov_secret")
	require.NoError(t, err)
	assert.Equal(t, "org-1", p.EntityID)
}

func TestAuthenticateMintedToken(t *testing.T) {
	f := newFixture(t)
	f.apiKey(t, "key-1", "cov_secret", "org-1", "", 0)
	svc := newService(t, f)

	p, err := svc.Authenticate(context.Background(), "cov_secret")
	require.NoError(t, err)

	tok, err := svc.tokens.Mint(p, time.Minute)
	require.NoError(t, err)

	p2, err := svc.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, p.EntityID, p2.EntityID)
	assert.Equal(t, p.ApiKeyID, p2.ApiKeyID)
}

// A valid token stops working the moment its key is revoked or the
// establishing agreement is terminated.
func TestTokenInvalidatedByKeyRevocation(t *testing.T) {
	f := newFixture(t)
	f.activeAgreement(t, "agr-1")
	f.apiKey(t, "key-1", "cov_secret", "org-1", "agr-1", 0)
	svc := newService(t, f)

	p, err := svc.Authenticate(context.Background(), "cov_secret")
	require.NoError(t, err)
	tok, err := svc.tokens.Mint(p, time.Minute)
	require.NoError(t, err)

	f.append(t, events.AggregateApiKey, "key-1", 2, events.TypeApiKeyRevoked, nil)
	_, err = svc.Authenticate(context.Background(), tok)
	assert.ErrorIs(t, err, ErrKeyRevoked)
}

func TestTokenInvalidatedByAgreementTermination(t *testing.T) {
	f := newFixture(t)
	f.activeAgreement(t, "agr-1")
	f.apiKey(t, "key-1", "cov_secret", "org-1", "agr-1", 0)
	svc := newService(t, f)

	p, err := svc.Authenticate(context.Background(), "cov_secret")
	require.NoError(t, err)
	tok, err := svc.tokens.Mint(p, time.Minute)
	require.NoError(t, err)

	f.append(t, events.AggregateAgreement, "agr-1", 3, events.TypeAgreementTerminated, nil)
	_, err = svc.Authenticate(context.Background(), tok)
	assert.ErrorIs(t, err, ErrAgreementNotActive)
}

func TestAuthenticateGarbageRejected(t *testing.T) {
	f := newFixture(t)
	svc := newService(t, f)

	_, err := svc.Authenticate(context.Background(), "not-a-key-or-token")
	assert.Error(t, err)

	svc.tokens = nil
	_, err = svc.Authenticate(context.Background(), "not-a-key-or-token")
	assert.ErrorIs(t, err, ErrUnknownKey)
}
