package authn

import (
	"context"
	"strings"
)

// KeyPrefix marks raw api keys on the wire.
const KeyPrefix = "cov_"

// Service authenticates bearer credentials of either kind: raw api keys by
// hash lookup, minted tokens by signature plus a fresh key re-check.
type Service struct {
	verifier *Verifier
	tokens   *TokenManager
}

// NewService creates an authenticator. tokens may be nil; then only raw
// keys authenticate.
func NewService(verifier *Verifier, tokens *TokenManager) *Service {
	return &Service{verifier: verifier, tokens: tokens}
}

// Authenticate resolves credential into a principal.
func (s *Service) Authenticate(ctx context.Context, credential string) (*Principal, error) {
	if strings.HasPrefix(credential, KeyPrefix) {
		return s.verifier.Verify(ctx, credential)
	}
	if s.tokens == nil {
		return nil, ErrUnknownKey
	}

	claims, err := s.tokens.VerifyToken(credential)
	if err != nil {
		return nil, err
	}
	// The token's JTI is the api key id; the key aggregate remains the
	// authority on revocation and agreement standing.
	return s.verifier.VerifyKeyID(ctx, claims.ID, "")
}
