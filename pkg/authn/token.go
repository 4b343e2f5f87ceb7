package authn

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds bearer token lifetime when no duration is given.
const DefaultTokenTTL = time.Hour

// Claims are the bearer token claims. Subject is the entity id; the api key
// id rides in JTI so revocation can be re-checked on verification.
type Claims struct {
	jwt.RegisteredClaims
	RealmID string   `json:"realmId,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
}

// TokenManager mints and verifies HS256 bearer tokens for authenticated
// principals.
type TokenManager struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewTokenManager creates a token manager. secret must be non-empty.
func NewTokenManager(secret []byte, issuer, audience string) (*TokenManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("authn: empty token secret")
	}
	return &TokenManager{secret: secret, issuer: issuer, audience: audience, now: time.Now}, nil
}

// Mint signs a token for p valid for ttl (DefaultTokenTTL when zero).
func (tm *TokenManager) Mint(p *Principal, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := tm.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        p.ApiKeyID,
			Subject:   p.EntityID,
			Issuer:    tm.issuer,
			Audience:  jwt.ClaimStrings{tm.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		RealmID: p.RealmID,
		Scopes:  p.Scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

// VerifyToken parses and validates a bearer token string.
func (tm *TokenManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return tm.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithAudience(tm.audience),
		jwt.WithTimeFunc(func() time.Time { return tm.now() }),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
