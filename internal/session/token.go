package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/helmdesk/helmdesk/internal/shared"
)

// Claims are the signed token claims: the account's opaque identity and its
// role name, plus the registered expiry and token ID.
type Claims struct {
	Identity string `json:"identity"`
	RoleName string `json:"roleName"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and parses HS256 session tokens.
type TokenIssuer struct {
	secret      []byte
	defaultTTL  time.Duration
	rememberTTL time.Duration
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(secret string, defaultTTL, rememberTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), defaultTTL: defaultTTL, rememberTTL: rememberTTL}
}

// Issue signs a token for the identity with the default or remember-me lifetime.
func (i *TokenIssuer) Issue(identity, roleName string, remember bool, now time.Time) (signed, jti string, expiresAt time.Time, err error) {
	ttl := i.defaultTTL
	if remember {
		ttl = i.rememberTTL
	}
	jti = uuid.NewString()
	expiresAt = now.Add(ttl)
	claims := Claims{
		Identity: identity,
		RoleName: roleName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("session: sign token: %w", err)
	}
	return signed, jti, expiresAt, nil
}

// Parse verifies the signature and expiry and returns the embedded claims.
func (i *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, shared.ErrUnauthorized
	}
	return &claims, nil
}
