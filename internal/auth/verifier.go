// Package auth verifies and issues the bearer credentials shared by the REST
// API and the push connection admission path.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredential is returned for malformed, unsigned, expired or
// subject-less tokens.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is the authenticated principal carried by a verified token.
type Identity struct {
	Name string
	Role string
}

// Claims is the token payload. Subject holds the identity name.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier signs and validates HS256 tokens with a process-wide secret.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

// NewVerifier creates a Verifier. A zero ttl issues tokens without expiry.
func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), ttl: ttl}
}

// Verify checks the token signature and returns the subject and role claims.
func (v *Verifier) Verify(token string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}
	return Identity{Name: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for name with an optional role claim.
func (v *Verifier) Issue(name, role string) (string, error) {
	if name == "" {
		return "", errors.New("empty subject")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  name,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if v.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(v.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
