// Package auth validates bearer tokens for the gateway. The production
// validator verifies EdDSA JWTs against the identity provider's JWKS
// endpoint; a mock validator backs DEV_MODE and tests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation failures. The gateway maps all of these to 401 except the
// internal ones, which become 500.
var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrInvalidAudience = errors.New("invalid audience")
	ErrMissingClaim    = errors.New("missing claim")
	ErrJWKSUnavailable = errors.New("jwks unavailable")
)

// Claims is the validated identity extracted from a token.
type Claims struct {
	IdentityID  uuid.UUID
	NamespaceID uuid.UUID
	SessionID   uuid.UUID
	MFAVerified bool
	ExpiresAt   time.Time
}

// Validator checks a bearer token and returns its claims.
type Validator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// MockValidator accepts tokens of the form
// "test-token:<identity-uuid>:<namespace-uuid>". It backs DEV_MODE and
// handler tests; never enable it in production.
type MockValidator struct {
	MFAVerified bool
}

// Validate parses the mock token format.
func (m *MockValidator) Validate(_ context.Context, token string) (*Claims, error) {
	rest, ok := strings.CutPrefix(token, "test-token:")
	if !ok {
		return nil, fmt.Errorf("%w: expected test-token:<identity>:<namespace>", ErrInvalidToken)
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: expected test-token:<identity>:<namespace>", ErrInvalidToken)
	}
	identity, err := uuid.Parse(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad identity uuid", ErrInvalidToken)
	}
	namespace, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad namespace uuid", ErrInvalidToken)
	}
	return &Claims{
		IdentityID:  identity,
		NamespaceID: namespace,
		SessionID:   uuid.New(),
		MFAVerified: m.MFAVerified,
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}
