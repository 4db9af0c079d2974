package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWKSValidator verifies EdDSA-signed JWTs against the identity provider's
// JWKS endpoint. Key refresh is handled by keyfunc in the background.
type JWKSValidator struct {
	issuer   string
	audience string
	jwks     keyfunc.Keyfunc
}

// NewJWKSValidator fetches the key set from
// {baseURL}/.well-known/jwks.json and starts background refresh.
func NewJWKSValidator(baseURL, audience string) (*JWKSValidator, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("auth base URL is required")
	}

	jwksURL := baseURL + "/.well-known/jwks.json"
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWKSValidator{
		issuer:   baseURL,
		audience: audience,
		jwks:     jwks,
	}, nil
}

// Validate checks signature, issuer, audience and expiry, then extracts the
// identity claims.
func (v *JWKSValidator) Validate(ctx context.Context, tokenStr string) (*Claims, error) {
	token, err := jwt.Parse(tokenStr, v.jwks.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, ErrInvalidIssuer
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrInvalidAudience
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	identity, err := claimUUID(claims, "sub")
	if err != nil {
		return nil, err
	}
	namespace, err := claimUUID(claims, "namespace_id")
	if err != nil {
		return nil, err
	}
	session, err := claimUUID(claims, "session_id")
	if err != nil {
		return nil, err
	}
	mfa, _ := claims["mfa_verified"].(bool)

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: exp", ErrMissingClaim)
	}

	return &Claims{
		IdentityID:  identity,
		NamespaceID: namespace,
		SessionID:   session,
		MFAVerified: mfa,
		ExpiresAt:   exp.Time,
	}, nil
}

func claimUUID(claims jwt.MapClaims, key string) (uuid.UUID, error) {
	s, _ := claims[key].(string)
	if s == "" {
		return uuid.UUID{}, fmt.Errorf("%w: %s", ErrMissingClaim, key)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %s is not a uuid", ErrInvalidToken, key)
	}
	return id, nil
}
