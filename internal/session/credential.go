package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lumimeds/realtime/internal/common/cnst"
)

// CredentialProvider supplies a bearer token per connect call. Credential
// issuance and refresh live outside this module; a rotated credential means
// a full session teardown and fresh Connect, never an in-place swap.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredential is a fixed bearer token.
type StaticCredential string

var _ CredentialProvider = StaticCredential("")

// Token implements CredentialProvider.Token
func (s StaticCredential) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", cnst.ErrNoCredential
	}
	return string(s), nil
}

// JWTCredential wraps a JWT bearer token and refuses to hand it out once
// its exp claim has passed, so a session never dials with a token the
// server is guaranteed to reject.
type JWTCredential struct {
	token     string
	expiresAt time.Time
}

var _ CredentialProvider = (*JWTCredential)(nil)

// NewJWTCredential parses the token's registered claims without verifying
// the signature; verification is the server's job.
func NewJWTCredential(token string) (*JWTCredential, error) {
	if token == "" {
		return nil, cnst.ErrNoCredential
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse credential: %w", err)
	}

	c := &JWTCredential{token: token}
	if claims.ExpiresAt != nil {
		c.expiresAt = claims.ExpiresAt.Time
	}
	return c, nil
}

// Token implements CredentialProvider.Token
func (c *JWTCredential) Token(_ context.Context) (string, error) {
	if !c.expiresAt.IsZero() && time.Now().After(c.expiresAt) {
		return "", fmt.Errorf("%w: credential expired at %s", cnst.ErrNoCredential, c.expiresAt.Format(time.RFC3339))
	}
	return c.token, nil
}

// ExpiresAt returns the token's expiry, or the zero time when the token
// carries no exp claim.
func (c *JWTCredential) ExpiresAt() time.Time {
	return c.expiresAt
}
