// Package auth verifies the bearer token presented at the websocket
// handshake. Tokens are issued elsewhere; this side only validates them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

var ErrUnauthorized = errors.New("unauthorized")

type claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
}

// identity prefers the explicit userId claim over the subject.
func (c *claims) identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// JWTAuthenticator validates tokens signed either with a shared HMAC secret
// or by a key from a JWKS endpoint.
type JWTAuthenticator struct {
	keyfunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
	opts    []jwt.ParserOption
}

func NewHMAC(secret, issuer string) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("auth: empty secret")
	}
	key := []byte(secret)
	a := &JWTAuthenticator{
		keyfunc: func(*jwt.Token) (any, error) { return key, nil },
		opts: []jwt.ParserOption{
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
		},
	}
	if issuer != "" {
		a.opts = append(a.opts, jwt.WithIssuer(issuer))
	}
	return a, nil
}

// NewJWKS fetches the key set once and keeps it refreshed in the background
// until ctx is done or Close is called.
func NewJWKS(ctx context.Context, jwksURL, issuer string) (*JWTAuthenticator, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   5 * time.Minute,
		RefreshRateLimit:  time.Minute,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Error().Err(err).Str("module", "auth").Msg("JWKS refresh error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}
	log.Info().Str("module", "auth").Str("jwks_url", jwksURL).Msg("JWKS loaded")

	a := &JWTAuthenticator{
		keyfunc: jwks.Keyfunc,
		jwks:    jwks,
		opts:    []jwt.ParserOption{jwt.WithExpirationRequired()},
	}
	if issuer != "" {
		a.opts = append(a.opts, jwt.WithIssuer(issuer))
	}
	return a, nil
}

func (a *JWTAuthenticator) Authenticate(token string) (domain.UserID, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, a.keyfunc, a.opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	id, err := domain.ParseUserID(c.identity())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return id, nil
}

// Close stops the JWKS refresh goroutine, if any.
func (a *JWTAuthenticator) Close() {
	if a.jwks != nil {
		a.jwks.EndBackground()
	}
}
