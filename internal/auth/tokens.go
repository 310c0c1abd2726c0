// Package auth issues and verifies the HS256 bearer tokens accepted by the
// reference notifications API. The token subject is the user id.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is how long issued tokens stay valid.
const DefaultTTL = time.Hour

var (
	ErrTokenInvalid = errors.New("invalid access token")
	ErrTokenExpired = errors.New("access token has expired")
)

// Claims are the verified claims of a bearer token.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenConfig configures Tokens. Issuer and Audience are checked only when set.
type TokenConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
	TTL        time.Duration

	// Now drives issued-at, expiry and verification. Defaults to time.Now.
	Now func() time.Time
}

// Tokens issues and verifies bearer tokens.
type Tokens struct {
	key    []byte
	cfg    TokenConfig
	parser *jwt.Parser
}

// NewTokens creates a token service.
func NewTokens(cfg TokenConfig) *Tokens {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Tokens{key: []byte(cfg.SigningKey), cfg: cfg, parser: jwt.NewParser(opts...)}
}

// Issue signs a token for userID and reports when it expires.
func (t *Tokens) Issue(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("auth: user id is required")
	}

	now := t.cfg.Now()
	expires := now.Add(t.cfg.TTL)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    t.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	if t.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{t.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks the signature and time window of raw and returns its claims.
// Failures wrap ErrTokenExpired or ErrTokenInvalid.
func (t *Tokens) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := t.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}
