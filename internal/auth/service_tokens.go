package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = time.Hour

	// TokenIssuer is the iss claim stamped on every Atlas service token.
	TokenIssuer = "atlas-auth"
)

// Role scopes a service token to one caller class via the audience claim.
type Role string

const (
	// RoleCI tokens authenticate build ingestion; subject is the pack id.
	RoleCI Role = "ci"
	// RoleRunner tokens authenticate update/whitelist polling; subject is the pack id.
	RoleRunner Role = "runner"
	// RoleAdmin tokens authenticate the management surface.
	RoleAdmin Role = "admin"
)

// Audience returns the aud claim for the role.
func (r Role) Audience() string {
	return "atlas-" + string(r)
}

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errUnknownRole          = errors.New("unknown token role")
)

// ServiceTokenConfig configures the HS256 service-token issuer.
type ServiceTokenConfig struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// ServiceTokens issues and validates audience-scoped service tokens for CI,
// runners, and the management surface.
type ServiceTokens struct {
	config ServiceTokenConfig
	clock  func() time.Time
}

// NewServiceTokens constructs a ServiceTokens with sane defaults.
func NewServiceTokens(cfg ServiceTokenConfig) *ServiceTokens {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ServiceTokens{
		config: ServiceTokenConfig{
			SigningSecret: cfg.SigningSecret,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// Issue produces a signed token for the role and its expiry in seconds.
// Subject is the pack id for CI and runner tokens, an operator id for admin.
func (t *ServiceTokens) Issue(_ context.Context, role Role, subject string) (string, int64, error) {
	if len(t.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if subject == "" {
		return "", 0, errMissingSubjectClaim
	}
	switch role {
	case RoleCI, RoleRunner, RoleAdmin:
	default:
		return "", 0, fmt.Errorf("%w: %q", errUnknownRole, role)
	}

	now := t.clock().UTC()
	expiresAt := now.Add(t.config.TokenTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    TokenIssuer,
		Audience:  []string{role.Audience()},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(t.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate ensures the token is well formed, carries the role's audience, and
// returns the subject.
func (t *ServiceTokens) Validate(tokenString string, role Role) (string, error) {
	if len(t.config.SigningSecret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return t.config.SigningSecret, nil
		},
		jwt.WithAudience(role.Audience()),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithTimeFunc(t.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
