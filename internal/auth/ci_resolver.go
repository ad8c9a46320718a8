package auth

import (
	"context"
	"errors"
	"fmt"
)

// CI auth methods reported on resolved contexts.
const (
	CIMethodServiceToken = "service-token"
)

var (
	// ErrInvalidToken indicates the credential is missing, malformed, or expired.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrPackMismatch indicates a valid credential scoped to a different pack.
	ErrPackMismatch = errors.New("auth: token not scoped to requested pack")
)

// CIContext is the resolved identity of a CI caller.
type CIContext struct {
	PackID string
	Method string
}

// CIResolver turns a bearer credential plus an optional pack-id hint into a
// resolved CI context. Treated as an opaque capability check by callers.
type CIResolver struct {
	tokens *ServiceTokens
}

// NewCIResolver constructs a CIResolver over the token validator.
func NewCIResolver(tokens *ServiceTokens) *CIResolver {
	return &CIResolver{tokens: tokens}
}

// Resolve validates the bearer token as a CI credential. When packHint is set
// the token's pack scope must match it.
func (r *CIResolver) Resolve(_ context.Context, bearer, packHint string) (CIContext, error) {
	subject, err := r.tokens.Validate(bearer, RoleCI)
	if err != nil {
		return CIContext{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if packHint != "" && packHint != subject {
		return CIContext{}, ErrPackMismatch
	}
	return CIContext{PackID: subject, Method: CIMethodServiceToken}, nil
}
