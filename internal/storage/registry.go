// Package storage models the deployment's artifact storage providers: which
// provider ids are enabled, how artifact references name them, and presigned
// URL minting for the providers that support it locally.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const artifactRefSeparator = "::"

var (
	// ErrInvalidArtifactRef indicates the reference is not provider::key.
	ErrInvalidArtifactRef = errors.New("storage: invalid artifact reference")
	// ErrUnknownProvider indicates the provider id is not enabled.
	ErrUnknownProvider = errors.New("storage: unknown provider")
	// ErrPresignUnsupported indicates the provider is enabled but URLs are
	// minted elsewhere (e.g. by the dashboard's own SDK wiring).
	ErrPresignUnsupported = errors.New("storage: presigning not supported by provider")
)

// ArtifactRef is a parsed opaque artifact reference, e.g.
// "r2::packs/p1/builds/b1.atlas".
type ArtifactRef struct {
	Provider string
	Key      string
}

// String re-renders the reference in provider::key form.
func (r ArtifactRef) String() string {
	return r.Provider + artifactRefSeparator + r.Key
}

// ParseArtifactRef splits provider::key and validates both parts are present.
func ParseArtifactRef(rawInput string) (ArtifactRef, error) {
	provider, key, found := strings.Cut(strings.TrimSpace(rawInput), artifactRefSeparator)
	if !found || provider == "" || key == "" {
		return ArtifactRef{}, fmt.Errorf("%w: %q", ErrInvalidArtifactRef, rawInput)
	}
	return ArtifactRef{Provider: provider, Key: key}, nil
}

// Provider mints presigned URLs for one storage backend.
type Provider interface {
	ID() string
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Registry holds the providers enabled for this deployment.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry constructs a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	byID := make(map[string]Provider, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		byID[provider.ID()] = provider
	}
	return &Registry{providers: byID}
}

// Enabled reports whether the provider id is enabled for this deployment.
func (r *Registry) Enabled(id string) bool {
	_, ok := r.providers[id]
	return ok
}

// Provider returns the named provider or ErrUnknownProvider.
func (r *Registry) Provider(id string) (Provider, error) {
	provider, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return provider, nil
}

// staticProvider marks a provider id as enabled without local presign support.
// Used for backends whose URLs are minted by another component.
type staticProvider struct {
	id string
}

// NewStaticProvider returns an enabled-only provider entry.
func NewStaticProvider(id string) Provider {
	return &staticProvider{id: id}
}

func (p *staticProvider) ID() string {
	return p.id
}

func (p *staticProvider) PresignUpload(context.Context, string, string, time.Duration) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrPresignUnsupported, p.id)
}

func (p *staticProvider) PresignDownload(context.Context, string, time.Duration) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrPresignUnsupported, p.id)
}
