// Package gateway routes cache operations to engine-specific backends
// and provides an in-memory backend for development and tests.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// Registry maps cache engines to their gateway implementations and
// itself implements core.CacheGateway by dispatching on the profile's
// engine.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	// gateways maps engine to gateway instance.
	gateways map[core.CacheEngine]core.CacheGateway
}

// NewRegistry creates an empty gateway registry.
func NewRegistry() *Registry {
	return &Registry{
		gateways: make(map[core.CacheEngine]core.CacheGateway),
	}
}

// Register installs the gateway for an engine, replacing any previous
// registration.
func (r *Registry) Register(engine core.CacheEngine, gw core.CacheGateway) error {
	if !engine.Valid() {
		return core.NewValidationFailure(fmt.Sprintf("unknown cache engine %q", engine), nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[engine] = gw
	return nil
}

// Resolve returns the gateway registered for an engine.
func (r *Registry) Resolve(engine core.CacheEngine) (core.CacheGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.gateways[engine]
	if !ok {
		return nil, core.NewNotSupportedFailure(
			fmt.Sprintf("no gateway registered for engine %q", engine), nil)
	}
	return gw, nil
}

func (r *Registry) TestConnection(ctx context.Context, profile *core.ConnectionProfile, secret string) error {
	gw, err := r.Resolve(profile.Engine)
	if err != nil {
		return err
	}
	return gw.TestConnection(ctx, profile, secret)
}

func (r *Registry) GetCapabilities(ctx context.Context, profile *core.ConnectionProfile, secret string) (*core.Capabilities, error) {
	gw, err := r.Resolve(profile.Engine)
	if err != nil {
		return nil, err
	}
	return gw.GetCapabilities(ctx, profile, secret)
}

func (r *Registry) ListKeys(ctx context.Context, profile *core.ConnectionProfile, secret string, cursor string, limit int) (*core.KeySearchResult, error) {
	gw, err := r.Resolve(profile.Engine)
	if err != nil {
		return nil, err
	}
	return gw.ListKeys(ctx, profile, secret, cursor, limit)
}

func (r *Registry) SearchKeys(ctx context.Context, profile *core.ConnectionProfile, secret string, pattern string, cursor string, limit int) (*core.KeySearchResult, error) {
	gw, err := r.Resolve(profile.Engine)
	if err != nil {
		return nil, err
	}
	return gw.SearchKeys(ctx, profile, secret, pattern, cursor, limit)
}

func (r *Registry) GetValue(ctx context.Context, profile *core.ConnectionProfile, secret string, key string) (*core.ValueRecord, error) {
	gw, err := r.Resolve(profile.Engine)
	if err != nil {
		return nil, err
	}
	return gw.GetValue(ctx, profile, secret, key)
}

func (r *Registry) SetValue(ctx context.Context, profile *core.ConnectionProfile, secret string, key, value string, ttlSeconds int) error {
	gw, err := r.Resolve(profile.Engine)
	if err != nil {
		return err
	}
	return gw.SetValue(ctx, profile, secret, key, value, ttlSeconds)
}

func (r *Registry) DeleteKey(ctx context.Context, profile *core.ConnectionProfile, secret string, key string) error {
	gw, err := r.Resolve(profile.Engine)
	if err != nil {
		return err
	}
	return gw.DeleteKey(ctx, profile, secret, key)
}
