package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ExternalSource resolves capabilities served by external tool servers.
type ExternalSource interface {
	// ResolveExternal returns the capability named "<server>__<tool>", with
	// approval and status reflecting the server and tool state. It returns
	// ErrNotFound when no known server serves the tool.
	ResolveExternal(ctx context.Context, name string) (Capability, error)

	// DispatchableExternal lists tools of approved, enabled, not unhealthy
	// servers whose tool was approved as well.
	DispatchableExternal(ctx context.Context) []Capability
}

// Catalog is the single resolution point for callers: local capabilities
// first, then external ones.
type Catalog struct {
	registry *Registry
	external ExternalSource
	logger   *slog.Logger
}

// NewCatalog creates a catalog. external may be nil.
func NewCatalog(registry *Registry, external ExternalSource, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{registry: registry, external: external, logger: logger.With("component", "catalog")}
}

// Resolve returns the capability called name. A local capability shadows
// an external tool with the same name.
func (c *Catalog) Resolve(ctx context.Context, name string) (Capability, error) {
	local, err := c.registry.Get(ctx, name)
	if err == nil {
		return local, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Capability{}, err
	}
	if c.external == nil {
		return Capability{}, err
	}
	if _, _, ok := SplitExternalName(name); !ok {
		return Capability{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c.external.ResolveExternal(ctx, name)
}

// ListDispatchable returns every capability a caller may currently invoke.
// Local names shadow external ones.
func (c *Catalog) ListDispatchable(ctx context.Context) ([]Capability, error) {
	local, err := c.registry.ListDispatchable(ctx)
	if err != nil {
		return nil, err
	}
	if c.external == nil {
		return local, nil
	}

	seen := make(map[string]struct{}, len(local))
	for _, lc := range local {
		seen[lc.Name] = struct{}{}
	}
	for _, ext := range c.external.DispatchableExternal(ctx) {
		if _, shadowed := seen[ext.Name]; shadowed {
			c.logger.Debug("external tool shadowed by local capability", "capability", ext.Name)
			continue
		}
		local = append(local, ext)
	}
	return local, nil
}
