package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/skillgate/internal/security"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Store   Store
	Secrets security.SecretStore
	Logger  *slog.Logger

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Registry owns locally defined capabilities and their lifecycle:
// registration (always pending and unapproved), approval, rejection,
// activation, deactivation, update and deletion.
// Every read goes to the store, so edits take effect on the next call.
type Registry struct {
	store   Store
	secrets security.SecretStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewRegistry creates a registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		store:   cfg.Store,
		secrets: cfg.Secrets,
		logger:  logger.With("component", "capability"),
		now:     now,
	}
}

// Register validates c and stores it as a new local capability. Whatever
// the caller set, the stored record is pending and unapproved.
func (r *Registry) Register(ctx context.Context, c Capability) (Capability, error) {
	if err := c.Validate(); err != nil {
		return Capability{}, err
	}

	now := r.now().UTC()
	c.Origin = OriginLocal
	c.Approved = false
	c.Status = StatusPending
	c.Server = nil
	c.ToolName = ""
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Kind == KindWebhook && c.WebhookMethod == "" {
		c.WebhookMethod = "POST"
	}

	if err := r.store.CreateCapability(ctx, c); err != nil {
		return Capability{}, err
	}
	r.logger.Info("capability registered", "capability", c.Name, "kind", string(c.Kind))
	return c, nil
}

// Get returns the current record for name.
func (r *Registry) Get(ctx context.Context, name string) (Capability, error) {
	return r.store.GetCapability(ctx, name)
}

// List returns every local capability.
func (r *Registry) List(ctx context.Context) ([]Capability, error) {
	return r.store.ListCapabilities(ctx)
}

// ListDispatchable returns the approved and active local capabilities.
func (r *Registry) ListDispatchable(ctx context.Context) ([]Capability, error) {
	all, err := r.store.ListCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.Callable() {
			out = append(out, c)
		}
	}
	return out, nil
}

// Update replaces the definition and policy fields of an existing
// capability. Name, kind, origin, approval and status are preserved: a
// definition edit never changes who may call the capability.
func (r *Registry) Update(ctx context.Context, c Capability) (Capability, error) {
	current, err := r.store.GetCapability(ctx, c.Name)
	if err != nil {
		return Capability{}, err
	}

	c.Kind = current.Kind
	c.Origin = current.Origin
	c.Approved = current.Approved
	c.Status = current.Status
	c.CreatedAt = current.CreatedAt
	c.UpdatedAt = r.now().UTC()
	c.Server = nil
	c.ToolName = ""
	if c.Kind == KindWebhook && c.WebhookMethod == "" {
		c.WebhookMethod = current.WebhookMethod
	}

	if err := c.Validate(); err != nil {
		return Capability{}, err
	}
	if err := r.store.UpdateCapability(ctx, c); err != nil {
		return Capability{}, err
	}
	r.logger.Info("capability updated", "capability", c.Name)
	return c, nil
}

// Approve marks the capability approved and active.
func (r *Registry) Approve(ctx context.Context, name string) (Capability, error) {
	return r.mutate(ctx, name, "approved", func(c *Capability) {
		c.Approved = true
		c.Status = StatusActive
	})
}

// Reject unapproves and deactivates the capability.
func (r *Registry) Reject(ctx context.Context, name string) (Capability, error) {
	return r.mutate(ctx, name, "rejected", func(c *Capability) {
		c.Approved = false
		c.Status = StatusInactive
	})
}

// Activate sets the status to active. It does not approve: an activated
// but unapproved capability is still not callable.
func (r *Registry) Activate(ctx context.Context, name string) (Capability, error) {
	return r.mutate(ctx, name, "activated", func(c *Capability) {
		c.Status = StatusActive
	})
}

// Deactivate sets the status to inactive and keeps the approval.
func (r *Registry) Deactivate(ctx context.Context, name string) (Capability, error) {
	return r.mutate(ctx, name, "deactivated", func(c *Capability) {
		c.Status = StatusInactive
	})
}

func (r *Registry) mutate(ctx context.Context, name, action string, fn func(*Capability)) (Capability, error) {
	c, err := r.store.GetCapability(ctx, name)
	if err != nil {
		return Capability{}, err
	}
	fn(&c)
	c.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateCapability(ctx, c); err != nil {
		return Capability{}, err
	}
	r.logger.Info("capability "+action, "capability", name, "approved", c.Approved, "status", string(c.Status))
	return c, nil
}

// Delete removes every secret in the capability's scope, then the
// capability. If the secrets cannot be removed the capability is kept.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if _, err := r.store.GetCapability(ctx, name); err != nil {
		return err
	}
	if r.secrets != nil {
		if err := r.secrets.DeleteScope(ctx, name); err != nil {
			return fmt.Errorf("deleting secrets of %s: %w", name, err)
		}
	}
	if err := r.store.DeleteCapability(ctx, name); err != nil {
		return err
	}
	r.logger.Info("capability deleted", "capability", name)
	return nil
}

// SetSecret stores a secret in the capability's scope. The capability must exist.
func (r *Registry) SetSecret(ctx context.Context, name, key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: secret key is required", ErrInvalid)
	}
	if _, err := r.store.GetCapability(ctx, name); err != nil {
		return err
	}
	if r.secrets == nil {
		return errors.New("no secret store configured")
	}
	return r.secrets.SetSecret(ctx, name, key, value)
}

// CodeHandler describes a compiled-in handler for code capabilities.
type CodeHandler struct {
	Name        string
	Description string
	InputSchema []byte
}

// EnsureCode registers a pending code capability for every handler that
// has no record yet and returns the names it created. Existing records,
// including rejected ones, are left untouched.
func (r *Registry) EnsureCode(ctx context.Context, handlers []CodeHandler) ([]string, error) {
	var created []string
	for _, h := range handlers {
		_, err := r.store.GetCapability(ctx, h.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return created, err
		}
		_, err = r.Register(ctx, Capability{
			Name:        h.Name,
			Description: h.Description,
			Kind:        KindCode,
			Handler:     h.Name,
			InputSchema: h.InputSchema,
		})
		if err != nil && !errors.Is(err, ErrExists) {
			return created, fmt.Errorf("registering code capability %s: %w", h.Name, err)
		}
		if err == nil {
			created = append(created, h.Name)
		}
	}
	return created, nil
}
