package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/skillgate/internal/config"
)

// Applier pushes the runtime-mutable part of a configuration into a
// running component.
type Applier interface {
	Apply(ctx context.Context, cfg *config.Config) error
}

// ApplyFunc adapts a function to Applier.
type ApplyFunc func(ctx context.Context, cfg *config.Config) error

// Apply implements Applier.
func (f ApplyFunc) Apply(ctx context.Context, cfg *config.Config) error { return f(ctx, cfg) }

// Handler reloads the configuration file and hands it to every applier.
// Settings without an applier (modules, bind address, stores) need a
// restart.
type Handler struct {
	logger   *slog.Logger
	appliers []Applier
}

// NewHandler creates a reload handler.
func NewHandler(logger *slog.Logger, appliers ...Applier) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger.With("component", "reload"),
		appliers: appliers,
	}
}

// HandleReload loads a fresh config from disk, validates it and applies it.
// An invalid file leaves the running configuration untouched.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.HandleReloadFromConfig(ctx, cfg)
}

// HandleReloadFromConfig applies a pre-loaded config. The caller is
// responsible for validating it first. Every applier runs even when an
// earlier one fails.
func (h *Handler) HandleReloadFromConfig(ctx context.Context, cfg *config.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	var errs []error
	for _, a := range h.appliers {
		if err := a.Apply(ctx, cfg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("applying config: %w", err)
	}

	h.logger.Info("configuration reloaded", "appliers", len(h.appliers))
	return nil
}
