package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"github.com/flemzord/skillgate/internal/config"
	"github.com/flemzord/skillgate/internal/core"
	"github.com/flemzord/skillgate/internal/reload"
	"github.com/flemzord/skillgate/internal/security"
	"github.com/flemzord/skillgate/internal/telemetry"
)

// OpenParams configures Open.
type OpenParams struct {
	// ConfigPath is the configuration file. Empty resolves the default.
	ConfigPath string

	// DataDir overrides the default persistent data directory.
	DataDir string

	Version string

	// LogLevel overrides log.level when non-empty.
	LogLevel string

	// StoreOnly loads the store modules and skips the transports. One-shot
	// CLI commands use it to work on the database without serving.
	StoreOnly bool

	// LogOutput defaults to os.Stderr.
	LogOutput io.Writer
}

// Runtime is a loaded and wired gateway, ready to Start.
type Runtime struct {
	ConfigPath string
	DataDir    string
	Config     *config.Config
	Logger     *slog.Logger

	level           *slog.LevelVar
	redactor        *security.Redactor
	limiter         *security.RateLimiter
	metrics         *telemetry.Metrics
	app             *core.App
	appCtx          *core.AppContext
	shutdownTracing telemetry.ShutdownFunc
	components      *components
	logLevelPinned  bool
}

// Open loads and validates the configuration, builds the logger and the
// shared policy objects, provisions the configured modules and wires the
// invocation pipeline. Close must be called on the returned Runtime.
func Open(params OpenParams) (*Runtime, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	// Security foundation first: every log line goes through the redactor.
	redactor := security.NewRedactor()
	for _, p := range cfg.Security.RedactPatterns {
		redactor.AddPattern(regexp.MustCompile(p))
	}

	level := new(slog.LevelVar)
	levelName := cfg.Log.Level
	if params.LogLevel != "" {
		levelName = params.LogLevel
	}
	level.Set(security.ParseLevel(levelName))

	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := security.NewLogger(out, cfg.Log.Format, level, redactor)

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	shutdownTracing := telemetry.ShutdownFunc(func(context.Context) error { return nil })
	if !params.StoreOnly {
		shutdownTracing, err = telemetry.SetupTracing(context.Background(), telemetry.TracingConfig{
			Enabled:     cfg.Telemetry.Tracing.Enabled,
			Endpoint:    cfg.Telemetry.Tracing.Endpoint,
			Insecure:    cfg.Telemetry.Tracing.Insecure,
			ServiceName: cfg.Telemetry.Tracing.ServiceName,
			Version:     params.Version,
		})
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
	}

	limiter := security.NewRateLimiter(security.RateLimitConfig{
		GlobalPerMinute: cfg.Security.RateLimits.GlobalPerMinute,
		IdleTTL:         cfg.Security.RateLimits.IdleTTL,
	})
	metrics := telemetry.NewMetrics()

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)

	// Shared services for cross-module discovery.
	appCtx.RegisterService("security.ratelimiter", limiter)
	appCtx.RegisterService("security.redactor", redactor)
	appCtx.RegisterService("telemetry.metrics", metrics)
	appCtx.RegisterService("app.version", params.Version)
	appCtx.RegisterService("config.path", cfgPath)

	rt := &Runtime{
		ConfigPath:      cfgPath,
		DataDir:         dataDir,
		Config:          cfg,
		Logger:          logger,
		level:           level,
		redactor:        redactor,
		limiter:         limiter,
		metrics:         metrics,
		appCtx:          appCtx,
		shutdownTracing: shutdownTracing,
		logLevelPinned:  params.LogLevel != "",
	}

	ids := config.Resolve(cfg)
	if params.StoreOnly {
		ids = slices.DeleteFunc(ids, func(id string) bool {
			return core.ModuleID(id).Namespace() != "store"
		})
	}

	rt.app = core.NewApp(appCtx)
	if err := rt.app.LoadModules(ids); err != nil {
		_ = shutdownTracing(context.Background())
		return nil, err
	}

	// Wire the pipeline between LoadModules and Start: the stores are
	// provisioned, the gateway has not resolved its services yet.
	comps, err := wire(context.Background(), rt)
	if err != nil {
		rt.app.Close()
		_ = shutdownTracing(context.Background())
		return nil, err
	}
	rt.components = comps

	return rt, nil
}

// Start starts every module, then the background jobs and source probes.
func (rt *Runtime) Start() error {
	return rt.app.Start()
}

// Stop stops the started modules in reverse order.
func (rt *Runtime) Stop() {
	rt.app.Stop()
}

// Close releases everything Stop did not: stores of a runtime that never
// started, the audit mirror and the trace exporter.
func (rt *Runtime) Close() {
	rt.app.Close()
	if rt.components != nil {
		rt.components.close(rt.Logger)
	}
	if err := rt.shutdownTracing(context.Background()); err != nil {
		rt.Logger.Warn("tracing shutdown failed", "error", err)
	}
}

// appliers returns the reload hooks for the runtime-mutable settings.
func (rt *Runtime) appliers() []reload.Applier {
	return []reload.Applier{
		reload.ApplyFunc(func(_ context.Context, cfg *config.Config) error {
			if rt.logLevelPinned {
				return nil
			}
			rt.level.Set(security.ParseLevel(cfg.Log.Level))
			return nil
		}),
		reload.ApplyFunc(func(_ context.Context, cfg *config.Config) error {
			rt.limiter.SetGlobalPerMinute(cfg.Security.RateLimits.GlobalPerMinute)
			return nil
		}),
		reload.ApplyFunc(func(ctx context.Context, cfg *config.Config) error {
			if rt.components == nil {
				return nil
			}
			return rt.components.sources.Seed(ctx, seedServers(cfg.Sources.Servers))
		}),
	}
}
