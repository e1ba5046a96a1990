package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/flemzord/skillgate/internal/audit"
	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/config"
	"github.com/flemzord/skillgate/internal/core"
	"github.com/flemzord/skillgate/internal/cron"
	"github.com/flemzord/skillgate/internal/executor"
	"github.com/flemzord/skillgate/internal/gate"
	"github.com/flemzord/skillgate/internal/invoke"
	"github.com/flemzord/skillgate/internal/schedule"
	"github.com/flemzord/skillgate/internal/security"
	"github.com/flemzord/skillgate/internal/source"
)

// components holds what wire built and Close must release.
type components struct {
	registry   *capability.Registry
	sources    *source.Manager
	tasks      *schedule.Manager
	recorder   *audit.Recorder
	summarizer *audit.Summarizer
	pruner     *audit.Pruner
	invoker    *invoke.Invoker
	closers    []io.Closer
}

func (c *components) close(logger *slog.Logger) {
	for _, cl := range slices.Backward(c.closers) {
		if err := cl.Close(); err != nil {
			logger.Warn("closing component failed", "error", err)
		}
	}
	c.closers = nil
}

// sourcesModule ties the source manager to the App lifecycle: an initial
// probe on start, sessions closed on stop.
type sourcesModule struct {
	manager *source.Manager
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func (m *sourcesModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "sources"}
}

func (m *sourcesModule) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		if err := m.manager.ProbeAll(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("initial source probe failed", "error", err)
		}
	}()
	return nil
}

func (m *sourcesModule) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
		select {
		case <-m.done:
		case <-ctx.Done():
		}
	}
	return m.manager.Close()
}

// schedulerModule ties the cron scheduler to the App lifecycle.
type schedulerModule struct {
	scheduler *cron.Scheduler
}

func (m *schedulerModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "cron"}
}

func (m *schedulerModule) Start() error { return m.scheduler.Start() }

func (m *schedulerModule) Stop(ctx context.Context) error { return m.scheduler.Stop(ctx) }

// wire builds the invocation pipeline on top of the provisioned stores,
// publishes it as services for the transports and appends the background
// workers to the app lifecycle. Must be called after LoadModules and
// before Start.
func wire(ctx context.Context, rt *Runtime) (*components, error) {
	cfg := rt.Config
	logger := rt.Logger
	appCtx := rt.appCtx
	version, _ := core.ServiceAs[string](appCtx, "app.version")

	st := discoverStores(appCtx, logger)
	secrets := security.NewRedactingSecrets(st.secrets, rt.redactor)

	comps := &components{}

	comps.registry = capability.NewRegistry(capability.RegistryConfig{
		Store:   st.capabilities,
		Secrets: secrets,
		Logger:  logger,
	})

	comps.sources = source.NewManager(source.ManagerConfig{
		Store:        st.sources,
		Connector:    source.MCPConnector{ClientName: "skillgate", ClientVersion: version},
		Metrics:      rt.metrics,
		Logger:       logger,
		ProbeTimeout: cfg.Sources.ProbeTimeout,
	})
	if err := comps.sources.Seed(ctx, seedServers(cfg.Sources.Servers)); err != nil {
		logger.Warn("seeding sources failed", "error", err)
	}

	// --- dispatcher ---
	client := executor.NewHTTPClient(cfg.Executor.DefaultTimeout)
	dispatcher := executor.NewDispatcher(executor.Config{
		DefaultTimeout: cfg.Executor.DefaultTimeout,
		OutputLimit:    cfg.Executor.OutputLimit,
	})
	dispatcher.Register(capability.KindTemplate, executor.NewTemplateStrategy(executor.TemplateConfig{
		Client:      client,
		OutputLimit: cfg.Executor.TemplateOutputLimit,
		UserAgent:   cfg.Executor.UserAgent,
		Logger:      logger,
	}))
	dispatcher.Register(capability.KindWebhook, executor.NewWebhookStrategy(executor.WebhookConfig{
		Client:    client,
		Secrets:   secrets,
		BodyLimit: cfg.Executor.OutputLimit,
		UserAgent: cfg.Executor.UserAgent,
		Logger:    logger,
	}))
	code := executor.NewCodeStrategy(executor.NewAgentInstructionHandler(executor.AgentInstructionConfig{
		InboxURL:  cfg.Executor.AgentInboxURL,
		Client:    client,
		UserAgent: cfg.Executor.UserAgent,
		BodyLimit: cfg.Executor.OutputLimit,
	}))
	dispatcher.Register(capability.KindCode, code)
	dispatcher.Register(capability.KindMCP, executor.NewMCPStrategy(comps.sources))

	added, err := comps.registry.EnsureCode(ctx, code.Descriptors())
	if err != nil {
		return nil, fmt.Errorf("registering code handlers: %w", err)
	}
	if len(added) > 0 {
		logger.Info("code capabilities registered, pending approval", "names", added)
	}

	// --- audit ---
	var mirror io.Writer
	if cfg.Audit.JSONLPath != "" {
		f, err := openMirror(cfg.Audit.JSONLPath)
		if err != nil {
			return nil, err
		}
		comps.closers = append(comps.closers, f)
		mirror = f
	}
	comps.recorder = audit.NewRecorder(audit.RecorderConfig{
		Log:            st.audit,
		Blobs:          st.blobs,
		Redactor:       rt.redactor,
		MaxInputBytes:  cfg.Audit.MaxInputBytes,
		MaxOutputBytes: cfg.Audit.MaxOutputBytes,
		MaxErrorBytes:  cfg.Audit.MaxErrorBytes,
		Mirror:         mirror,
		Logger:         logger,
	})
	comps.summarizer = audit.NewSummarizer(audit.SummarizerConfig{
		Log:       st.audit,
		Summaries: st.summaries,
		Logger:    logger,
	})
	comps.pruner = audit.NewPruner(audit.PrunerConfig{
		Log:       st.audit,
		Logger:    logger,
		Retention: time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour,
		BatchSize: cfg.Audit.RetentionBatch,
	})

	// --- invoker ---
	comps.invoker = invoke.New(invoke.Config{
		Resolver: capability.NewCatalog(comps.registry, comps.sources, logger),
		Gate: gate.New(rt.limiter, security.InputLimits{
			MaxBytes: cfg.Security.Input.MaxBytes,
			MaxDepth: cfg.Security.Input.MaxDepth,
		}),
		Dispatcher: dispatcher,
		Recorder:   comps.recorder,
		Metrics:    rt.metrics,
		Logger:     logger,
	})

	// --- scheduling ---
	loc, err := time.LoadLocation(cfg.Scheduler.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("scheduler time zone %q: %w", cfg.Scheduler.TimeZone, err)
	}
	comps.tasks = schedule.NewManager(schedule.ManagerConfig{
		Store:    st.tasks,
		Location: loc,
		Logger:   logger,
	})
	poller := schedule.NewPoller(schedule.PollerConfig{
		Store:    st.tasks,
		Invoker:  comps.invoker,
		Location: loc,
		Metrics:  rt.metrics,
		Logger:   logger,
	})

	scheduler := cron.NewScheduler(logger)
	scheduler.SetObserver(rt.metrics)
	scheduler.SetLocation(loc)
	jobs := []cron.Job{
		&cron.SummarizeJob{Summarizer: comps.summarizer, Metrics: rt.metrics, Logger: logger, ScheduleExpr: cfg.Audit.SummarizeSchedule},
		&cron.RetentionJob{Pruner: comps.pruner, Metrics: rt.metrics, Logger: logger, ScheduleExpr: cfg.Audit.RetentionSchedule},
		&cron.SourceProbeJob{Prober: comps.sources, Logger: logger, ScheduleExpr: cfg.Sources.ProbeSchedule},
		&cron.TaskPollJob{Poller: poller, Logger: logger, ScheduleExpr: cfg.Scheduler.PollSchedule},
		&cron.LimiterPruneJob{Limiter: rt.limiter, Logger: logger},
	}
	for _, j := range jobs {
		if err := scheduler.RegisterJob(j); err != nil {
			return nil, fmt.Errorf("registering job %s: %w", j.Name(), err)
		}
	}

	// --- services for the transports ---
	appCtx.RegisterService("invoke.invoker", comps.invoker)
	appCtx.RegisterService("capability.registry", comps.registry)
	appCtx.RegisterService("source.manager", comps.sources)
	appCtx.RegisterService("schedule.manager", comps.tasks)
	appCtx.RegisterService("audit.log", st.audit)
	appCtx.RegisterService("audit.blobs", st.blobs)
	appCtx.RegisterService("audit.summaries", st.summaries)
	appCtx.RegisterService("audit.recorder", comps.recorder)
	appCtx.RegisterService("audit.summarizer", comps.summarizer)
	appCtx.RegisterService("audit.pruner", comps.pruner)

	rt.app.AppendModule("sources", &sourcesModule{manager: comps.sources, logger: logger})
	rt.app.AppendModule("cron", &schedulerModule{scheduler: scheduler})

	return comps, nil
}

// stores is the persistence surface the pipeline is built on.
type stores struct {
	capabilities capability.Store
	secrets      security.SecretStore
	sources      source.Store
	tasks        schedule.Store
	audit        audit.Log
	blobs        audit.BlobStore
	summaries    audit.SummaryStore
}

// discoverStores resolves the stores published by the store module. A
// missing service falls back to an in-memory store, which loses its state
// on restart.
func discoverStores(appCtx *core.AppContext, logger *slog.Logger) stores {
	var st stores
	var missing []string

	if v, ok := core.ServiceAs[capability.Store](appCtx, "store.capabilities"); ok {
		st.capabilities = v
	} else {
		st.capabilities = capability.NewMemoryStore()
		missing = append(missing, "capabilities")
	}
	if v, ok := core.ServiceAs[security.SecretStore](appCtx, "store.secrets"); ok {
		st.secrets = v
	} else {
		st.secrets = security.NewMemorySecretStore()
		missing = append(missing, "secrets")
	}
	if v, ok := core.ServiceAs[source.Store](appCtx, "store.sources"); ok {
		st.sources = v
	} else {
		st.sources = source.NewMemoryStore()
		missing = append(missing, "sources")
	}
	if v, ok := core.ServiceAs[schedule.Store](appCtx, "store.tasks"); ok {
		st.tasks = v
	} else {
		st.tasks = schedule.NewMemoryStore()
		missing = append(missing, "tasks")
	}

	// One audit store serves records, blobs and summaries.
	log, okLog := core.ServiceAs[audit.Log](appCtx, "store.audit")
	blobs, okBlobs := log.(audit.BlobStore)
	summaries, okSummaries := log.(audit.SummaryStore)
	if okLog && okBlobs && okSummaries {
		st.audit, st.blobs, st.summaries = log, blobs, summaries
	} else {
		mem := audit.NewMemoryStore()
		st.audit, st.blobs, st.summaries = mem, mem, mem
		missing = append(missing, "audit")
	}

	if len(missing) > 0 {
		logger.Warn("no persistent store for some components, using memory", "components", missing)
	}
	return st
}

// seedServers converts configured server entries to unapproved sources.
func seedServers(entries []config.ServerEntry) []source.Server {
	servers := make([]source.Server, 0, len(entries))
	for _, e := range entries {
		servers = append(servers, source.Server{
			Name:               e.Name,
			URL:                e.URL,
			Command:            e.Command,
			Args:               slices.Clone(e.Args),
			Env:                maps.Clone(e.Env),
			RateLimitPerMinute: e.RateLimitPerMinute,
		})
	}
	return servers
}

func openMirror(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating audit mirror directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit mirror: %w", err)
	}
	return f, nil
}

var errNoRuntime = errors.New("runtime not wired")

// Maintenance exposes the stored state to one-shot CLI commands.
type Maintenance struct {
	Registry   *capability.Registry
	Sources    *source.Manager
	Tasks      *schedule.Manager
	Summarizer *audit.Summarizer
	Pruner     *audit.Pruner
	Audit      audit.Log
}

// Maintenance returns the wired components of an opened runtime.
func (rt *Runtime) Maintenance() (Maintenance, error) {
	c := rt.components
	if c == nil {
		return Maintenance{}, errNoRuntime
	}
	auditLog, _ := core.ServiceAs[audit.Log](rt.appCtx, "audit.log")
	return Maintenance{
		Registry:   c.registry,
		Sources:    c.sources,
		Tasks:      c.tasks,
		Summarizer: c.summarizer,
		Pruner:     c.pruner,
		Audit:      auditLog,
	}, nil
}
