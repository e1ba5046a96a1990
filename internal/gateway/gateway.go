// Package gateway serves skillgate over HTTP: the caller invocation
// endpoint, the MCP endpoint, the admin API, the live audit feed, health
// and Prometheus metrics. It binds to loopback by default and follows the
// module system pattern.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/skillgate/internal/audit"
	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/core"
	"github.com/flemzord/skillgate/internal/invoke"
	"github.com/flemzord/skillgate/internal/schedule"
	"github.com/flemzord/skillgate/internal/security"
	"github.com/flemzord/skillgate/internal/source"
	"github.com/flemzord/skillgate/internal/telemetry"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Invoker runs and lists capabilities on behalf of callers.
type Invoker interface {
	Invoke(ctx context.Context, req invoke.Request) (invoke.Result, error)
	List(ctx context.Context) ([]capability.Capability, error)
}

// Feed publishes audit records as they are written.
type Feed interface {
	Subscribe(buffer int) (<-chan audit.Record, func())
}

// Services are the components the gateway serves. Start resolves them
// from the service registry; any of them may be missing, in which case the
// routes that need it are not mounted.
type Services struct {
	Invoker   Invoker
	Registry  *capability.Registry
	Sources   *source.Manager
	Tasks     *schedule.Manager
	Audit     audit.Log
	Blobs     audit.BlobStore
	Summaries audit.SummaryStore
	Feed      Feed
	Metrics   *telemetry.Metrics
	Limiter   *security.RateLimiter
}

// Gateway is the HTTP gateway module. It is a leaf module: nothing
// imports it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	services  Services
	server    *http.Server
	mcp       *mcpBridge
	startedAt time.Time
	version   string
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	if !g.config.Auth.IsConfigured() {
		g.logger.Warn("gateway: no auth configured, only /health and /metrics are served")
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// resolveServices looks up every dependency in the service registry.
// Lookups are lazy so the gateway does not care in which order the
// providing modules were loaded.
func (g *Gateway) resolveServices() {
	ctx := g.appCtx
	if v, ok := core.ServiceAs[Invoker](ctx, "invoke.invoker"); ok {
		g.services.Invoker = v
	}
	if v, ok := core.ServiceAs[*capability.Registry](ctx, "capability.registry"); ok {
		g.services.Registry = v
	}
	if v, ok := core.ServiceAs[*source.Manager](ctx, "source.manager"); ok {
		g.services.Sources = v
	}
	if v, ok := core.ServiceAs[*schedule.Manager](ctx, "schedule.manager"); ok {
		g.services.Tasks = v
	}
	if v, ok := core.ServiceAs[audit.Log](ctx, "audit.log"); ok {
		g.services.Audit = v
	}
	if v, ok := core.ServiceAs[audit.BlobStore](ctx, "audit.blobs"); ok {
		g.services.Blobs = v
	}
	if v, ok := core.ServiceAs[audit.SummaryStore](ctx, "audit.summaries"); ok {
		g.services.Summaries = v
	}
	if v, ok := core.ServiceAs[Feed](ctx, "audit.recorder"); ok {
		g.services.Feed = v
	}
	if v, ok := core.ServiceAs[*telemetry.Metrics](ctx, "telemetry.metrics"); ok {
		g.services.Metrics = v
	}
	if v, ok := core.ServiceAs[*security.RateLimiter](ctx, "security.ratelimiter"); ok {
		g.services.Limiter = v
	}
	if v, ok := core.ServiceAs[string](ctx, "app.version"); ok {
		g.version = v
	}
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	if g.appCtx != nil {
		g.resolveServices()
	}
	g.startedAt = time.Now()

	handler := g.buildRouter()
	if g.mcp != nil {
		if err := g.mcp.sync(context.Background()); err != nil {
			g.logger.Warn("gateway: initial mcp tool sync failed", "error", err)
		}
	}

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      handler,
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
