package source

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/executor"
	"github.com/flemzord/skillgate/internal/security"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store     Store
	Connector Connector
	Metrics   ProbeObserver // optional
	Logger    *slog.Logger

	// ProbeTimeout bounds one probe (connect plus tool listing).
	// Defaults to 15s.
	ProbeTimeout time.Duration

	// ProbeConcurrency bounds parallel probes. Defaults to 8.
	ProbeConcurrency int

	Now   func() time.Time
	NewID func() string
}

// ProbeObserver records probe outcomes.
type ProbeObserver interface {
	ObserveProbe(source string, healthy bool)
}

// catalogSnapshot is the immutable set of tools discovered per server id.
// It is replaced as a whole, never mutated.
type catalogSnapshot struct {
	tools map[string][]Tool
}

// Manager owns external servers: their records, their sessions and the
// cached tool lists. Server records are read from the store on every
// resolution; only tool lists are cached between probes.
type Manager struct {
	store            Store
	connector        Connector
	metrics          ProbeObserver
	logger           *slog.Logger
	probeTimeout     time.Duration
	probeConcurrency int
	now              func() time.Time
	newID            func() string

	mu       sync.Mutex
	sessions map[string]Session

	snapshot atomic.Pointer[catalogSnapshot]
}

var (
	_ capability.ExternalSource = (*Manager)(nil)
	_ executor.ToolCaller       = (*Manager)(nil)
)

// NewManager creates a manager with an empty tool cache.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Connector == nil {
		cfg.Connector = MCPConnector{}
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 15 * time.Second
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = 8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	m := &Manager{
		store:            cfg.Store,
		connector:        cfg.Connector,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger.With("component", "sources"),
		probeTimeout:     cfg.ProbeTimeout,
		probeConcurrency: cfg.ProbeConcurrency,
		now:              cfg.Now,
		newID:            cfg.NewID,
		sessions:         make(map[string]Session),
	}
	m.snapshot.Store(&catalogSnapshot{tools: map[string][]Tool{}})
	return m
}

// Add registers a server. New servers are unapproved, enabled and of
// unknown health whatever the caller passed.
func (m *Manager) Add(ctx context.Context, srv Server) (Server, error) {
	if err := srv.Validate(); err != nil {
		return Server{}, err
	}
	now := m.now()
	srv.ID = m.newID()
	srv.Approved = false
	srv.Enabled = true
	srv.ApprovedTools = nil
	srv.Health = HealthUnknown
	srv.LastCheckedAt = time.Time{}
	srv.LastError = ""
	srv.CreatedAt = now
	srv.UpdatedAt = now
	if err := m.store.CreateServer(ctx, srv); err != nil {
		return Server{}, err
	}
	m.logger.Info("source added", "source", srv.Name, "id", srv.ID)
	return srv, nil
}

// Update replaces the owner-editable fields of a server: name, connection
// descriptor and rate limit. Approval, tool approvals and health are kept.
// A changed connection descriptor drops the session and the cached tools.
func (m *Manager) Update(ctx context.Context, id string, patch Server) (Server, error) {
	if err := patch.Validate(); err != nil {
		return Server{}, err
	}
	cur, err := m.store.GetServer(ctx, id)
	if err != nil {
		return Server{}, err
	}
	reconnect := !cur.sameConnection(&patch)

	cur.Name = patch.Name
	cur.URL = patch.URL
	cur.Command = patch.Command
	cur.Args = patch.Args
	cur.Env = patch.Env
	cur.RateLimitPerMinute = patch.RateLimitPerMinute
	if reconnect {
		cur.Health = HealthUnknown
	}
	cur.UpdatedAt = m.now()
	if err := m.store.UpdateServer(ctx, cur); err != nil {
		return Server{}, err
	}
	if reconnect {
		m.dropSession(id)
		m.setTools(id, nil)
	}
	return cur, nil
}

// Get returns a server by id.
func (m *Manager) Get(ctx context.Context, id string) (Server, error) {
	return m.store.GetServer(ctx, id)
}

// List returns every server.
func (m *Manager) List(ctx context.Context) ([]Server, error) {
	return m.store.ListServers(ctx)
}

// Tools returns the cached tools of a server, sorted by name.
func (m *Manager) Tools(id string) []Tool {
	return slices.Clone(m.snapshot.Load().tools[id])
}

// Approve marks the server approved. Its tools still need ApproveTool.
func (m *Manager) Approve(ctx context.Context, id string) (Server, error) {
	return m.mutate(ctx, id, func(s *Server) { s.Approved = true })
}

// Revoke withdraws the server approval. Every tool becomes undispatchable.
func (m *Manager) Revoke(ctx context.Context, id string) (Server, error) {
	return m.mutate(ctx, id, func(s *Server) { s.Approved = false })
}

// ApproveTool adds tool to the server's approved set.
func (m *Manager) ApproveTool(ctx context.Context, id, tool string) (Server, error) {
	if tool == "" {
		return Server{}, fmt.Errorf("%w: tool name is required", ErrInvalid)
	}
	return m.mutate(ctx, id, func(s *Server) {
		if !s.ToolApproved(tool) {
			s.ApprovedTools = append(s.ApprovedTools, tool)
			slices.Sort(s.ApprovedTools)
		}
	})
}

// RevokeTool removes tool from the server's approved set.
func (m *Manager) RevokeTool(ctx context.Context, id, tool string) (Server, error) {
	return m.mutate(ctx, id, func(s *Server) {
		s.ApprovedTools = slices.DeleteFunc(s.ApprovedTools, func(t string) bool { return t == tool })
	})
}

// SetEnabled enables or disables a server. Disabling closes its session.
func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) (Server, error) {
	srv, err := m.mutate(ctx, id, func(s *Server) { s.Enabled = enabled })
	if err == nil && !enabled {
		m.dropSession(id)
	}
	return srv, err
}

// Delete removes a server, its session and its cached tools.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteServer(ctx, id); err != nil {
		return err
	}
	m.dropSession(id)
	m.setTools(id, nil)
	return nil
}

func (m *Manager) mutate(ctx context.Context, id string, fn func(*Server)) (Server, error) {
	srv, err := m.store.GetServer(ctx, id)
	if err != nil {
		return Server{}, err
	}
	fn(&srv)
	srv.UpdatedAt = m.now()
	if err := m.store.UpdateServer(ctx, srv); err != nil {
		return Server{}, err
	}
	return srv, nil
}

// Seed creates the configured servers that do not exist yet, matched by
// name. Existing records are left untouched so owner decisions survive
// restarts.
func (m *Manager) Seed(ctx context.Context, servers []Server) error {
	var errs []error
	for _, srv := range servers {
		if _, err := m.store.GetServerByName(ctx, srv.Name); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		if _, err := m.Add(ctx, srv); err != nil {
			errs = append(errs, fmt.Errorf("seeding %s: %w", srv.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Probe connects to the server if needed, refreshes its tool list and
// records the outcome. A failed probe marks the server unhealthy and
// clears its cached tools; the error is logged and returned for callers
// that want it, never escalated further.
func (m *Manager) Probe(ctx context.Context, id string) (Server, error) {
	srv, err := m.store.GetServer(ctx, id)
	if err != nil {
		return Server{}, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	tools, probeErr := m.discover(probeCtx, srv)
	if probeErr != nil && ctx.Err() != nil {
		// Shutting down is not a health signal.
		return srv, ctx.Err()
	}

	srv, err = m.store.GetServer(ctx, id)
	if err != nil {
		return Server{}, err
	}
	srv.LastCheckedAt = m.now()
	if probeErr != nil {
		srv.Health = HealthUnhealthy
		srv.LastError = probeErr.Error()
		m.dropSession(id)
		m.setTools(id, nil)
		m.logger.Warn("source probe failed", "source", srv.Name, "error", probeErr)
	} else {
		srv.Health = HealthHealthy
		srv.LastError = ""
		m.setTools(id, tools)
		m.logger.Debug("source probed", "source", srv.Name, "tools", len(tools))
	}
	if m.metrics != nil {
		m.metrics.ObserveProbe(srv.Name, probeErr == nil)
	}
	if err := m.store.UpdateServer(ctx, srv); err != nil {
		return Server{}, err
	}
	return srv, probeErr
}

func (m *Manager) discover(ctx context.Context, srv Server) ([]Tool, error) {
	sess, err := m.session(ctx, srv)
	if err != nil {
		return nil, err
	}
	tools, err := sess.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	tools = slices.DeleteFunc(tools, func(t Tool) bool {
		if err := security.ParseInputSchema(t.InputSchema); err != nil {
			m.logger.Warn("skipping tool with invalid input schema", "source", srv.Name, "tool", t.Name, "error", err)
			return true
		}
		return false
	})
	slices.SortFunc(tools, func(a, b Tool) int { return cmp.Compare(a.Name, b.Name) })
	return tools, nil
}

// ProbeAll probes every enabled server concurrently. Individual failures
// only affect the failing server.
func (m *Manager) ProbeAll(ctx context.Context) error {
	servers, err := m.store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("listing sources: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.probeConcurrency)
	for _, srv := range servers {
		if !srv.Enabled {
			continue
		}
		g.Go(func() error {
			// Probe failures are recorded on the server, not propagated.
			_, _ = m.Probe(gctx, srv.ID)
			return nil
		})
	}
	return g.Wait()
}

// ResolveExternal implements capability.ExternalSource.
func (m *Manager) ResolveExternal(ctx context.Context, name string) (capability.Capability, error) {
	serverName, toolName, ok := capability.SplitExternalName(name)
	if !ok {
		return capability.Capability{}, fmt.Errorf("%w: %s", capability.ErrNotFound, name)
	}
	srv, err := m.store.GetServerByName(ctx, serverName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return capability.Capability{}, fmt.Errorf("%w: %s", capability.ErrNotFound, name)
		}
		return capability.Capability{}, err
	}
	for _, t := range m.snapshot.Load().tools[srv.ID] {
		if t.Name == toolName {
			return capabilityFor(&srv, t), nil
		}
	}
	return capability.Capability{}, fmt.Errorf("%w: %s", capability.ErrNotFound, name)
}

// DispatchableExternal implements capability.ExternalSource.
func (m *Manager) DispatchableExternal(ctx context.Context) []capability.Capability {
	servers, err := m.store.ListServers(ctx)
	if err != nil {
		m.logger.Warn("listing sources failed", "error", err)
		return nil
	}
	snap := m.snapshot.Load()
	var out []capability.Capability
	for _, srv := range servers {
		if !srv.Discoverable() {
			continue
		}
		for _, t := range snap.tools[srv.ID] {
			if srv.ToolApproved(t.Name) {
				out = append(out, capabilityFor(&srv, t))
			}
		}
	}
	return out
}

// CallTool implements executor.ToolCaller. Transport failures drop the
// session so the next call or probe reconnects.
func (m *Manager) CallTool(ctx context.Context, serverID, tool string, input json.RawMessage) (string, error) {
	srv, err := m.store.GetServer(ctx, serverID)
	if err != nil {
		return "", err
	}
	if !srv.Enabled {
		return "", fmt.Errorf("%w: %s is disabled", ErrUnavailable, srv.Name)
	}

	sess, err := m.session(ctx, srv)
	if err != nil {
		return "", fmt.Errorf("%w: %w", executor.ErrUpstream, err)
	}
	out, err := sess.CallTool(ctx, tool, input)
	switch {
	case err == nil, errors.Is(err, ErrToolFailed):
		return out, err
	case ctx.Err() != nil:
		return out, ctx.Err()
	default:
		m.dropSession(serverID)
		return out, fmt.Errorf("%w: %w", executor.ErrUpstream, err)
	}
}

// Close closes every open session.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]Session)
	m.mu.Unlock()

	var errs []error
	for id, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// session returns the open session of srv, connecting first if needed.
// Concurrent first connections may race; the loser's session is closed.
func (m *Manager) session(ctx context.Context, srv Server) (Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[srv.ID]
	m.mu.Unlock()
	if ok {
		return sess, nil
	}

	sess, err := m.connector.Connect(ctx, srv)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[srv.ID]; ok {
		_ = sess.Close()
		return existing, nil
	}
	m.sessions[srv.ID] = sess
	return sess, nil
}

func (m *Manager) dropSession(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		if err := sess.Close(); err != nil {
			m.logger.Debug("closing session failed", "id", id, "error", err)
		}
	}
}

// setTools swaps in a new snapshot with id's tools replaced. nil removes
// the entry.
func (m *Manager) setTools(id string, tools []Tool) {
	for {
		old := m.snapshot.Load()
		next := &catalogSnapshot{tools: make(map[string][]Tool, len(old.tools)+1)}
		for k, v := range old.tools {
			if k != id {
				next.tools[k] = v
			}
		}
		if tools != nil {
			next.tools[id] = tools
		}
		if m.snapshot.CompareAndSwap(old, next) {
			return
		}
	}
}
