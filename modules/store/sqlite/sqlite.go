// Package sqlite implements the persistent gateway stores on a single SQLite
// database: capabilities, scoped secrets, MCP servers, the audit log with
// its blobs and summaries, and scheduled tasks. It uses modernc.org/sqlite
// (pure Go, no CGO) in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/skillgate/internal/audit"
	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/core"
	"github.com/flemzord/skillgate/internal/schedule"
	"github.com/flemzord/skillgate/internal/security"
	"github.com/flemzord/skillgate/internal/source"
	"gopkg.in/yaml.v3"

	_ "modernc.org/sqlite" // SQLite driver registration
)

func init() {
	core.RegisterModule(&Module{})
}

// Service names registered on the AppContext.
const (
	ServiceCapabilities = "store.capabilities"
	ServiceSecrets      = "store.secrets"
	ServiceSources      = "store.sources"
	ServiceAudit        = "store.audit"
	ServiceTasks        = "store.tasks"
)

// Compile-time interface guards.
var (
	_ capability.Store     = (*capabilityStore)(nil)
	_ security.SecretStore = (*secretStore)(nil)
	_ source.Store         = (*sourceStore)(nil)
	_ audit.Log            = (*auditStore)(nil)
	_ audit.BlobStore      = (*auditStore)(nil)
	_ audit.SummaryStore   = (*auditStore)(nil)
	_ schedule.Store       = (*taskStore)(nil)
	_ core.Configurable    = (*Module)(nil)
	_ core.Provisioner     = (*Module)(nil)
	_ core.Validator       = (*Module)(nil)
	_ core.Stopper         = (*Module)(nil)
)

// Stores groups the store implementations sharing one database.
type Stores struct {
	db *sql.DB

	Capabilities capability.Store
	Secrets      security.SecretStore
	Sources      source.Store
	Tasks        schedule.Store

	// The audit views share one implementation.
	Audit     audit.Log
	Blobs     audit.BlobStore
	Summaries audit.SummaryStore
}

// Open opens (creating if needed) the database at cfg.Path, applies the
// connection pragmas and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Stores, error) {
	cfg.defaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	// One connection: SQLite serializes writers anyway, and pragmas are
	// per connection.
	db.SetMaxOpenConns(1)

	if cfg.walEnabled() {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	as := &auditStore{db: db}
	return &Stores{
		db:           db,
		Capabilities: &capabilityStore{db: db},
		Secrets:      &secretStore{db: db},
		Sources:      &sourceStore{db: db},
		Tasks:        &taskStore{db: db},
		Audit:        as,
		Blobs:        as,
		Summaries:    as,
	}, nil
}

// Ping verifies the database is reachable.
func (s *Stores) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Stores) Close() error {
	return s.db.Close()
}

// Module provides the SQLite stores to the rest of the gateway.
type Module struct {
	config Config
	logger *slog.Logger
	stores *Stores
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	stores, err := Open(context.Background(), m.config)
	if err != nil {
		return err
	}
	m.stores = stores

	ctx.RegisterService(ServiceCapabilities, stores.Capabilities)
	ctx.RegisterService(ServiceSecrets, stores.Secrets)
	ctx.RegisterService(ServiceSources, stores.Sources)
	ctx.RegisterService(ServiceAudit, stores.Audit)
	ctx.RegisterService(ServiceTasks, stores.Tasks)

	m.logger.Info("sqlite store provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)

	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if m.stores == nil {
		return fmt.Errorf("sqlite: not provisioned")
	}
	if err := m.stores.Ping(context.Background()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.logger != nil {
		m.logger.Info("sqlite store stopping")
	}
	if m.stores != nil {
		return m.stores.Close()
	}
	return nil
}

// Stores returns the opened stores, or nil before Provision.
func (m *Module) Stores() *Stores {
	return m.stores
}
