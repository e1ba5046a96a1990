package config

import (
	"strings"
	"testing"

	"github.com/flemzord/skillgate/internal/core"
	"gopkg.in/yaml.v3"
)

// stubModule is a basic module for testing.
type stubModule struct {
	id string
}

func (m *stubModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  core.ModuleID(m.id),
		New: func() core.Module { return &stubModule{id: m.id} },
	}
}

func init() {
	core.RegisterModule(&stubModule{id: "store.sqlite"})
	core.RegisterModule(&stubModule{id: "gateway.http"})
}

func validConfig() *Config {
	cfg := &Config{
		Version: "1",
		Modules: map[string]yaml.Node{"store.sqlite": {}, "gateway.http": {}},
	}
	cfg.defaults()
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()

	if err := Validate(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing version", func(c *Config) { c.Version = "" }, "version field is required"},
		{"unsupported version", func(c *Config) { c.Version = "2" }, `unsupported version "2"`},
		{"unknown module", func(c *Config) { c.Modules["store.nope"] = yaml.Node{} }, `unknown module "store.nope"`},
		{"missing store", func(c *Config) { delete(c.Modules, "store.sqlite") }, `module "store.sqlite" is required`},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"negative global limit", func(c *Config) { c.Security.RateLimits.GlobalPerMinute = -1 }, "global_per_minute"},
		{"bad redact pattern", func(c *Config) { c.Security.RedactPatterns = []string{"("} }, "redact_patterns[0]"},
		{"bad inbox url", func(c *Config) { c.Executor.AgentInboxURL = "ftp://x" }, "agent_inbox_url"},
		{"bad summarize cron", func(c *Config) { c.Audit.SummarizeSchedule = "every 5m" }, "summarize_schedule"},
		{"negative retention", func(c *Config) { c.Audit.RetentionDays = -1 }, "retention_days"},
		{"bad time zone", func(c *Config) { c.Scheduler.TimeZone = "Mars/Olympus" }, "time_zone"},
		{"tracing without endpoint", func(c *Config) { c.Telemetry.Tracing.Enabled = true }, "tracing.endpoint"},
		{"server without name", func(c *Config) {
			c.Sources.Servers = []ServerEntry{{URL: "http://localhost:9000/mcp"}}
		}, "name is required"},
		{"server name with separator", func(c *Config) {
			c.Sources.Servers = []ServerEntry{{Name: "a__b", URL: "http://localhost:9000/mcp"}}
		}, `must not contain "__"`},
		{"server url and command", func(c *Config) {
			c.Sources.Servers = []ServerEntry{{Name: "fs", URL: "http://x", Command: "fs-server"}}
		}, "exactly one of url or command"},
		{"server neither url nor command", func(c *Config) {
			c.Sources.Servers = []ServerEntry{{Name: "fs"}}
		}, "exactly one of url or command"},
		{"duplicate server", func(c *Config) {
			c.Sources.Servers = []ServerEntry{{Name: "fs", Command: "a"}, {Name: "fs", Command: "b"}}
		}, `duplicate name "fs"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsEveryError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Version = ""
	cfg.Log.Level = "loud"
	cfg.Audit.RetentionDays = -5

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"version", "log.level", "retention_days"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestResolve_LoadOrder(t *testing.T) {
	t.Parallel()

	cfg := &Config{Modules: map[string]yaml.Node{
		"gateway.http": {},
		"extra.thing":  {},
		"store.sqlite": {},
	}}

	got := Resolve(cfg)
	want := []string{"store.sqlite", "extra.thing", "gateway.http"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Resolve = %v, want %v", got, want)
	}
}
