package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("SG_TEST_TOKEN", "abc")

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "set variable", in: "token: ${SG_TEST_TOKEN}", want: "token: abc"},
		{name: "default used", in: "port: ${SG_TEST_UNSET:-8080}", want: "port: 8080"},
		{name: "default ignored when set", in: "token: ${SG_TEST_TOKEN:-zzz}", want: "token: abc"},
		{name: "empty default", in: "x: ${SG_TEST_UNSET:-}", want: "x: "},
		{name: "unresolved", in: "x: ${SG_TEST_UNSET}", wantErr: true},
		{name: "no variables", in: "plain: value", want: "plain: value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnv([]byte(tt.in))
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "SG_TEST_UNSET") {
					t.Fatalf("expected unresolved variable error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("SG_TEST_DB", "/tmp/skillgate.db")

	path := filepath.Join(t.TempDir(), "skillgate.yaml")
	content := `version: "1"
modules:
  store.sqlite:
    path: ${SG_TEST_DB}
executor:
  default_timeout: 3s
sources:
  servers:
    - name: files
      command: files-mcp
      args: ["--root", "/srv"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Executor.DefaultTimeout != 3*time.Second {
		t.Errorf("DefaultTimeout = %v, want 3s", cfg.Executor.DefaultTimeout)
	}
	if cfg.Executor.OutputLimit != 50_000 {
		t.Errorf("OutputLimit = %d, want default 50000", cfg.Executor.OutputLimit)
	}
	if cfg.Audit.RetentionDays != 30 || cfg.Audit.RetentionBatch != 500 {
		t.Errorf("retention defaults = %d/%d", cfg.Audit.RetentionDays, cfg.Audit.RetentionBatch)
	}
	if cfg.Scheduler.TimeZone != "UTC" {
		t.Errorf("TimeZone = %q, want UTC", cfg.Scheduler.TimeZone)
	}
	if len(cfg.Sources.Servers) != 1 || cfg.Sources.Servers[0].Args[1] != "/srv" {
		t.Errorf("servers = %+v", cfg.Sources.Servers)
	}

	node := cfg.Modules["store.sqlite"]
	var store struct {
		Path string `yaml:"path"`
	}
	if err := node.Decode(&store); err != nil {
		t.Fatal(err)
	}
	if store.Path != "/tmp/skillgate.db" {
		t.Errorf("store path = %q, want expanded env value", store.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
