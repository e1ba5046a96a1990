package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/skillgate/internal/audit"
	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/core"
	"github.com/flemzord/skillgate/internal/security"
	"github.com/flemzord/skillgate/internal/telemetry"
)

func TestGateway_ModuleInfo(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	info := g.ModuleInfo()

	if info.ID != "gateway.http" {
		t.Errorf("ID = %q, want %q", info.ID, "gateway.http")
	}
	if info.New == nil {
		t.Fatal("New func is nil")
	}

	mod := info.New()
	if _, ok := mod.(*Gateway); !ok {
		t.Error("New() should return *Gateway")
	}
}

func TestGateway_ConfigureDefaults(t *testing.T) {
	t.Parallel()

	g := &Gateway{}

	node := mustYAMLNode(t, "{}")
	if err := g.Configure(node); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if g.config.Bind != "127.0.0.1:8080" {
		t.Errorf("Bind = %q, want default", g.config.Bind)
	}
	if g.config.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout = %v, want 10s", g.config.ReadTimeout)
	}
	if g.config.WriteTimeout != 60*time.Second {
		t.Errorf("WriteTimeout = %v, want 60s", g.config.WriteTimeout)
	}
	if g.config.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", g.config.ShutdownTimeout)
	}
	if g.config.MaxBodyBytes != 2<<20 {
		t.Errorf("MaxBodyBytes = %d, want 2MiB", g.config.MaxBodyBytes)
	}
	if g.config.Auth.AttemptsPerMinute != 120 {
		t.Errorf("AttemptsPerMinute = %d, want 120", g.config.Auth.AttemptsPerMinute)
	}
}

func TestGateway_ConfigureCustom(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	node := mustYAMLNode(t, `
bind: "0.0.0.0:9090"
read_timeout: 5s
write_timeout: 15s
shutdown_timeout: 10s
disable_mcp: true
feed_buffer: 8
auth:
  bearer_token: "my-token"
`)

	if err := g.Configure(node); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if g.config.Bind != "0.0.0.0:9090" {
		t.Errorf("Bind = %q, want custom", g.config.Bind)
	}
	if g.config.Auth.BearerToken != "my-token" {
		t.Errorf("BearerToken = %q", g.config.Auth.BearerToken)
	}
	if !g.config.DisableMCP || g.config.FeedBuffer != 8 {
		t.Errorf("config = %+v", g.config)
	}
}

func TestGateway_ValidateGoodAddress(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	g.config.Bind = "127.0.0.1:8080"
	if err := g.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestGateway_ValidateBadAddress(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	g.config.Bind = "not a valid address::"
	if err := g.Validate(); err == nil {
		t.Error("expected validation error for bad address")
	}
}

// freeAddr returns a free TCP address on localhost.
func freeAddr(t *testing.T) string {
	t.Helper()
	var lc net.ListenConfig
	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	return addr
}

// doGet makes a GET request with an optional bearer token.
func doGet(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func provisionedGateway(t *testing.T, addr string, auth AuthConfig) (*Gateway, *core.AppContext) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	appCtx := core.NewAppContext(logger, t.TempDir())

	g := &Gateway{}
	g.config = Config{
		Bind:            addr,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
		Auth:            auth,
	}
	if err := g.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	return g, appCtx
}

func TestGateway_StartStop(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	g, _ := provisionedGateway(t, addr, AuthConfig{})

	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp := doGet(t, "http://"+addr+"/health", "")
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("health.Status = %q, want %q", health.Status, "ok")
	}

	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGateway_ResolvesServicesOnStart(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	g, appCtx := provisionedGateway(t, addr, AuthConfig{BearerToken: "tok"})

	registry := capability.NewRegistry(capability.RegistryConfig{
		Store:   capability.NewMemoryStore(),
		Secrets: security.NewMemorySecretStore(),
	})
	store := audit.NewMemoryStore()
	appCtx.RegisterService("capability.registry", registry)
	appCtx.RegisterService("audit.log", store)
	appCtx.RegisterService("audit.summaries", store)
	appCtx.RegisterService("telemetry.metrics", telemetry.NewMetrics())
	appCtx.RegisterService("app.version", "1.2.3")

	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = g.Stop(context.Background()) }()

	if g.services.Registry != registry || g.services.Audit == nil || g.services.Summaries == nil {
		t.Fatalf("services not resolved: %+v", g.services)
	}
	if g.services.Invoker != nil || g.services.Sources != nil {
		t.Error("unregistered services should stay nil")
	}

	resp := doGet(t, "http://"+addr+"/status", "tok")
	defer func() { _ = resp.Body.Close() }()
	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", status.Version)
	}

	// Routes of missing services are not mounted.
	resp2 := doGet(t, "http://"+addr+"/api/dispatchable", "tok")
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound && resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("dispatchable code = %d, want 404 or 405", resp2.StatusCode)
	}

	resp3 := doGet(t, "http://"+addr+"/metrics", "")
	_ = resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("metrics code = %d, want 200", resp3.StatusCode)
	}
}

func TestGateway_AdminNotMountedWithoutAuth(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	g, appCtx := provisionedGateway(t, addr, AuthConfig{})
	appCtx.RegisterService("capability.registry", capability.NewRegistry(capability.RegistryConfig{
		Store: capability.NewMemoryStore(),
	}))

	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = g.Stop(context.Background()) }()

	for _, path := range []string{"/status", "/api/capabilities", "/mcp"} {
		resp := doGet(t, "http://"+addr+path, "")
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s code = %d, want 404 or 405 (not mounted)", path, resp.StatusCode)
		}
	}
}

func TestGateway_AdminWithAuth(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	g, _ := provisionedGateway(t, addr, AuthConfig{BearerToken: "test-token"})

	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = g.Stop(context.Background()) }()

	resp := doGet(t, "http://"+addr+"/status", "")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no-auth status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	resp2 := doGet(t, "http://"+addr+"/status", "test-token")
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("auth status = %d, want %d", resp2.StatusCode, http.StatusOK)
	}
}

func TestGateway_StopNilServer(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	if err := g.Stop(context.Background()); err != nil {
		t.Errorf("Stop on nil server should not error: %v", err)
	}
}

// mustYAMLNode parses YAML text into a *yaml.Node for Configure calls.
func mustYAMLNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if len(node.Content) > 0 {
		return node.Content[0]
	}
	return &node
}
