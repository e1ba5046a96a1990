package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/skillgate/internal/audit"
	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/executor"
	"github.com/flemzord/skillgate/internal/gate"
	"github.com/flemzord/skillgate/internal/invoke"
	"github.com/flemzord/skillgate/internal/schedule"
	"github.com/flemzord/skillgate/internal/security"
	"github.com/flemzord/skillgate/internal/source"
	"github.com/flemzord/skillgate/internal/telemetry"
)

const testToken = "test-token"

// testEnv is a gateway wired to in-memory components, served by httptest.
type testEnv struct {
	gw       *Gateway
	srv      *httptest.Server
	registry *capability.Registry
	audit    *audit.MemoryStore
	sources  *source.Manager
	conn     *fakeConnector
	tasks    *schedule.Manager
	metrics  *telemetry.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	secrets := security.NewMemorySecretStore()
	registry := capability.NewRegistry(capability.RegistryConfig{
		Store:   capability.NewMemoryStore(),
		Secrets: secrets,
	})

	conn := newFakeConnector()
	n := 0
	sources := source.NewManager(source.ManagerConfig{
		Store:     source.NewMemoryStore(),
		Connector: conn,
		Logger:    logger,
		NewID: func() string {
			n++
			return fmt.Sprintf("srv-%d", n)
		},
	})

	dispatcher := executor.NewDispatcher(executor.Config{DefaultTimeout: time.Second})
	dispatcher.Register(capability.KindTemplate, executor.NewTemplateStrategy(executor.TemplateConfig{}))
	dispatcher.Register(capability.KindCode, executor.NewCodeStrategy(executor.CodeHandler{
		Name: "repeat",
		Run: func(_ context.Context, input json.RawMessage) (string, error) {
			var n int
			if err := json.Unmarshal(input, &n); err != nil {
				return "", err
			}
			return strings.Repeat("x", n), nil
		},
	}))
	dispatcher.Register(capability.KindMCP, executor.NewMCPStrategy(sources))

	store := audit.NewMemoryStore()
	recorder := audit.NewRecorder(audit.RecorderConfig{
		Log:            store,
		Blobs:          store,
		MaxOutputBytes: 64,
		Logger:         logger,
	})
	metrics := telemetry.NewMetrics()
	limiter := security.NewRateLimiter(security.RateLimitConfig{})

	inv := invoke.New(invoke.Config{
		Resolver:   capability.NewCatalog(registry, sources, logger),
		Gate:       gate.New(limiter, security.InputLimits{}),
		Dispatcher: dispatcher,
		Recorder:   recorder,
		Metrics:    metrics,
		Logger:     logger,
	})

	tasks := schedule.NewManager(schedule.ManagerConfig{
		Store:  schedule.NewMemoryStore(),
		Logger: logger,
	})

	g := &Gateway{logger: logger, version: "test", startedAt: time.Now()}
	g.config.Auth.BearerToken = testToken
	g.config.defaults()
	g.services = Services{
		Invoker:   inv,
		Registry:  registry,
		Sources:   sources,
		Tasks:     tasks,
		Audit:     store,
		Blobs:     store,
		Summaries: store,
		Feed:      recorder,
		Metrics:   metrics,
		Limiter:   limiter,
	}

	srv := httptest.NewServer(g.buildRouter())
	t.Cleanup(srv.Close)

	return &testEnv{
		gw:       g,
		srv:      srv,
		registry: registry,
		audit:    store,
		sources:  sources,
		conn:     conn,
		tasks:    tasks,
		metrics:  metrics,
	}
}

// register adds a capability and optionally approves it.
func (e *testEnv) register(t *testing.T, c capability.Capability, approve bool) {
	t.Helper()
	if _, err := e.registry.Register(context.Background(), c); err != nil {
		t.Fatalf("Register(%s): %v", c.Name, err)
	}
	if approve {
		if _, err := e.registry.Approve(context.Background(), c.Name); err != nil {
			t.Fatalf("Approve(%s): %v", c.Name, err)
		}
	}
}

// do sends an authenticated request with an optional JSON body.
func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatal(err)
			}
			rd = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequestWithContext(t.Context(), method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// decode reads a JSON response body into v.
func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d (body %s)",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

// fakeConnector serves canned tools for every server name.
type fakeConnector struct {
	mu    sync.Mutex
	tools map[string][]source.Tool
	fail  map[string]error
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{tools: map[string][]source.Tool{}, fail: map[string]error{}}
}

func (f *fakeConnector) Connect(_ context.Context, srv source.Server) (source.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[srv.Name]; err != nil {
		return nil, err
	}
	return &fakeSession{conn: f, server: srv.Name}, nil
}

func (f *fakeConnector) setTools(server string, tools ...source.Tool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools[server] = tools
}

func (f *fakeConnector) setFail(server string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[server] = err
}

type fakeSession struct {
	conn   *fakeConnector
	server string
}

func (s *fakeSession) ListTools(context.Context) ([]source.Tool, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if err := s.conn.fail[s.server]; err != nil {
		return nil, err
	}
	return append([]source.Tool(nil), s.conn.tools[s.server]...), nil
}

func (s *fakeSession) CallTool(_ context.Context, tool string, input json.RawMessage) (string, error) {
	return fmt.Sprintf("%s/%s %s", s.server, tool, input), nil
}

func (s *fakeSession) Close() error { return nil }

// records returns the audit log, newest first.
func (e *testEnv) records(t *testing.T) []audit.Record {
	t.Helper()
	recs, err := e.audit.ListRecords(context.Background(), audit.Query{})
	if err != nil {
		t.Fatal(err)
	}
	return recs
}
