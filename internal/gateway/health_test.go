package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/skillgate/internal/source"
)

func TestHealth_AllHealthy(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	srv, err := e.sources.Add(context.Background(), source.Server{Name: "files", URL: "http://127.0.0.1:9/mcp"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.sources.Approve(context.Background(), srv.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.sources.Probe(context.Background(), srv.ID); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	e.gw.handleHealth().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Health != source.HealthHealthy {
		t.Errorf("sources = %+v, want one healthy", resp.Sources)
	}
}

func TestHealth_Degraded(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.conn.setFail("down", errors.New("connection refused"))
	srv, err := e.sources.Add(context.Background(), source.Server{Name: "down", URL: "http://127.0.0.1:9/mcp"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.sources.Approve(context.Background(), srv.ID); err != nil {
		t.Fatal(err)
	}
	_, _ = e.sources.Probe(context.Background(), srv.ID)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	e.gw.handleHealth().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if resp.Status != "degraded" {
		t.Errorf("status = %q, want %q", resp.Status, "degraded")
	}
}

func TestHealth_UnapprovedSourceDoesNotDegrade(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.conn.setFail("down", errors.New("connection refused"))
	srv, err := e.sources.Add(context.Background(), source.Server{Name: "down", URL: "http://127.0.0.1:9/mcp"})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = e.sources.Probe(context.Background(), srv.ID)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	e.gw.handleHealth().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestHealth_NoSources(t *testing.T) {
	t.Parallel()

	g := &Gateway{}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	g.handleHealth().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
}
