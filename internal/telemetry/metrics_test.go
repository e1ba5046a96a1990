package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_ObserveInvocation(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.ObserveInvocation("calc", "template", "passed", true, 20*time.Millisecond)
	m.ObserveInvocation("calc", "template", "rate_limited", false, 0)
	m.ObserveInvocation("calc", "template", "rate_limited", false, 0)

	if got := testutil.ToFloat64(m.invocations.WithLabelValues("calc", "template", "passed", "success")); got != 1 {
		t.Errorf("passed/success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.invocations.WithLabelValues("calc", "template", "rate_limited", "failure")); got != 2 {
		t.Errorf("rate_limited/failure = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 1 {
		t.Errorf("duration series = %d, want 1 (denials are not timed)", n)
	}
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.ObserveJob("summarize", nil)
	m.ObserveJob("summarize", errors.New("x"))
	m.ObserveHTTP("/api/invoke", "POST", 200)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`skillgate_background_job_runs_total{job="summarize",result="error"} 1`,
		`skillgate_http_requests_total{code="200",method="POST",route="/api/invoke"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestSetupTracing_Disabled(t *testing.T) {
	t.Parallel()

	shutdown, err := SetupTracing(context.Background(), TracingConfig{})
	if err != nil {
		t.Fatalf("SetupTracing() error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error: %v", err)
	}

	if _, err := SetupTracing(context.Background(), TracingConfig{Enabled: true}); err == nil {
		t.Error("expected error for missing endpoint")
	}
}
