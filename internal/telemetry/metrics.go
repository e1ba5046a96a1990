package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	invocations    *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	auditFailures  prometheus.Counter
	probes         *prometheus.CounterVec
	summaryRecords prometheus.Counter
	summaryFolds   *prometheus.CounterVec
	pruned         prometheus.Counter
	taskRuns       *prometheus.CounterVec
	jobRuns        *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
}

// NewMetrics creates and registers every collector, including the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillgate",
			Name:      "invocations_total",
			Help:      "Capability invocations by verdict reason and outcome.",
		}, []string{"capability", "kind", "reason", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "skillgate",
			Name:      "invocation_duration_seconds",
			Help:      "Duration of dispatched invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 13),
		}, []string{"kind"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skillgate",
			Name:      "audit_write_failures_total",
			Help:      "Audit records that could not be persisted.",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillgate",
			Name:      "source_probes_total",
			Help:      "Health probes of external sources by result.",
		}, []string{"source", "result"}),
		summaryRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skillgate",
			Name:      "summary_folded_records_total",
			Help:      "Audit records folded into summaries.",
		}),
		summaryFolds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillgate",
			Name:      "summary_folds_total",
			Help:      "Per-capability summary folds by result.",
		}, []string{"result"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skillgate",
			Name:      "audit_pruned_records_total",
			Help:      "Audit records deleted by retention.",
		}),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillgate",
			Name:      "scheduled_task_runs_total",
			Help:      "Scheduled task runs by result.",
		}, []string{"result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillgate",
			Name:      "background_job_runs_total",
			Help:      "Background job runs by job and result.",
		}, []string{"job", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillgate",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.invocations, m.duration, m.auditFailures, m.probes,
		m.summaryRecords, m.summaryFolds, m.pruned, m.taskRuns, m.jobRuns, m.httpRequests,
	)
	return m
}

// Registry exposes the registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveInvocation records one invocation. Denied invocations have no
// duration observation.
func (m *Metrics) ObserveInvocation(capability, kind, reason string, success bool, d time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.invocations.WithLabelValues(capability, kind, reason, outcome).Inc()
	if reason == "passed" {
		m.duration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// AuditWriteFailed counts an audit record that could not be stored.
func (m *Metrics) AuditWriteFailed() { m.auditFailures.Inc() }

// ObserveProbe records one source probe.
func (m *Metrics) ObserveProbe(source string, healthy bool) {
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	m.probes.WithLabelValues(source, result).Inc()
}

// ObserveSummaryPass records a summarization pass.
func (m *Metrics) ObserveSummaryPass(folded, failed, records int) {
	m.summaryFolds.WithLabelValues("ok").Add(float64(folded))
	m.summaryFolds.WithLabelValues("failed").Add(float64(failed))
	m.summaryRecords.Add(float64(records))
}

// ObservePruned adds deleted audit records.
func (m *Metrics) ObservePruned(n int) { m.pruned.Add(float64(n)) }

// ObserveTaskRun records one scheduled task run.
func (m *Metrics) ObserveTaskRun(ok bool) {
	if ok {
		m.taskRuns.WithLabelValues("ok").Inc()
		return
	}
	m.taskRuns.WithLabelValues("error").Inc()
}

// ObserveJob records one background job run.
func (m *Metrics) ObserveJob(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(route, method string, code int) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}
