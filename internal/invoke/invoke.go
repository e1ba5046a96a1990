// Package invoke is the single path every capability call takes:
// resolve, gate, dispatch, audit.
package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/skillgate/internal/audit"
	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/executor"
	"github.com/flemzord/skillgate/internal/gate"
	"github.com/flemzord/skillgate/internal/security"
)

// ErrAuditUnavailable wraps persistence failures of the audit write. It is
// the only failure an invocation returns as an error.
var ErrAuditUnavailable = errors.New("audit log unavailable")

// CallerKind identifies where an invocation came from.
type CallerKind string

// Caller kinds.
const (
	CallerChat      CallerKind = "chat"
	CallerHTTP      CallerKind = "http"
	CallerMCP       CallerKind = "mcp"
	CallerScheduler CallerKind = "scheduler"
)

// Request is one invocation.
type Request struct {
	Capability string
	Input      json.RawMessage
	Caller     CallerKind
	ThreadID   string
	UserID     string
	Channel    string
}

// Result is the outcome of an invocation. Policy denials and execution
// failures are results, not errors.
type Result struct {
	Capability   string                `json:"capability"`
	Output       string                `json:"output,omitempty"`
	Success      bool                  `json:"success"`
	Verdict      gate.Verdict          `json:"verdict"`
	FailureClass executor.FailureClass `json:"failure_class,omitempty"`
	Truncated    bool                  `json:"truncated,omitempty"`
	Duration     time.Duration         `json:"duration"`
	AuditID      int64                 `json:"audit_id"`

	// Err is the execution error. It may carry upstream detail and is
	// for logs and the audit record only.
	Err error `json:"-"`
}

// PublicError returns the failure message safe to show to end users.
func (r Result) PublicError() string {
	switch {
	case r.Success:
		return ""
	case !r.Verdict.Allowed:
		return r.Verdict.Message
	case r.FailureClass == executor.FailureTimeout:
		return "capability timed out"
	default:
		return "capability execution failed"
	}
}

// Resolver finds the descriptor of a capability by name.
type Resolver interface {
	Resolve(ctx context.Context, name string) (capability.Capability, error)
}

// Evaluator is the security gate.
type Evaluator interface {
	Evaluate(c *capability.Capability, ctx gate.Context) gate.Verdict
}

// Dispatcher executes an allowed capability.
type Dispatcher interface {
	Execute(ctx context.Context, c *capability.Capability, input json.RawMessage) (executor.Result, error)
}

// Recorder appends audit records.
type Recorder interface {
	Append(ctx context.Context, rec audit.Record) (audit.Record, error)
}

// Metrics observes invocations.
type Metrics interface {
	ObserveInvocation(capability, kind, reason string, success bool, d time.Duration)
	AuditWriteFailed()
}

// Config configures an Invoker.
type Config struct {
	Resolver   Resolver
	Gate       Evaluator
	Dispatcher Dispatcher
	Recorder   Recorder
	Metrics    Metrics // optional
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Invoker orchestrates invocations. Gate evaluation strictly precedes
// dispatch, which strictly precedes the audit write.
type Invoker struct {
	resolver   Resolver
	gate       Evaluator
	dispatcher Dispatcher
	recorder   Recorder
	metrics    Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
}

// New creates an invoker.
func New(cfg Config) *Invoker {
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/flemzord/skillgate/internal/invoke")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Invoker{
		resolver:   cfg.Resolver,
		gate:       cfg.Gate,
		dispatcher: cfg.Dispatcher,
		recorder:   cfg.Recorder,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		logger:     cfg.Logger.With("component", "invoker"),
	}
}

// Invoke resolves, gates, dispatches and audits one call. Exactly one audit
// record is written per resolved invocation, allowed or denied, even when
// ctx is cancelled mid-flight. The error is non-nil only when resolution
// hits an unknown name or the store, or when the audit write fails.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (Result, error) {
	ctx, span := inv.tracer.Start(ctx, "capability.invoke", trace.WithAttributes(
		attribute.String("capability.name", req.Capability),
		attribute.String("caller.kind", string(req.Caller)),
	))
	defer span.End()

	c, err := inv.resolver.Resolve(ctx, req.Capability)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return Result{Capability: req.Capability}, err
	}
	span.SetAttributes(attribute.String("capability.kind", string(c.Kind)))

	verdict := inv.gate.Evaluate(&c, gate.Context{Input: req.Input, Domain: targetDomain(&c)})
	span.SetAttributes(attribute.String("gate.reason", string(verdict.Reason)))

	res := Result{Capability: c.Name, Verdict: verdict}
	if verdict.Allowed {
		out, execErr := inv.dispatcher.Execute(ctx, &c, req.Input)
		res.Output = out.Output
		res.Truncated = out.Truncated
		res.Duration = out.Duration
		res.Err = execErr
		res.FailureClass = executor.Classify(execErr)
		res.Success = execErr == nil
		if execErr != nil {
			span.RecordError(execErr)
			span.SetStatus(codes.Error, string(res.FailureClass))
			inv.logger.Warn("capability failed",
				"capability", c.Name, "class", res.FailureClass, "error", execErr)
		}
	} else {
		span.SetStatus(codes.Error, "denied")
		inv.logger.Info("capability denied",
			"capability", c.Name, "reason", verdict.Reason, "caller", req.Caller)
	}

	rec := audit.Record{
		CapabilityName: c.Name,
		Kind:           string(c.Kind),
		Origin:         c.Origin,
		CallerKind:     string(req.Caller),
		ThreadID:       req.ThreadID,
		UserID:         req.UserID,
		Channel:        req.Channel,
		Input:          string(req.Input),
		Output:         res.Output,
		Success:        res.Success,
		ReasonCode:     string(verdict.Reason),
		FailureClass:   string(res.FailureClass),
		DurationMs:     res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}

	// The caller going away must not lose the record.
	stored, err := inv.recorder.Append(context.WithoutCancel(ctx), rec)
	if inv.metrics != nil {
		inv.metrics.ObserveInvocation(c.Name, string(c.Kind), string(verdict.Reason), res.Success, res.Duration)
	}
	if err != nil {
		if inv.metrics != nil {
			inv.metrics.AuditWriteFailed()
		}
		span.RecordError(err)
		inv.logger.Error("audit write failed", "capability", c.Name, "error", err)
		return res, fmt.Errorf("%w: %w", ErrAuditUnavailable, err)
	}
	res.AuditID = stored.ID
	span.SetAttributes(attribute.Int64("audit.id", stored.ID))
	return res, nil
}

// List returns every capability callers may currently invoke.
func (inv *Invoker) List(ctx context.Context) ([]capability.Capability, error) {
	lister, ok := inv.resolver.(interface {
		ListDispatchable(ctx context.Context) ([]capability.Capability, error)
	})
	if !ok {
		return nil, nil
	}
	return lister.ListDispatchable(ctx)
}

// targetDomain returns the host the allowlist is checked against. Only
// webhooks have one, and it always comes from the stored URL. An
// unparsable URL yields the raw string, which no allowlist entry matches.
func targetDomain(c *capability.Capability) string {
	if c.Kind != capability.KindWebhook {
		return ""
	}
	host, err := security.HostOf(c.WebhookURL)
	if err != nil {
		return c.WebhookURL
	}
	return host
}
