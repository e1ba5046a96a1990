package cron

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/skillgate/internal/audit"
)

// Summarizer folds new audit records into summaries.
type Summarizer interface {
	Pass(ctx context.Context) (audit.PassResult, error)
}

// SummaryObserver records summarization passes.
type SummaryObserver interface {
	ObserveSummaryPass(folded, failed, records int)
}

// SummarizeJob runs one summarization pass per tick.
type SummarizeJob struct {
	Summarizer   Summarizer
	Metrics      SummaryObserver // optional
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*SummarizeJob)(nil)

// Name implements Job.
func (j *SummarizeJob) Name() string { return "audit_summarize" }

// Schedule implements Job.
func (j *SummarizeJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run implements Job.
func (j *SummarizeJob) Run(ctx context.Context) error {
	res, err := j.Summarizer.Pass(ctx)
	if j.Metrics != nil {
		j.Metrics.ObserveSummaryPass(res.Capabilities, res.Failed, res.Records)
	}
	if err != nil {
		return fmt.Errorf("cron: summarize: %w", err)
	}
	return nil
}

// Pruner deletes expired audit records.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// PruneObserver records deleted audit records.
type PruneObserver interface {
	ObservePruned(n int)
}

// RetentionJob deletes audit records past the retention window.
type RetentionJob struct {
	Pruner       Pruner
	Metrics      PruneObserver // optional
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "17 3 * * *"
}

// Compile-time interface check.
var _ Job = (*RetentionJob)(nil)

// Name implements Job.
func (j *RetentionJob) Name() string { return "audit_retention" }

// Schedule implements Job.
func (j *RetentionJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "17 3 * * *"
}

// Run implements Job. Records deleted before an error are still counted.
func (j *RetentionJob) Run(ctx context.Context) error {
	n, err := j.Pruner.Prune(ctx)
	if j.Metrics != nil && n > 0 {
		j.Metrics.ObservePruned(n)
	}
	if n > 0 {
		j.Logger.Info("cron: pruned audit records", "count", n)
	}
	if err != nil {
		return fmt.Errorf("cron: retention: %w", err)
	}
	return nil
}

// Prober checks every external source.
type Prober interface {
	ProbeAll(ctx context.Context) error
}

// SourceProbeJob refreshes the health and tool lists of external sources.
type SourceProbeJob struct {
	Prober       Prober
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*SourceProbeJob)(nil)

// Name implements Job.
func (j *SourceProbeJob) Name() string { return "source_probe" }

// Schedule implements Job.
func (j *SourceProbeJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run implements Job.
func (j *SourceProbeJob) Run(ctx context.Context) error {
	if err := j.Prober.ProbeAll(ctx); err != nil {
		return fmt.Errorf("cron: source probe: %w", err)
	}
	return nil
}

// TaskPoller runs due scheduled tasks.
type TaskPoller interface {
	Poll(ctx context.Context) (int, error)
}

// TaskPollJob runs due scheduled tasks.
type TaskPollJob struct {
	Poller       TaskPoller
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "* * * * *"
}

// Compile-time interface check.
var _ Job = (*TaskPollJob)(nil)

// Name implements Job.
func (j *TaskPollJob) Name() string { return "task_poll" }

// Schedule implements Job.
func (j *TaskPollJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "* * * * *"
}

// Run implements Job.
func (j *TaskPollJob) Run(ctx context.Context) error {
	n, err := j.Poller.Poll(ctx)
	if n > 0 {
		j.Logger.Debug("cron: ran scheduled tasks", "count", n)
	}
	if err != nil {
		return fmt.Errorf("cron: task poll: %w", err)
	}
	return nil
}

// BucketPruner drops idle rate limiter buckets.
type BucketPruner interface {
	Prune() int
}

// LimiterPruneJob removes idle rate limiter buckets.
type LimiterPruneJob struct {
	Limiter      BucketPruner
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/10 * * * *"
}

// Compile-time interface check.
var _ Job = (*LimiterPruneJob)(nil)

// Name implements Job.
func (j *LimiterPruneJob) Name() string { return "ratelimit_prune" }

// Schedule implements Job.
func (j *LimiterPruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/10 * * * *"
}

// Run implements Job.
func (j *LimiterPruneJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: limiter prune cancelled: %w", ctx.Err())
	}
	if n := j.Limiter.Prune(); n > 0 {
		j.Logger.Debug("cron: pruned idle rate limit buckets", "count", n)
	}
	return nil
}
