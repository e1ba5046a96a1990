package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/skillgate/internal/invoke"
)

// Invoker runs one invocation through the gate.
type Invoker interface {
	Invoke(ctx context.Context, req invoke.Request) (invoke.Result, error)
}

// RunObserver records task run outcomes.
type RunObserver interface {
	ObserveTaskRun(ok bool)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Store    Store
	Invoker  Invoker
	Location *time.Location // UTC when nil
	Metrics  RunObserver    // optional
	Logger   *slog.Logger

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Poller runs due tasks. It is driven by the cron scheduler once a
// minute; a task that fails is recorded and skipped until its next run.
type Poller struct {
	store   Store
	invoker Invoker
	loc     *time.Location
	metrics RunObserver
	logger  *slog.Logger
	now     func() time.Time
}

// NewPoller creates a poller.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{
		store:   cfg.Store,
		invoker: cfg.Invoker,
		loc:     cfg.Location,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "schedule"),
		now:     cfg.Now,
	}
}

// Poll runs every due task once and returns how many ran. Task failures
// do not stop the pass; only errors saving run state are returned.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	now := p.now().UTC()
	due, err := p.store.DueTasks(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("listing due tasks: %w", err)
	}

	var errs []error
	ran := 0
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		if err := p.run(ctx, t, now); err != nil {
			errs = append(errs, err)
			continue
		}
		ran++
	}
	return ran, errors.Join(errs...)
}

func (p *Poller) run(ctx context.Context, t Task, now time.Time) error {
	runErr := p.invokeTask(ctx, &t)
	if p.metrics != nil {
		p.metrics.ObserveTaskRun(runErr == nil)
	}
	if runErr != nil {
		p.logger.Warn("task run failed", "task", t.ID, "name", t.Name, "error", runErr)
	} else {
		p.logger.Info("task ran", "task", t.ID, "name", t.Name)
	}

	// Re-read so an edit made while the task ran is not overwritten.
	saveCtx := context.WithoutCancel(ctx)
	current, err := p.store.GetTask(saveCtx, t.ID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}

	next, err := advance(current.Recurrence, t.NextRunAt, now, p.loc)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	current.LastRunAt = now
	current.NextRunAt = next
	current.RunCount++
	current.LastError = ""
	if runErr != nil {
		current.LastError = runErr.Error()
	}
	current.UpdatedAt = now

	if err := p.store.UpdateTask(saveCtx, current); err != nil {
		return fmt.Errorf("task %s: saving run: %w", t.ID, err)
	}
	return nil
}

func (p *Poller) invokeTask(ctx context.Context, t *Task) error {
	input, err := t.payload()
	if err != nil {
		return err
	}
	target := t.Capability
	if target == "" {
		target = DefaultCapability
	}
	res, err := p.invoker.Invoke(ctx, invoke.Request{
		Capability: target,
		Input:      input,
		Caller:     invoke.CallerScheduler,
		ThreadID:   "task:" + t.ID,
	})
	if err != nil {
		return err
	}
	if !res.Success {
		if res.Err != nil {
			return res.Err
		}
		return errors.New(res.PublicError())
	}
	return nil
}
