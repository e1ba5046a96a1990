package audit

import (
	"context"
	"log/slog"
	"time"
)

// PrunerConfig configures a Pruner.
type PrunerConfig struct {
	Log    Log
	Logger *slog.Logger

	// Retention is the age past which records are deleted. Defaults to
	// 30 days.
	Retention time.Duration

	// BatchSize is the number of rows deleted per statement. Defaults to 500.
	BatchSize int

	Now func() time.Time
}

// Pruner deletes records past the retention window in batches.
type Pruner struct {
	log       Log
	logger    *slog.Logger
	retention time.Duration
	batch     int
	now       func() time.Time
}

// NewPruner creates a pruner.
func NewPruner(cfg PrunerConfig) *Pruner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pruner{
		log:       cfg.Log,
		logger:    cfg.Logger.With("component", "retention"),
		retention: cfg.Retention,
		batch:     cfg.BatchSize,
		now:       cfg.Now,
	}
}

// Prune deletes every record older than the retention window and returns
// how many were deleted. The cutoff is fixed when the call starts.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.retention)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := p.log.DeleteRecordsBefore(ctx, cutoff, p.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < p.batch {
			break
		}
	}
	if total > 0 {
		p.logger.Info("audit records pruned", "deleted", total, "cutoff", cutoff)
	}
	return total, nil
}
