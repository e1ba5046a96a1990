package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// SummarizerConfig configures a Summarizer.
type SummarizerConfig struct {
	Log       Log
	Summaries SummaryStore
	Logger    *slog.Logger

	// BatchSize bounds the records folded per transaction. Defaults to 1000.
	BatchSize int

	Now func() time.Time
}

// Summarizer folds new records into per-capability summaries.
type Summarizer struct {
	log       Log
	summaries SummaryStore
	logger    *slog.Logger
	batch     int
	now       func() time.Time

	// watermark is the highest record id seen by the last pass in which
	// every fold succeeded. Later passes only visit capabilities with
	// records above it.
	watermark atomic.Int64
}

// NewSummarizer creates a summarizer.
func NewSummarizer(cfg SummarizerConfig) *Summarizer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Summarizer{
		log:       cfg.Log,
		summaries: cfg.Summaries,
		logger:    cfg.Logger.With("component", "summarizer"),
		batch:     cfg.BatchSize,
		now:       cfg.Now,
	}
}

// PassResult reports what a pass folded.
type PassResult struct {
	Capabilities int
	Records      int
	Failed       int
}

// Pass folds every record newer than each capability's cursor. Only
// capabilities with records since the last clean pass are visited. Each
// capability is folded independently; a failed fold leaves that summary
// untouched and is retried on the next pass.
func (s *Summarizer) Pass(ctx context.Context) (PassResult, error) {
	var res PassResult
	from := s.watermark.Load()
	names, last, err := s.log.CapabilitiesAfter(ctx, from)
	if err != nil {
		return res, fmt.Errorf("listing audited capabilities: %w", err)
	}

	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := s.foldCapability(ctx, name)
		res.Records += n
		if err != nil {
			res.Failed++
			s.logger.Warn("summary fold failed", "capability", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if n > 0 {
			res.Capabilities++
		}
	}
	if len(errs) == 0 {
		s.watermark.CompareAndSwap(from, last)
	}
	if res.Records > 0 || res.Failed > 0 {
		s.logger.Info("summarization pass done",
			"capabilities", res.Capabilities, "records", res.Records, "failed", res.Failed)
	}
	return res, errors.Join(errs...)
}

func (s *Summarizer) foldCapability(ctx context.Context, name string) (int, error) {
	folded := 0
	for {
		cur, _, err := s.summaries.GetSummary(ctx, name)
		if err != nil {
			return folded, err
		}
		records, err := s.log.RecordsAfter(ctx, name, cur.LastAuditID, s.batch)
		if err != nil {
			return folded, err
		}
		if len(records) == 0 {
			return folded, nil
		}

		next := cur
		next.CapabilityName = name
		next.fold(records)
		next.UpdatedAt = s.now()
		if err := s.summaries.SaveSummary(ctx, cur.LastAuditID, next); err != nil {
			return folded, err
		}
		folded += len(records)
		if len(records) < s.batch {
			return folded, nil
		}
	}
}
