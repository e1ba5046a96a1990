// Package executor runs capabilities. A Dispatcher picks the strategy for
// the capability kind and bounds every run by a timeout and an output
// size limit.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/skillgate/internal/capability"
)

// Errors returned by strategies and the dispatcher.
var (
	ErrTimeout         = errors.New("execution timed out")
	ErrCancelled       = errors.New("execution cancelled")
	ErrUpstreamStatus  = errors.New("upstream returned non-success status")
	ErrRedirectRefused = errors.New("redirect refused")
	ErrUpstream        = errors.New("upstream request failed")
	ErrNoStrategy      = errors.New("no strategy for capability kind")
	ErrUnknownTemplate = errors.New("unknown template")
	ErrUnknownHandler  = errors.New("unknown code handler")
	ErrBadInput        = errors.New("bad input")
	ErrSecretMissing   = errors.New("secret not found")
)

// FailureClass groups execution failures for audit and metrics.
type FailureClass string

// Failure classes. The zero value means success.
const (
	FailureNone      FailureClass = ""
	FailureTimeout   FailureClass = "timeout"
	FailureUpstream  FailureClass = "upstream"
	FailureHandler   FailureClass = "handler"
	FailureCancelled FailureClass = "cancelled"
)

// Classify maps an execution error to its failure class.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrTimeout):
		return FailureTimeout
	case errors.Is(err, ErrCancelled):
		return FailureCancelled
	case errors.Is(err, ErrUpstreamStatus), errors.Is(err, ErrRedirectRefused), errors.Is(err, ErrUpstream):
		return FailureUpstream
	default:
		return FailureHandler
	}
}

// Strategy executes one kind of capability.
type Strategy interface {
	Execute(ctx context.Context, c *capability.Capability, input json.RawMessage) (string, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, c *capability.Capability, input json.RawMessage) (string, error)

// Execute implements Strategy.
func (f StrategyFunc) Execute(ctx context.Context, c *capability.Capability, input json.RawMessage) (string, error) {
	return f(ctx, c, input)
}

// Config configures a Dispatcher.
type Config struct {
	// DefaultTimeout bounds capabilities without timeoutMs. Defaults to 10s.
	DefaultTimeout time.Duration

	// OutputLimit is the ceiling applied to every output, whatever the
	// strategy did. Defaults to 50000 characters.
	OutputLimit int
}

func (c *Config) defaults() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Second
	}
	if c.OutputLimit <= 0 {
		c.OutputLimit = 50_000
	}
}

// Result is a completed execution.
type Result struct {
	Output    string
	Truncated bool
	Duration  time.Duration
}

// Dispatcher routes executions to the strategy registered for the
// capability kind.
type Dispatcher struct {
	strategies map[capability.Kind]Strategy
	cfg        Config
	now        func() time.Time
}

// NewDispatcher creates a dispatcher with no strategies.
func NewDispatcher(cfg Config) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		strategies: make(map[capability.Kind]Strategy),
		cfg:        cfg,
		now:        time.Now,
	}
}

// Register binds a strategy to a kind. It is not safe to call once the
// dispatcher is serving executions.
func (d *Dispatcher) Register(kind capability.Kind, s Strategy) {
	d.strategies[kind] = s
}

// Execute runs c with input under the capability timeout. A run that
// outlives the timeout is abandoned and reported as ErrTimeout; its late
// result is discarded. Cancellation of ctx is reported as ErrCancelled.
// The output is truncated to the output limit before it is returned,
// also on error paths that carry partial output.
func (d *Dispatcher) Execute(ctx context.Context, c *capability.Capability, input json.RawMessage) (Result, error) {
	start := d.now()

	strategy, ok := d.strategies[c.Kind]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoStrategy, c.Kind)
	}

	timeout := c.Timeout(d.cfg.DefaultTimeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := strategy.Execute(runCtx, c, input)
		done <- outcome{output: out, err: err}
	}()

	var (
		output string
		err    error
	)
	select {
	case o := <-done:
		output, err = o.output, o.err
		// A strategy that returns the context error itself still timed out.
		if err != nil && runCtx.Err() != nil {
			err = contextFailure(ctx, timeout, err)
		}
	case <-runCtx.Done():
		err = contextFailure(ctx, timeout, runCtx.Err())
	}

	truncated := Truncate(output, d.cfg.OutputLimit)
	return Result{
		Output:    truncated,
		Truncated: truncated != output,
		Duration:  d.now().Sub(start),
	}, err
}

func contextFailure(parent context.Context, timeout time.Duration, cause error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
	return fmt.Errorf("%w after %s", ErrTimeout, timeout)
}
