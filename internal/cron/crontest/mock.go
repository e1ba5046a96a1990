// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/skillgate/internal/audit"
	"github.com/flemzord/skillgate/internal/cron"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	lastCall time.Time
}

// Compile-time interface check.
var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.lastCall = time.Now()
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastCall returns the time of the last Run call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// MockSummarizer is a test double for cron.Summarizer.
type MockSummarizer struct {
	Result audit.PassResult
	Err    error
}

// Pass implements cron.Summarizer.
func (m *MockSummarizer) Pass(context.Context) (audit.PassResult, error) {
	return m.Result, m.Err
}

// MockObserver records every callback it receives.
type MockObserver struct {
	mu      sync.Mutex
	Jobs    map[string]int
	Errors  map[string]int
	Folded  int
	Failed  int
	Records int
	Pruned  int
}

// ObserveJob implements cron.Observer.
func (m *MockObserver) ObserveJob(job string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Jobs == nil {
		m.Jobs = make(map[string]int)
		m.Errors = make(map[string]int)
	}
	m.Jobs[job]++
	if err != nil {
		m.Errors[job]++
	}
}

// ObserveSummaryPass implements cron.SummaryObserver.
func (m *MockObserver) ObserveSummaryPass(folded, failed, records int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Folded += folded
	m.Failed += failed
	m.Records += records
}

// ObservePruned implements cron.PruneObserver.
func (m *MockObserver) ObservePruned(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pruned += n
}
