package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/skillgate/internal/gate"
	"github.com/flemzord/skillgate/internal/invoke"
)

type fakeInvoker struct {
	mu       sync.Mutex
	requests []invoke.Request
	respond  func(req invoke.Request) (invoke.Result, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, req invoke.Request) (invoke.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(req)
	}
	return invoke.Result{Capability: req.Capability, Success: true, Output: "ok"}, nil
}

type countingObserver struct {
	ok, failed int
}

func (c *countingObserver) ObserveTaskRun(ok bool) {
	if ok {
		c.ok++
	} else {
		c.failed++
	}
}

func seedTask(t *testing.T, store *MemoryStore, task Task) {
	t.Helper()
	if err := store.CreateTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
}

func TestPoller_RunsDueTasks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 9, 0, 30, 0, time.UTC)
	store := NewMemoryStore()
	seedTask(t, store, Task{
		ID: "due", Name: "due", Instruction: "summarize", Capability: DefaultCapability, Enabled: true,
		Recurrence: Recurrence{Frequency: Daily, TimeOfDay: "09:00"},
		NextRunAt:  time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	})
	seedTask(t, store, Task{
		ID: "later", Name: "later", Instruction: "x", Enabled: true,
		Recurrence: Recurrence{Frequency: Daily, TimeOfDay: "10:00"},
		NextRunAt:  time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
	})
	seedTask(t, store, Task{
		ID: "off", Name: "off", Instruction: "x", Enabled: false,
		Recurrence: Recurrence{Frequency: Daily, TimeOfDay: "08:00"},
		NextRunAt:  time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
	})

	inv := &fakeInvoker{}
	obs := &countingObserver{}
	p := NewPoller(PollerConfig{Store: store, Invoker: inv, Metrics: obs, Now: func() time.Time { return now }})

	ran, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if ran != 1 || len(inv.requests) != 1 || obs.ok != 1 {
		t.Fatalf("ran = %d, requests = %d, ok = %d", ran, len(inv.requests), obs.ok)
	}

	req := inv.requests[0]
	if req.Capability != DefaultCapability || req.Caller != invoke.CallerScheduler || req.ThreadID != "task:due" {
		t.Errorf("request = %+v", req)
	}
	var env instructionEnvelope
	if err := json.Unmarshal(req.Input, &env); err != nil || env.Instruction != "summarize" || env.TaskID != "due" {
		t.Errorf("input = %s (%v)", req.Input, err)
	}

	task, _ := store.GetTask(context.Background(), "due")
	if task.RunCount != 1 || !task.LastRunAt.Equal(now) || task.LastError != "" {
		t.Errorf("task after run = %+v", task)
	}
	if want := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC); !task.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", task.NextRunAt, want)
	}

	off, _ := store.GetTask(context.Background(), "off")
	if off.RunCount != 0 || !off.NextRunAt.Equal(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("disabled task was touched: %+v", off)
	}

	// A second poll in the same minute finds nothing due.
	if ran, _ := p.Poll(context.Background()); ran != 0 {
		t.Errorf("second poll ran %d tasks", ran)
	}
}

func TestPoller_FailureRecordedAndPollingContinues(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	for _, id := range []string{"a", "b"} {
		seedTask(t, store, Task{
			ID: id, Name: id, Capability: "target-" + id, Input: json.RawMessage(`{"n":1}`), Enabled: true,
			Recurrence: Recurrence{Frequency: Interval, IntervalMinutes: 10},
			NextRunAt:  now.Add(-25 * time.Minute),
		})
	}

	inv := &fakeInvoker{respond: func(req invoke.Request) (invoke.Result, error) {
		if req.Capability == "target-a" {
			return invoke.Result{
				Capability: req.Capability,
				Verdict:    gate.Verdict{Reason: gate.ReasonUnapproved, Message: "capability \"target-a\" is not approved"},
			}, nil
		}
		return invoke.Result{Capability: req.Capability, Success: true}, nil
	}}
	obs := &countingObserver{}
	p := NewPoller(PollerConfig{Store: store, Invoker: inv, Metrics: obs, Now: func() time.Time { return now }})

	ran, err := p.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ran != 2 || obs.ok != 1 || obs.failed != 1 {
		t.Fatalf("ran = %d, ok = %d, failed = %d", ran, obs.ok, obs.failed)
	}

	for _, id := range []string{"a", "b"} {
		task, _ := store.GetTask(context.Background(), id)
		if task.RunCount != 1 {
			t.Errorf("%s: run count = %d", id, task.RunCount)
		}
		// Anchored on the missed slot: -25m + 3*10m = +5m.
		if want := now.Add(5 * time.Minute); !task.NextRunAt.Equal(want) {
			t.Errorf("%s: NextRunAt = %v, want %v", id, task.NextRunAt, want)
		}
	}
	a, _ := store.GetTask(context.Background(), "a")
	if a.LastError == "" {
		t.Error("failed run should record last error")
	}
	if string(inv.requests[0].Input) != `{"n":1}` {
		t.Errorf("explicit input not sent verbatim: %s", inv.requests[0].Input)
	}
}

func TestPoller_InvokeErrorRecorded(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	seedTask(t, store, Task{
		ID: "t", Name: "t", Instruction: "x", Enabled: true,
		Recurrence: Recurrence{Frequency: Interval, IntervalMinutes: 5},
		NextRunAt:  now,
	})

	inv := &fakeInvoker{respond: func(invoke.Request) (invoke.Result, error) {
		return invoke.Result{}, errors.New("capability not found: agent_instruction")
	}}
	p := NewPoller(PollerConfig{Store: store, Invoker: inv, Now: func() time.Time { return now }})

	if _, err := p.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	task, _ := store.GetTask(context.Background(), "t")
	if task.LastError != "capability not found: agent_instruction" || task.RunCount != 1 {
		t.Errorf("task = %+v", task)
	}
	if inv.requests[0].Capability != DefaultCapability {
		t.Errorf("empty target should default, got %q", inv.requests[0].Capability)
	}
}

type failingUpdateStore struct {
	*MemoryStore
}

func (f failingUpdateStore) UpdateTask(context.Context, Task) error {
	return errors.New("database is locked")
}

func TestPoller_SaveFailureReturned(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mem := NewMemoryStore()
	seedTask(t, mem, Task{
		ID: "t", Name: "t", Instruction: "x", Enabled: true,
		Recurrence: Recurrence{Frequency: Interval, IntervalMinutes: 5},
		NextRunAt:  now,
	})

	p := NewPoller(PollerConfig{Store: failingUpdateStore{mem}, Invoker: &fakeInvoker{}, Now: func() time.Time { return now }})
	ran, err := p.Poll(context.Background())
	if err == nil {
		t.Fatal("expected save error")
	}
	if ran != 0 {
		t.Errorf("ran = %d, want 0", ran)
	}
}
