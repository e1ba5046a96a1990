// Package schedule manages recurring tasks that invoke a capability on a
// daily, weekly or fixed-interval rule. Due tasks go through the same
// invocation pipeline as any other caller, so the gate applies to them.
package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCapability is invoked when a task names no target.
const DefaultCapability = "agent_instruction"

// Errors returned by the manager and stores.
var (
	ErrNotFound = errors.New("task not found")
	ErrExists   = errors.New("task already exists")
	ErrInvalid  = errors.New("invalid task")
)

// Frequency selects how a recurrence repeats.
type Frequency string

// Frequencies.
const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Interval Frequency = "interval"
)

// Recurrence is a repetition rule. TimeOfDay ("HH:MM") applies to daily
// and weekly rules, Weekday to weekly rules and IntervalMinutes to
// interval rules.
type Recurrence struct {
	Frequency       Frequency    `json:"frequency"`
	TimeOfDay       string       `json:"time_of_day,omitempty"`
	Weekday         time.Weekday `json:"weekday"`
	IntervalMinutes int          `json:"interval_minutes,omitempty"`
}

// Validate checks the rule.
func (r Recurrence) Validate() error {
	switch r.Frequency {
	case Daily, Weekly:
		if _, _, err := parseTimeOfDay(r.TimeOfDay); err != nil {
			return err
		}
		if r.Frequency == Weekly && (r.Weekday < time.Sunday || r.Weekday > time.Saturday) {
			return fmt.Errorf("weekday %d out of range", r.Weekday)
		}
	case Interval:
		if r.IntervalMinutes <= 0 {
			return errors.New("interval_minutes must be > 0")
		}
	default:
		return fmt.Errorf("unknown frequency %q", r.Frequency)
	}
	return nil
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("time_of_day %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time_of_day %q: bad hour", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return 0, 0, fmt.Errorf("time_of_day %q: bad minute", s)
	}
	return hour, minute, nil
}

// cronSpec renders a daily or weekly rule as a standard cron expression.
// It carries no zone: the schedule follows the location of the time it is
// asked about.
func (r Recurrence) cronSpec() (string, error) {
	hour, minute, err := parseTimeOfDay(r.TimeOfDay)
	if err != nil {
		return "", err
	}
	dow := "*"
	if r.Frequency == Weekly {
		dow = strconv.Itoa(int(r.Weekday))
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, dow), nil
}

// ComputeNextRun returns the first occurrence of r strictly after now.
// Daily and weekly rules are evaluated in loc (UTC when nil); interval
// rules return now plus the interval.
func ComputeNextRun(r Recurrence, now time.Time, loc *time.Location) (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if r.Frequency == Interval {
		return now.Add(time.Duration(r.IntervalMinutes) * time.Minute), nil
	}
	if loc == nil {
		loc = time.UTC
	}
	spec, err := r.cronSpec()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return sched.Next(now.In(loc)).UTC(), nil
}

// advance moves prev forward by whole occurrences of r until it is
// strictly after now. Calendar rules do not drift, so their next
// occurrence after now is the same wherever the anchor was.
func advance(r Recurrence, prev, now time.Time, loc *time.Location) (time.Time, error) {
	if r.Frequency != Interval {
		return ComputeNextRun(r, now, loc)
	}
	step := time.Duration(r.IntervalMinutes) * time.Minute
	if step <= 0 {
		return time.Time{}, fmt.Errorf("%w: interval_minutes must be > 0", ErrInvalid)
	}
	if prev.After(now) {
		return prev, nil
	}
	if prev.IsZero() {
		return now.Add(step), nil
	}
	missed := now.Sub(prev)/step + 1
	return prev.Add(missed * step), nil
}

// Task is a recurring invocation.
type Task struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Instruction string `json:"instruction,omitempty"`

	// Capability is the invocation target; Input, when set, is sent
	// verbatim instead of the instruction envelope.
	Capability string          `json:"capability"`
	Input      json.RawMessage `json:"input,omitempty"`

	Recurrence Recurrence `json:"recurrence"`
	Enabled    bool       `json:"enabled"`

	NextRunAt time.Time `json:"next_run_at"`
	LastRunAt time.Time `json:"last_run_at,omitzero"`
	RunCount  int64     `json:"run_count"`
	LastError string    `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (t Task) Clone() Task {
	t.Input = slices.Clone(t.Input)
	return t
}

// Due reports whether the task should run at now.
func (t *Task) Due(now time.Time) bool {
	return t.Enabled && !t.NextRunAt.IsZero() && !t.NextRunAt.After(now)
}

// Validate checks a task definition.
func (t *Task) Validate() error {
	var errs []error
	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(t.Instruction) == "" && len(bytes.TrimSpace(t.Input)) == 0 {
		errs = append(errs, errors.New("instruction or input is required"))
	}
	if len(t.Input) > 0 && !json.Valid(t.Input) {
		errs = append(errs, errors.New("input is not valid JSON"))
	}
	if err := t.Recurrence.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

type instructionEnvelope struct {
	Instruction string `json:"instruction"`
	TaskID      string `json:"task_id"`
	TaskName    string `json:"task_name"`
}

// payload returns the invocation input for the task.
func (t *Task) payload() (json.RawMessage, error) {
	if len(bytes.TrimSpace(t.Input)) > 0 {
		return t.Input, nil
	}
	return json.Marshal(instructionEnvelope{
		Instruction: t.Instruction,
		TaskID:      t.ID,
		TaskName:    t.Name,
	})
}
