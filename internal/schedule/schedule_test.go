package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestComputeNextRun(t *testing.T) {
	t.Parallel()

	// 2026-03-10 is a Tuesday.
	day := func(d, h, m int) time.Time { return time.Date(2026, 3, d, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name string
		rec  Recurrence
		now  time.Time
		want time.Time
	}{
		{
			name: "daily after time of day rolls to tomorrow",
			rec:  Recurrence{Frequency: Daily, TimeOfDay: "09:00"},
			now:  day(10, 10, 0),
			want: day(11, 9, 0),
		},
		{
			name: "daily before time of day is today",
			rec:  Recurrence{Frequency: Daily, TimeOfDay: "09:00"},
			now:  day(10, 8, 0),
			want: day(10, 9, 0),
		},
		{
			name: "daily exactly at time of day is strictly after",
			rec:  Recurrence{Frequency: Daily, TimeOfDay: "09:00"},
			now:  day(10, 9, 0),
			want: day(11, 9, 0),
		},
		{
			name: "weekly monday from tuesday",
			rec:  Recurrence{Frequency: Weekly, TimeOfDay: "09:30", Weekday: time.Monday},
			now:  day(10, 12, 0),
			want: day(16, 9, 30),
		},
		{
			name: "weekly same day later",
			rec:  Recurrence{Frequency: Weekly, TimeOfDay: "18:00", Weekday: time.Tuesday},
			now:  day(10, 12, 0),
			want: day(10, 18, 0),
		},
		{
			name: "interval",
			rec:  Recurrence{Frequency: Interval, IntervalMinutes: 90},
			now:  day(10, 12, 15),
			want: day(10, 13, 45),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ComputeNextRun(tt.rec, tt.now, nil)
			if err != nil {
				t.Fatalf("ComputeNextRun() error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ComputeNextRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeNextRun_Location(t *testing.T) {
	t.Parallel()

	plusTwo := time.FixedZone("UTC+2", 2*60*60)
	rec := Recurrence{Frequency: Daily, TimeOfDay: "09:00"}

	// 06:00 UTC is 08:00 local: the run is today at 07:00 UTC.
	got, err := ComputeNextRun(rec, time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC), plusTwo)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("next run should be reported in UTC, got %v", got.Location())
	}
}

func TestRecurrence_Validate(t *testing.T) {
	t.Parallel()

	bad := []Recurrence{
		{},
		{Frequency: "monthly"},
		{Frequency: Daily},
		{Frequency: Daily, TimeOfDay: "24:00"},
		{Frequency: Daily, TimeOfDay: "9:5"},
		{Frequency: Daily, TimeOfDay: "09:60"},
		{Frequency: Weekly, TimeOfDay: "09:00", Weekday: 7},
		{Frequency: Interval},
		{Frequency: Interval, IntervalMinutes: -5},
	}
	for _, r := range bad {
		if err := r.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", r)
		}
		if _, err := ComputeNextRun(r, time.Now(), nil); !errors.Is(err, ErrInvalid) {
			t.Errorf("ComputeNextRun(%+v) error = %v, want ErrInvalid", r, err)
		}
	}

	good := []Recurrence{
		{Frequency: Daily, TimeOfDay: "00:00"},
		{Frequency: Weekly, TimeOfDay: "23:59", Weekday: time.Sunday},
		{Frequency: Interval, IntervalMinutes: 1},
	}
	for _, r := range good {
		if err := r.Validate(); err != nil {
			t.Errorf("Validate(%+v) = %v", r, err)
		}
	}
}

func TestAdvance(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	every15 := Recurrence{Frequency: Interval, IntervalMinutes: 15}

	tests := []struct {
		name string
		rec  Recurrence
		prev time.Time
		now  time.Time
		want time.Time
	}{
		{"on time", every15, base, base, base.Add(15 * time.Minute)},
		{"skips missed slots", every15, base, base.Add(50 * time.Minute), base.Add(60 * time.Minute)},
		{"exactly on a later slot", every15, base, base.Add(30 * time.Minute), base.Add(45 * time.Minute)},
		{"future anchor kept", every15, base.Add(time.Hour), base, base.Add(time.Hour)},
		{"zero anchor", every15, time.Time{}, base, base.Add(15 * time.Minute)},
		{
			"daily after long outage",
			Recurrence{Frequency: Daily, TimeOfDay: "09:00"},
			base.AddDate(0, 0, -40),
			base,
			time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := advance(tt.rec, tt.prev, tt.now, time.UTC)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("advance() = %v, want %v", got, tt.want)
			}
			if !got.After(tt.now) {
				t.Errorf("advance() = %v is not after now %v", got, tt.now)
			}
		})
	}
}

func TestTask_Validate(t *testing.T) {
	t.Parallel()

	task := Task{}
	err := task.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}

	task = Task{Name: "digest", Input: []byte(`{bad`), Recurrence: Recurrence{Frequency: Daily, TimeOfDay: "08:00"}}
	if err := task.Validate(); err == nil {
		t.Error("invalid JSON input should fail")
	}

	task.Input = []byte(`{"topic":"news"}`)
	if err := task.Validate(); err != nil {
		t.Errorf("input without instruction should be accepted: %v", err)
	}
}
