package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestNextRun(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		now      time.Time
		expected time.Time
	}{
		{
			name:     "EveryFiveMinutes",
			spec:     "*/5 * * * *",
			now:      time.Date(2024, 10, 1, 12, 3, 10, 0, time.UTC),
			expected: time.Date(2024, 10, 1, 12, 5, 0, 0, time.UTC),
		},
		{
			name:     "HourlyAtMinute",
			spec:     "17 * * * *",
			now:      time.Date(2024, 10, 1, 12, 20, 0, 0, time.UTC),
			expected: time.Date(2024, 10, 1, 13, 17, 0, 0, time.UTC),
		},
		{
			name:     "CrossDay",
			spec:     "0 0 * * *",
			now:      time.Date(2024, 2, 28, 23, 59, 0, 0, time.UTC),
			expected: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextRun(tc.spec, tc.now)
			if err != nil {
				t.Fatalf("NextRun failed: %v", err)
			}
			if !got.Equal(tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestAddRejectsInvalidJobs(t *testing.T) {
	s := New(nil)
	run := func(context.Context) error { return nil }

	if err := s.Add(Job{Name: "bad", Spec: "not a cron", Run: run}); err == nil {
		t.Fatalf("expected invalid cron error")
	}
	if err := s.Add(Job{Spec: "* * * * *", Run: run}); err == nil {
		t.Fatalf("expected missing name error")
	}
	if err := s.Add(Job{Name: "ok", Spec: "* * * * *", Run: run}); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}
}

func TestDispatchAppliesTimeoutAndRecovers(t *testing.T) {
	s := New(time.UTC)

	var deadline bool
	s.dispatch(context.Background(), Job{
		Name:    "timeout",
		Timeout: time.Second,
		Run: func(ctx context.Context) error {
			_, deadline = ctx.Deadline()
			return nil
		},
	})
	if !deadline {
		t.Fatalf("expected job context to carry a deadline")
	}

	s.dispatch(context.Background(), Job{
		Name: "panic",
		Run:  func(context.Context) error { panic("boom") },
	})
}

func TestStartStopIdempotent(t *testing.T) {
	s := New(time.UTC)
	if err := s.Add(Job{Name: "noop", Spec: "0 0 1 1 *", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
