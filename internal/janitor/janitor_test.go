package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"workq/internal/job"
	"workq/internal/queue"
	"workq/internal/storage"
	logx "workq/pkg/logx"
)

func seedQueue(t *testing.T) (*queue.Queue, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	ctx := context.Background()

	old := -48 * time.Hour
	seed := []struct {
		id    string
		state job.State
		age   time.Duration
	}{
		{"old-done", job.Completed, old},
		{"old-failed", job.Failed, old},
		{"fresh-done", job.Completed, -time.Minute},
		{"running", job.Running, 0},
		{"waiting", job.Scheduled, 0},
	}
	for _, s := range seed {
		j := &job.Job{ID: s.id, Type: "noop", State: s.state, EnqueuedAt: time.Now().Add(s.age)}
		if s.state.Terminal() {
			j.FinishedAt = time.Now().Add(s.age)
		}
		if err := st.Insert(ctx, j); err != nil {
			t.Fatalf("seed %s: %v", s.id, err)
		}
	}
	return queue.New(queue.Config{}, st, nil, logx.Nop(), nil), st
}

func TestSweepRemovesOnlyAgedTerminalRecords(t *testing.T) {
	t.Parallel()
	q, st := seedQueue(t)
	s := New(Config{Enabled: true, MaxAge: 24 * time.Hour}, q, logx.Nop())

	s.sweep(context.Background())

	ctx := context.Background()
	for _, id := range []string{"old-done", "old-failed"} {
		if _, err := st.Get(ctx, id); !errors.Is(err, job.ErrNotFound) {
			t.Fatalf("%s survived the sweep: %v", id, err)
		}
	}
	for _, id := range []string{"fresh-done", "running", "waiting"} {
		if _, err := st.Get(ctx, id); err != nil {
			t.Fatalf("%s was swept: %v", id, err)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	c := Config{Enabled: true}.withDefaults()
	if c.Schedule != "@every 1h" {
		t.Fatalf("schedule default = %q", c.Schedule)
	}
	if c.MaxAge != 24*time.Hour {
		t.Fatalf("max_age default = %v", c.MaxAge)
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	q, _ := seedQueue(t)
	s := New(Config{Enabled: false}, q, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.c != nil {
		t.Fatal("disabled service started a scheduler")
	}
	s.Stop(context.Background())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	q, _ := seedQueue(t)
	s := New(Config{Enabled: true, Schedule: "every hour on the hour"}, q, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("invalid schedule accepted")
	}
}

func TestApplyRestartsOnScheduleChange(t *testing.T) {
	t.Parallel()
	q, _ := seedQueue(t)
	ctx := context.Background()
	s := New(Config{Enabled: true, Schedule: "@every 1h"}, q, logx.Nop())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(ctx)

	if err := s.Apply(ctx, Config{Enabled: true, Schedule: "@every 30m"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.c == nil {
		t.Fatal("scheduler gone after apply")
	}
	if s.cfg.Schedule != "@every 30m" {
		t.Fatalf("schedule = %q", s.cfg.Schedule)
	}

	// MaxAge-only changes take effect without a restart.
	before := s.c
	if err := s.Apply(ctx, Config{Enabled: true, Schedule: "@every 30m", MaxAge: time.Hour}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.c != before {
		t.Fatal("max_age change restarted the scheduler")
	}

	if err := s.Apply(ctx, Config{Enabled: false}); err != nil {
		t.Fatalf("apply disable: %v", err)
	}
	if s.c != nil {
		t.Fatal("scheduler still running after disable")
	}
}
