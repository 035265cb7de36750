package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"workq/internal/job"
	logx "workq/pkg/logx"
)

// drivers returns a fresh store per driver so the same contract runs against
// both backends.
func drivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "jobs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func newJob(id string) *job.Job {
	return &job.Job{
		ID:         id,
		Type:       "channel.import",
		State:      job.Scheduled,
		Args:       map[string]any{"channel_id": "ch1"},
		EnqueuedAt: time.Now(),
	}
}

func TestStoreInsertGet(t *testing.T) {
	t.Parallel()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.Insert(ctx, newJob("a")); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := st.Insert(ctx, newJob("a")); !errors.Is(err, job.ErrDuplicate) {
				t.Fatalf("duplicate insert: %v, want ErrDuplicate", err)
			}

			got, err := st.Get(ctx, "a")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Type != "channel.import" || got.State != job.Scheduled {
				t.Fatalf("unexpected record: %+v", got)
			}
			if got.Args["channel_id"] != "ch1" {
				t.Fatalf("args lost: %+v", got.Args)
			}

			if _, err := st.Get(ctx, "nope"); !errors.Is(err, job.ErrNotFound) {
				t.Fatalf("get missing: %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreUpdate(t *testing.T) {
	t.Parallel()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.Insert(ctx, newJob("a")); err != nil {
				t.Fatalf("insert: %v", err)
			}

			updated, err := st.Update(ctx, "a", func(j *job.Job) error {
				j.State = job.Running
				j.Progress = 0.25
				j.Detail = append(j.Detail, job.ProgressEntry{Progress: 1, Total: 4, At: time.Now()})
				return nil
			})
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if updated.State != job.Running || updated.Progress != 0.25 {
				t.Fatalf("update result: %+v", updated)
			}

			got, _ := st.Get(ctx, "a")
			if got.State != job.Running || len(got.Detail) != 1 {
				t.Fatalf("update not persisted: %+v", got)
			}

			// A failing mutator must leave the record untouched.
			boom := errors.New("boom")
			if _, err := st.Update(ctx, "a", func(j *job.Job) error {
				j.State = job.Failed
				return boom
			}); !errors.Is(err, boom) {
				t.Fatalf("mutator error not propagated: %v", err)
			}
			got, _ = st.Get(ctx, "a")
			if got.State != job.Running {
				t.Fatalf("failed mutator mutated the record: %+v", got)
			}

			if _, err := st.Update(ctx, "gone", func(j *job.Job) error { return nil }); !errors.Is(err, job.ErrNotFound) {
				t.Fatalf("update missing: %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreListOrderAndRemove(t *testing.T) {
	t.Parallel()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				if err := st.Insert(ctx, newJob(id)); err != nil {
					t.Fatalf("insert %s: %v", id, err)
				}
			}

			jobs, err := st.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(jobs) != 3 {
				t.Fatalf("len = %d", len(jobs))
			}
			for i, want := range []string{"a", "b", "c"} {
				if jobs[i].ID != want {
					t.Fatalf("list order: got %s at %d, want %s", jobs[i].ID, i, want)
				}
			}

			if err := st.Remove(ctx, "b"); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if err := st.Remove(ctx, "b"); !errors.Is(err, job.ErrNotFound) {
				t.Fatalf("second remove: %v, want ErrNotFound", err)
			}
			jobs, _ = st.List(ctx)
			if len(jobs) != 2 {
				t.Fatalf("len after remove = %d", len(jobs))
			}
		})
	}
}

func TestStoreNextScheduled(t *testing.T) {
	t.Parallel()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			next, err := st.NextScheduled(ctx)
			if err != nil || next != nil {
				t.Fatalf("empty store: %v, %v", next, err)
			}

			for _, id := range []string{"a", "b"} {
				if err := st.Insert(ctx, newJob(id)); err != nil {
					t.Fatalf("insert %s: %v", id, err)
				}
			}
			next, err = st.NextScheduled(ctx)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if next.ID != "a" {
				t.Fatalf("FIFO pickup: got %s, want a", next.ID)
			}

			if _, err := st.Update(ctx, "a", func(j *job.Job) error {
				j.State = job.Running
				return nil
			}); err != nil {
				t.Fatalf("claim: %v", err)
			}
			next, _ = st.NextScheduled(ctx)
			if next == nil || next.ID != "b" {
				t.Fatalf("next after claim: %+v", next)
			}
		})
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	t.Parallel()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.Insert(ctx, newJob("a")); err != nil {
				t.Fatalf("insert: %v", err)
			}
			got, _ := st.Get(ctx, "a")
			got.Args["channel_id"] = "mutated"
			got.State = job.Failed

			fresh, _ := st.Get(ctx, "a")
			if fresh.Args["channel_id"] != "ch1" || fresh.State != job.Scheduled {
				t.Fatalf("reader mutation leaked into store: %+v", fresh)
			}
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	j := newJob("persisted")
	j.ExtraMetadata = map[string]any{"started_by": "admin"}
	if err := st.Insert(ctx, j); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := st.Update(ctx, "persisted", func(j *job.Job) error {
		j.State = job.Completed
		j.Progress = 1
		j.FinishedAt = time.Now()
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	got, err := st2.Get(ctx, "persisted")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.State != job.Completed || got.Progress != 1 {
		t.Fatalf("terminal record lost: %+v", got)
	}
	if got.ExtraMetadata["started_by"] != "admin" {
		t.Fatalf("extra metadata lost: %+v", got.ExtraMetadata)
	}
	if got.FinishedAt.IsZero() {
		t.Fatal("finished_at lost")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
