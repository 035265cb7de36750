package storage

import (
	"context"
	"time"

	"workq/internal/job"
)

// Config configures job persistence.
//
// Driver values:
//   - "memory": in-process only (default when empty)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the durable, concurrency-safe mapping from job id to record.
//
// Contract:
//   - Insert fails with job.ErrDuplicate when the id exists.
//   - Get/Remove fail with job.ErrNotFound when it does not.
//   - Update applies mutate atomically against the live record and returns
//     the post-mutation copy. job.ErrNotFound from Update is a benign race
//     with a concurrent bulk clear; callers stop reporting and move on.
//     An error returned by mutate aborts the update and is passed through.
//   - List returns a point-in-time snapshot in enqueue (seq) order.
//   - NextScheduled returns the oldest SCHEDULED record, or nil when there
//     is none.
//
// All returned records are deep copies.
type Store interface {
	Insert(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	Update(ctx context.Context, id string, mutate func(*job.Job) error) (*job.Job, error)
	List(ctx context.Context) ([]*job.Job, error)
	Remove(ctx context.Context, id string) error
	NextScheduled(ctx context.Context) (*job.Job, error)
	Close() error
}
