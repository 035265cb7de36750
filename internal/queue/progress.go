package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"workq/internal/eventbus"
	"workq/internal/job"
	logx "workq/pkg/logx"
)

// Progress is the narrow surface handed to a running callable. It is bound to
// one job id and is only valid for the duration of that execution.
type Progress struct {
	q     *Queue
	jobID string
	typ   string
	track bool

	// gone flips when the record disappears mid-run (bulk clear racing the
	// worker); after that every report is a silent no-op.
	gone atomic.Bool

	// logLimit gates per-update debug logging so chatty callables don't
	// flood the sinks.
	logLimit *rate.Limiter
	log      logx.Logger
}

func newProgress(q *Queue, j *job.Job, log logx.Logger) *Progress {
	return &Progress{
		q:        q,
		jobID:    j.ID,
		typ:      j.Type,
		track:    j.TrackProgress,
		logLimit: rate.NewLimiter(rate.Every(time.Second), 1),
		log:      log,
	}
}

// Update records fractional progress done/total. It is a no-op unless the job
// was enqueued with TrackProgress, clamps into [0,1], and never moves the
// percentage backwards. The write goes straight through the store, so a
// concurrent Fetch sees it immediately.
func (p *Progress) Update(done, total float64) {
	if !p.track || p.gone.Load() {
		return
	}

	frac := clampFraction(done, total)
	at := time.Now()

	updated, err := p.q.store.Update(context.Background(), p.jobID, func(j *job.Job) error {
		if j.State != job.Running && j.State != job.Canceling {
			return errStaleProgress
		}
		if frac > j.Progress {
			j.Progress = frac
		}
		j.Detail = append(j.Detail, job.ProgressEntry{Progress: done, Total: total, At: at})
		return nil
	})
	switch {
	case errors.Is(err, job.ErrNotFound):
		// Record was cleared under us; stop reporting.
		p.gone.Store(true)
		return
	case errors.Is(err, errStaleProgress):
		return
	case err != nil:
		p.log.Warn("progress update failed", logx.Err(err))
		return
	}

	if p.logLimit.Allow() {
		p.log.Debug("progress", logx.Float64("pct", updated.Progress))
	}
	p.q.bus.Publish(eventbus.Event{Type: eventbus.JobProgress, Job: eventbus.JobEvent{
		ID: p.jobID, Type: p.typ, State: string(updated.State), Progress: updated.Progress,
	}})
}

// CheckCancel is polled voluntarily by the callable at safe points. It
// returns job.ErrCancelRequested once cancellation has been requested (or the
// record is gone entirely); the callable must let it propagate.
func (p *Progress) CheckCancel() error {
	if p.gone.Load() {
		return job.ErrCancelRequested
	}
	j, err := p.q.store.Get(context.Background(), p.jobID)
	if errors.Is(err, job.ErrNotFound) {
		// Emptied mid-run: unwinding is the only useful response.
		p.gone.Store(true)
		return job.ErrCancelRequested
	}
	if err != nil {
		p.log.Warn("cancel check failed", logx.Err(err))
		return nil
	}
	if j.State == job.Canceling || j.State == job.Canceled {
		return job.ErrCancelRequested
	}
	return nil
}

var errStaleProgress = errors.New("job no longer running")

func clampFraction(done, total float64) float64 {
	if total <= 0 {
		return 0
	}
	f := done / total
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
