package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"workq/internal/eventbus"
	"workq/internal/job"
	logx "workq/pkg/logx"
)

// errNotClaimable means another worker (or a pre-start cancel) won the race
// for a scheduled record.
var errNotClaimable = errors.New("job not claimable")

func (q *Queue) worker(ctx context.Context, stopCh <-chan struct{}, idx int) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		if j := q.claimNext(ctx); j != nil {
			q.execOne(ctx, j, idx)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// claimNext pulls the oldest SCHEDULED record and atomically flips it to
// RUNNING. The claim is the store update itself, so no two workers can ever
// hold the same job.
func (q *Queue) claimNext(ctx context.Context) *job.Job {
	for {
		next, err := q.store.NextScheduled(ctx)
		if err != nil {
			q.log.Error("scan for scheduled jobs failed", logx.Err(err))
			return nil
		}
		if next == nil {
			return nil
		}

		claimed, err := q.store.Update(ctx, next.ID, func(j *job.Job) error {
			if j.State != job.Scheduled {
				return errNotClaimable
			}
			j.State = job.Running
			j.StartedAt = time.Now()
			return nil
		})
		switch {
		case err == nil:
			return claimed
		case errors.Is(err, errNotClaimable), errors.Is(err, job.ErrNotFound):
			// Raced another worker, a pre-start cancel, or a clear.
			continue
		default:
			q.log.Error("job claim failed", logx.String("job_id", next.ID), logx.Err(err))
			return nil
		}
	}
}

func (q *Queue) execOne(ctx context.Context, j *job.Job, idx int) {
	start := time.Now()
	log := q.log.With(logx.String("job_id", j.ID), logx.String("type", j.Type), logx.Int("worker", idx))
	log.Info("job started")
	q.bus.Publish(eventbus.Event{Type: eventbus.JobStarted, Job: eventbus.JobEvent{
		ID: j.ID, Type: j.Type, State: string(job.Running),
	}})

	jctx, cancel := context.WithCancel(ctx)
	q.execMu.Lock()
	q.running[j.ID] = cancel
	q.execMu.Unlock()
	defer func() {
		q.execMu.Lock()
		delete(q.running, j.ID)
		q.execMu.Unlock()
		cancel()
	}()

	p := newProgress(q, j, log)

	var runErr error
	var panicStack string
	if fn, ok := q.reg.resolve(j.Type); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					runErr = fmt.Errorf("panic: %v", r)
					panicStack = string(debug.Stack())
				}
			}()
			runErr = fn(jctx, p, j.Args)
		}()
	} else {
		// Registered set changed between enqueue and pickup (restart with
		// fewer types wired). Nothing to run.
		runErr = fmt.Errorf("unknown job type %q", j.Type)
	}

	dur := time.Since(start)
	final := q.finishJob(j.ID, runErr, panicStack)

	switch final {
	case job.Completed:
		log.Info("job completed", logx.Duration("dur", dur))
		q.bus.Publish(eventbus.Event{Type: eventbus.JobCompleted, Job: eventbus.JobEvent{
			ID: j.ID, Type: j.Type, State: string(final),
		}})
	case job.Canceled:
		log.Info("job canceled", logx.Duration("dur", dur))
		q.bus.Publish(eventbus.Event{Type: eventbus.JobCanceled, Job: eventbus.JobEvent{
			ID: j.ID, Type: j.Type, State: string(final),
		}})
	case job.Failed:
		log.Warn("job failed", logx.Err(runErr), logx.Duration("dur", dur), logx.Stack(panicStack))
		errText := ""
		if runErr != nil {
			errText = runErr.Error()
		}
		q.bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Job: eventbus.JobEvent{
			ID: j.ID, Type: j.Type, State: string(final), Error: errText,
		}})
	default:
		// Record vanished mid-run (Empty or a bulk clear); nothing to report.
		log.Debug("job record removed during execution", logx.Duration("dur", dur))
	}
}

// finishJob drives the terminal transition and returns the state it landed
// on, or "" when the record no longer exists.
func (q *Queue) finishJob(id string, runErr error, panicStack string) job.State {
	var final job.State
	_, err := q.store.Update(context.Background(), id, func(j *job.Job) error {
		wasCanceling := j.State == job.Canceling
		switch {
		case runErr == nil:
			// A callable that never observed the cancellation request and
			// returned normally still completed its work.
			j.State = job.Completed
		case errors.Is(runErr, job.ErrCancelRequested),
			wasCanceling && errors.Is(runErr, context.Canceled):
			j.State = job.Canceled
		default:
			j.State = job.Failed
			j.Exception = runErr.Error()
			if panicStack != "" {
				j.Traceback = panicStack
			} else {
				j.Traceback = fmt.Sprintf("%+v", runErr)
			}
		}
		j.FinishedAt = time.Now()
		final = j.State
		return nil
	})
	if errors.Is(err, job.ErrNotFound) {
		return ""
	}
	if err != nil {
		q.log.Error("recording job outcome failed", logx.String("job_id", id), logx.Err(err))
		return ""
	}
	return final
}
