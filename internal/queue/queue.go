package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"workq/internal/eventbus"
	"workq/internal/job"
	"workq/internal/storage"
	logx "workq/pkg/logx"
)

// ErrNotTerminal is returned by ClearJob for a job that is still scheduled or
// executing; only finished records may be removed individually.
var ErrNotTerminal = errors.New("job is not in a terminal state")

// Config controls the queue and its worker pool.
type Config struct {
	Workers int

	// PollInterval bounds how long a free worker sleeps before re-checking
	// for scheduled work it may have missed a wakeup for.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c
}

// Options shape a single Enqueue call.
type Options struct {
	Cancellable   bool
	TrackProgress bool

	// ExtraMetadata is stored and republished verbatim; the queue never
	// looks inside it.
	ExtraMetadata map[string]any
}

// Queue accepts work, owns the worker pool, and answers status queries.
//
// All mutation flows through the store's atomic operations, so Enqueue,
// Fetch, Cancel and the bulk clears are safe from any number of goroutines.
type Queue struct {
	mu  sync.Mutex
	cfg Config

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	reg   *Registry

	// wake kicks idle workers after an enqueue; buffered so Enqueue never
	// blocks on it.
	wake chan struct{}

	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// execMu guards per-execution context cancels for running jobs.
	execMu  sync.Mutex
	running map[string]context.CancelFunc
}

func New(cfg Config, store storage.Store, reg *Registry, log logx.Logger, bus eventbus.Bus) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	if reg == nil {
		reg = NewRegistry()
	}
	return &Queue{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		store:   store,
		reg:     reg,
		wake:    make(chan struct{}, 1),
		running: map[string]context.CancelFunc{},
	}
}

// Registry exposes the type registry for startup wiring.
func (q *Queue) Registry() *Registry { return q.reg }

// Start launches the worker pool. It first sweeps records a previous process
// left mid-flight: RUNNING/CANCELING jobs are marked FAILED (the work was
// interrupted and is not resumable), SCHEDULED jobs stay eligible for pickup.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.recoverInterrupted(ctx); err != nil {
		return err
	}

	// If a Stop() is in progress, wait for it to complete (prevents double
	// worker pools).
	for {
		q.mu.Lock()
		if q.stopCh == nil {
			break
		}
		done := q.stopDone
		if done == nil {
			// already running
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()
		select {
		case <-done:
			// loop
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer q.mu.Unlock()

	q.stopCh = make(chan struct{})
	q.runCtx, q.runCancel = context.WithCancel(ctx)

	runCtx := q.runCtx
	stopCh := q.stopCh
	workers := q.cfg.Workers

	q.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer q.workerWG.Done()
			q.log.Debug("worker started", logx.Int("worker", idx))
			q.worker(runCtx, stopCh, idx)
			q.log.Debug("worker stopped", logx.Int("worker", idx))
		}()
	}

	q.log.Info("queue started", logx.Int("workers", workers))
	return nil
}

// Stop winds the pool down. Running callables keep their contexts until the
// provided ctx expires; after that the stop continues in the background.
func (q *Queue) Stop(ctx context.Context) {
	start := time.Now()
	q.mu.Lock()
	if q.stopCh == nil {
		q.mu.Unlock()
		return
	}
	if q.stopDone != nil {
		done := q.stopDone
		q.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	q.stopDone = done
	stopCh := q.stopCh
	cancel := q.runCancel
	q.runCancel = nil
	q.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		q.workerWG.Wait()
		q.mu.Lock()
		q.stopCh = nil
		q.runCtx = nil
		q.stopDone = nil
		q.mu.Unlock()
		close(done)
		q.log.Info("queue stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// Enqueue creates a SCHEDULED record for the named job type and returns its
// id immediately; it never waits for execution.
func (q *Queue) Enqueue(ctx context.Context, typ string, args map[string]any, opt Options) (string, error) {
	if _, ok := q.reg.resolve(typ); !ok {
		return "", fmt.Errorf("unknown job type %q", typ)
	}

	j := &job.Job{
		ID:            uuid.NewString(),
		Type:          typ,
		Args:          args,
		State:         job.Scheduled,
		Cancellable:   opt.Cancellable,
		TrackProgress: opt.TrackProgress,
		ExtraMetadata: opt.ExtraMetadata,
		EnqueuedAt:    time.Now(),
	}
	if err := q.store.Insert(ctx, j); err != nil {
		return "", err
	}

	q.log.Debug("job enqueued",
		logx.String("job_id", j.ID),
		logx.String("type", typ),
		logx.Bool("cancellable", opt.Cancellable),
		logx.Bool("track_progress", opt.TrackProgress),
	)
	q.bus.Publish(eventbus.Event{Type: eventbus.JobEnqueued, Job: eventbus.JobEvent{
		ID: j.ID, Type: typ, State: string(job.Scheduled),
	}})
	q.kick()
	return j.ID, nil
}

// Fetch returns the current snapshot of one job.
func (q *Queue) Fetch(ctx context.Context, id string) (*job.Job, error) {
	return q.store.Get(ctx, id)
}

// Jobs returns snapshots of all known records in enqueue order.
func (q *Queue) Jobs(ctx context.Context) ([]*job.Job, error) {
	return q.store.List(ctx)
}

// Cancel requests cooperative cancellation.
//
// A cancellable SCHEDULED job goes straight to CANCELED (no point spinning up
// a worker just to abort). A cancellable RUNNING job moves to CANCELING and
// waits for the callable to observe it. Non-cancellable and already-terminal
// jobs are a silent no-op; an unknown id is job.ErrNotFound.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	var became job.State
	_, err := q.store.Update(ctx, id, func(j *job.Job) error {
		became = ""
		if !j.Cancellable || j.State.Terminal() || j.State == job.Canceling {
			return nil
		}
		switch j.State {
		case job.Scheduled:
			j.State = job.Canceled
			j.FinishedAt = time.Now()
			became = job.Canceled
		case job.Running:
			j.State = job.Canceling
			became = job.Canceling
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch became {
	case job.Canceled:
		q.log.Info("job canceled before start", logx.String("job_id", id))
		q.bus.Publish(eventbus.Event{Type: eventbus.JobCanceled, Job: eventbus.JobEvent{
			ID: id, State: string(job.Canceled),
		}})
	case job.Canceling:
		q.log.Info("job cancellation requested", logx.String("job_id", id))
		// Nudge ctx-aware callables too; cooperative checks remain the
		// contract for everything else.
		q.execMu.Lock()
		cancel := q.running[id]
		q.execMu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	return nil
}

// ClearJob removes a single terminal record.
func (q *Queue) ClearJob(ctx context.Context, id string) error {
	j, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !j.State.Terminal() {
		return ErrNotTerminal
	}
	if err := q.store.Remove(ctx, id); err != nil {
		return err
	}
	q.bus.Publish(eventbus.Event{Type: eventbus.JobCleared, Job: eventbus.JobEvent{
		ID: id, Type: j.Type, State: string(j.State),
	}})
	return nil
}

// Clear removes all terminal records and leaves everything else untouched.
func (q *Queue) Clear(ctx context.Context) error {
	return q.clearWhere(ctx, func(j *job.Job) bool { return j.State.Terminal() })
}

// ClearOlderThan removes terminal records whose work finished more than age
// ago. Used by the retention sweep.
func (q *Queue) ClearOlderThan(ctx context.Context, age time.Duration) error {
	cutoff := time.Now().Add(-age)
	return q.clearWhere(ctx, func(j *job.Job) bool {
		return j.State.Terminal() && !j.FinishedAt.IsZero() && j.FinishedAt.Before(cutoff)
	})
}

func (q *Queue) clearWhere(ctx context.Context, keep func(*job.Job) bool) error {
	jobs, err := q.store.List(ctx)
	if err != nil {
		return err
	}
	cleared := 0
	for _, j := range jobs {
		if !keep(j) {
			continue
		}
		if err := q.store.Remove(ctx, j.ID); err != nil {
			if errors.Is(err, job.ErrNotFound) {
				continue // raced another clear
			}
			return err
		}
		cleared++
	}
	if cleared > 0 {
		q.log.Info("cleared finished jobs", logx.Int("count", cleared))
	}
	return nil
}

// Empty cancels every cancellable non-terminal job and then removes all
// records outright. Full reset.
func (q *Queue) Empty(ctx context.Context) error {
	jobs, err := q.store.List(ctx)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Cancellable && !j.State.Terminal() {
			if err := q.Cancel(ctx, j.ID); err != nil && !errors.Is(err, job.ErrNotFound) {
				return err
			}
		}
	}
	for _, j := range jobs {
		if err := q.store.Remove(ctx, j.ID); err != nil && !errors.Is(err, job.ErrNotFound) {
			return err
		}
	}
	q.log.Info("queue emptied", logx.Int("count", len(jobs)))
	return nil
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// recoverInterrupted marks records a dead process left RUNNING/CANCELING as
// FAILED. Crash-resumption of in-flight work is explicitly not promised; a
// visible failure beats a record stuck in RUNNING forever.
func (q *Queue) recoverInterrupted(ctx context.Context) error {
	jobs, err := q.store.List(ctx)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.State != job.Running && j.State != job.Canceling {
			continue
		}
		id := j.ID
		_, err := q.store.Update(ctx, id, func(j *job.Job) error {
			j.State = job.Failed
			j.Exception = "job interrupted by process restart"
			j.Traceback = ""
			j.FinishedAt = time.Now()
			return nil
		})
		if err != nil && !errors.Is(err, job.ErrNotFound) {
			return err
		}
		q.log.Warn("marked interrupted job as failed", logx.String("job_id", id))
	}
	return nil
}
