package job

import (
	"time"
)

// State is the lifecycle position of a job.
//
// SCHEDULED -> RUNNING -> {COMPLETED, FAILED, CANCELED}
//
// CANCELING sits between RUNNING and CANCELED while a cancellation request
// waits for the running callable to observe it.
type State string

const (
	Scheduled State = "SCHEDULED"
	Running   State = "RUNNING"
	Canceling State = "CANCELING"
	Completed State = "COMPLETED"
	Failed    State = "FAILED"
	Canceled  State = "CANCELED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case Completed, Failed, Canceled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Terminal states accept nothing.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case Scheduled:
		// Direct SCHEDULED -> CANCELED covers jobs canceled before pickup.
		return to == Running || to == Canceled || to == Canceling || to == Failed
	case Running:
		return to == Canceling || to == Completed || to == Failed || to == Canceled
	case Canceling:
		return to == Completed || to == Failed || to == Canceled
	}
	return false
}

// ProgressEntry is one progress report from a running callable.
type ProgressEntry struct {
	Progress float64   `json:"progress"`
	Total    float64   `json:"total"`
	At       time.Time `json:"at"`
}

// Job is the record for one unit of background work.
//
// Fields are mutated only through the store's atomic Update; everything a
// caller sees is a deep copy, so readers never observe a torn record.
type Job struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// Args are handed verbatim to the registered callable.
	Args map[string]any `json:"args,omitempty"`

	State         State `json:"state"`
	Cancellable   bool  `json:"cancellable"`
	TrackProgress bool  `json:"track_progress"`

	// Progress is a fraction in [0,1]; only meaningful when TrackProgress.
	Progress float64         `json:"progress"`
	Detail   []ProgressEntry `json:"detail,omitempty"`

	// Exception and Traceback are opaque diagnostic text, set iff State == FAILED.
	Exception string `json:"exception,omitempty"`
	Traceback string `json:"traceback,omitempty"`

	// ExtraMetadata is caller-supplied and republished verbatim; the queue
	// never interprets it.
	ExtraMetadata map[string]any `json:"extra_metadata,omitempty"`

	// Seq orders FIFO pickup; assigned by the store at insert.
	Seq int64 `json:"seq"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Args != nil {
		cp.Args = make(map[string]any, len(j.Args))
		for k, v := range j.Args {
			cp.Args[k] = v
		}
	}
	if j.ExtraMetadata != nil {
		cp.ExtraMetadata = make(map[string]any, len(j.ExtraMetadata))
		for k, v := range j.ExtraMetadata {
			cp.ExtraMetadata[k] = v
		}
	}
	if j.Detail != nil {
		cp.Detail = append([]ProgressEntry(nil), j.Detail...)
	}
	return &cp
}
