package job

import "errors"

var (
	// ErrNotFound is returned for lookups against an id absent from the store.
	ErrNotFound = errors.New("job not found")

	// ErrDuplicate signals an id collision on insert. Ids are generated
	// unique, so hitting this means an internal invariant broke.
	ErrDuplicate = errors.New("duplicate job id")

	// ErrCancelRequested is the cooperative cancellation signal. A callable
	// that observes it via CheckCancel must return it (wrapped is fine) so
	// the worker routes the job to CANCELED instead of FAILED. It is never
	// surfaced to external callers as a failure.
	ErrCancelRequested = errors.New("job cancellation requested")
)
