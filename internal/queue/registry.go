package queue

import (
	"context"
	"fmt"
	"sync"
)

// Runner is the callable behind a job type. Args arrive verbatim from
// Enqueue; p reports progress and observes cancellation requests.
//
// A Runner that sees ErrCancelRequested from p.CheckCancel must clean up its
// partial artifacts and return the error (wrapped is fine) so the worker
// records the job as CANCELED. Any other error marks the job FAILED.
type Runner func(ctx context.Context, p *Progress, args map[string]any) error

// Registry maps stable type names to runners. Records reference work by name
// so they round-trip through persistence and survive restarts.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]Runner{}}
}

// Register binds a type name to a runner. Re-registering a name is an error;
// job types are wired once at startup.
func (r *Registry) Register(name string, fn Runner) error {
	if name == "" {
		return fmt.Errorf("job type name is empty")
	}
	if fn == nil {
		return fmt.Errorf("runner for %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[name]; ok {
		return fmt.Errorf("job type %q already registered", name)
	}
	r.m[name] = fn
	return nil
}

func (r *Registry) resolve(name string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.m[name]
	return fn, ok
}

// Types returns the registered type names (diagnostics).
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	return out
}
