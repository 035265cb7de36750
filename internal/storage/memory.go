package storage

import (
	"context"
	"sort"
	"sync"

	"workq/internal/job"
)

// memStore keeps records in a plain map. No durability; suitable for tests
// and for deployments that accept losing history on restart.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
	seq  int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{jobs: map[string]*job.Job{}}
}

func (s *memStore) Insert(ctx context.Context, j *job.Job) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return job.ErrDuplicate
	}
	s.seq++
	cp := j.Clone()
	cp.Seq = s.seq
	s.jobs[j.ID] = cp
	j.Seq = s.seq
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*job.Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *memStore) Update(ctx context.Context, id string, mutate func(*job.Job) error) (*job.Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	// Mutate a copy so a failing mutator leaves the record untouched.
	cp := j.Clone()
	if err := mutate(cp); err != nil {
		return nil, err
	}
	cp.ID = j.ID
	cp.Seq = j.Seq
	s.jobs[id] = cp
	return cp.Clone(), nil
}

func (s *memStore) List(ctx context.Context) ([]*job.Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out, nil
}

func (s *memStore) Remove(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return job.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *memStore) NextScheduled(ctx context.Context) (*job.Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *job.Job
	for _, j := range s.jobs {
		if j.State != job.Scheduled {
			continue
		}
		if best == nil || j.Seq < best.Seq {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.Clone(), nil
}

func (s *memStore) Close() error { return nil }
