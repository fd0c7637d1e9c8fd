package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docrewrite/docrewrite/internal/rewrite"
)

// MemoryStore keeps jobs in process memory. The map lock only guards
// membership; each record has its own lock for reads and transitions.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*record
	Clock func() time.Time
}

type record struct {
	mu  sync.Mutex
	job Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*record)}
}

func (s *MemoryStore) Create(_ context.Context, req NewJob) (Job, error) {
	now := s.now()
	job := Job{
		ID:        uuid.NewString(),
		Identity:  req.Identity,
		Status:    StatusPending,
		Style:     req.Style,
		Segments:  req.Segments,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = &record{job: job}
	s.mu.Unlock()
	return job, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return Job{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job.clone(), nil
}

func (s *MemoryStore) MarkProcessing(_ context.Context, id string) error {
	return s.transition(id, StatusProcessing, func(*Job) {})
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id string, result *rewrite.Aggregate) error {
	if result == nil {
		result = &rewrite.Aggregate{Results: []rewrite.Result{}}
	}
	stored := cloneAggregate(result)
	return s.transition(id, StatusCompleted, func(j *Job) { j.Result = stored })
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, reason string) error {
	if reason == "" {
		reason = "job failed"
	}
	return s.transition(id, StatusFailed, func(j *Job) { j.Error = reason })
}

func (s *MemoryStore) Prune(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.jobs {
		rec.mu.Lock()
		expired := rec.job.Status.Terminal() && rec.job.UpdatedAt.Before(cutoff)
		rec.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored jobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *MemoryStore) transition(id string, to Status, apply func(*Job)) error {
	rec, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !canTransition(rec.job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.job.Status, to)
	}
	rec.job.Status = to
	rec.job.UpdatedAt = s.now()
	apply(&rec.job)
	return nil
}

func (s *MemoryStore) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	return rec, ok
}

func (s *MemoryStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
