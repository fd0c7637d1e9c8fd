package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docrewrite/docrewrite/internal/rewrite"
	"github.com/docrewrite/docrewrite/internal/store"
)

// SQLStore persists jobs through the libsql store so status survives a
// restart. Transitions are conditional updates on the current status.
type SQLStore struct {
	db    *store.Store
	Clock func() time.Time
}

func NewSQLStore(db *store.Store) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Create(ctx context.Context, req NewJob) (Job, error) {
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
	err := s.db.InsertJob(ctx, store.JobRow{
		ID:        job.ID,
		Identity:  job.Identity,
		Status:    string(job.Status),
		Style:     job.Style,
		Segments:  job.Segments,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	})
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Job, error) {
	row, err := s.db.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}

	job := Job{
		ID:        row.ID,
		Identity:  row.Identity,
		Status:    Status(row.Status),
		Style:     row.Style,
		Segments:  row.Segments,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Error:     row.Error,
	}
	if row.ResultJSON != "" {
		var agg rewrite.Aggregate
		if err := json.Unmarshal([]byte(row.ResultJSON), &agg); err != nil {
			return Job{}, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &agg
	}
	return job, nil
}

func (s *SQLStore) MarkProcessing(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusProcessing, "", "")
}

func (s *SQLStore) MarkCompleted(ctx context.Context, id string, result *rewrite.Aggregate) error {
	if result == nil {
		result = &rewrite.Aggregate{Results: []rewrite.Result{}}
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	return s.transition(ctx, id, StatusCompleted, string(encoded), "")
}

func (s *SQLStore) MarkFailed(ctx context.Context, id string, reason string) error {
	if reason == "" {
		reason = "job failed"
	}
	return s.transition(ctx, id, StatusFailed, "", reason)
}

func (s *SQLStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	return s.db.DeleteJobsBefore(ctx, cutoff, string(StatusCompleted), string(StatusFailed))
}

func (s *SQLStore) transition(ctx context.Context, id string, to Status, resultJSON, reason string) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !canTransition(current.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	err = s.db.TransitionJob(ctx, string(current.Status), store.JobRow{
		ID:         id,
		Status:     string(to),
		ResultJSON: resultJSON,
		Error:      reason,
		UpdatedAt:  s.now(),
	})
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrJobConflict):
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
	}
	return err
}

func (s *SQLStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
