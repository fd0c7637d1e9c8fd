// Package jobs tracks asynchronous rewrite jobs and runs them on a bounded
// worker pool.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/docrewrite/docrewrite/internal/rewrite"
)

var (
	// ErrNotFound means the job never existed or has been pruned.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned for a status change the state machine
	// does not allow, including any change out of a terminal status.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("job queue is full")
	// ErrClosed is returned by Submit after the runner has shut down.
	ErrClosed = errors.New("job runner is closed")
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// allowed lists the legal transitions. pending -> failed covers jobs a
// shutting-down runner never started.
var allowed = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func canTransition(from, to Status) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is a snapshot of one job record. Stores hand out copies.
type Job struct {
	ID        string             `json:"job_id"`
	Identity  string             `json:"-"`
	Status    Status             `json:"status"`
	Style     string             `json:"style,omitempty"`
	Segments  int                `json:"segments"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Result    *rewrite.Aggregate `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Message is a human readable summary of the job status.
func (j Job) Message() string {
	switch j.Status {
	case StatusPending:
		return "Job queued"
	case StatusProcessing:
		return "Job is being processed"
	case StatusCompleted:
		return "Job completed"
	case StatusFailed:
		return "Job failed"
	default:
		return string(j.Status)
	}
}

// NewJob describes a job to create.
type NewJob struct {
	Identity string
	Style    string
	Segments int
}

// Store owns job records. Implementations apply each mutation atomically to
// one record and return copies from Get.
type Store interface {
	Create(ctx context.Context, req NewJob) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, result *rewrite.Aggregate) error
	MarkFailed(ctx context.Context, id string, reason string) error
	// Prune deletes terminal jobs last updated before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

func cloneAggregate(agg *rewrite.Aggregate) *rewrite.Aggregate {
	if agg == nil {
		return nil
	}
	out := *agg
	out.Results = append([]rewrite.Result(nil), agg.Results...)
	if agg.Failed != nil {
		out.Failed = append([]rewrite.SegmentFailure(nil), agg.Failed...)
	}
	return &out
}

func (j Job) clone() Job {
	j.Result = cloneAggregate(j.Result)
	return j
}
