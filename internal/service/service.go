// Package service is the application surface the HTTP and CLI layers call:
// admission, synchronous rewrites, and asynchronous jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/docrewrite/docrewrite/internal/admission"
	"github.com/docrewrite/docrewrite/internal/jobs"
	"github.com/docrewrite/docrewrite/internal/rewrite"
)

// ErrNoSegments is returned when a request has nothing to rewrite.
var ErrNoSegments = errors.New("no text to process")

// Service owns the components serving one process. Nothing here is global,
// so several instances can coexist in tests.
type Service struct {
	limiter  *admission.Limiter
	pipeline *rewrite.Pipeline
	runner   *jobs.Runner
	logger   *logging.Logger
	closers  []func(context.Context) error
}

// New assembles a Service from already-built parts. limiter and runner may
// be nil: a nil limiter admits everything and a nil runner rejects Submit.
func New(limiter *admission.Limiter, pipeline *rewrite.Pipeline, runner *jobs.Runner, logger *logging.Logger) *Service {
	return &Service{limiter: limiter, pipeline: pipeline, runner: runner, logger: logger}
}

// Admit records one request for identity. A rejected request returns the
// decision together with admission.ErrRejected.
func (s *Service) Admit(ctx context.Context, identity string) (admission.Decision, error) {
	if s.limiter == nil {
		return admission.Decision{Allowed: true}, nil
	}
	decision, err := s.limiter.Admit(ctx, identity)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		if s.logger != nil {
			s.logger.Debug("admission rejected",
				zap.String("identity", identity),
				zap.Int("count", decision.Count),
				zap.Duration("retry_after", decision.RetryAfter))
		}
		return decision, admission.ErrRejected
	}
	return decision, nil
}

// RateStatus reports identity's window without counting a request.
func (s *Service) RateStatus(ctx context.Context, identity string) (admission.Status, error) {
	if s.limiter == nil {
		return admission.Status{Identity: identity}, nil
	}
	return s.limiter.Status(ctx, identity)
}

// ProcessSegment rewrites and cleans one text synchronously.
func (s *Service) ProcessSegment(ctx context.Context, text, style string) (*rewrite.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoSegments
	}
	return s.pipeline.ProcessSegment(ctx, text, style)
}

// ProcessBatch runs the pipeline over segments and waits for the aggregate.
func (s *Service) ProcessBatch(ctx context.Context, segments []string, style string) (*rewrite.Aggregate, error) {
	if !hasText(segments) {
		return nil, ErrNoSegments
	}
	return s.pipeline.Run(ctx, segments, style)
}

// Submit queues segments as a job and returns its id immediately.
func (s *Service) Submit(ctx context.Context, segments []string, style string) (string, error) {
	if s.runner == nil {
		return "", jobs.ErrClosed
	}
	if !hasText(segments) {
		return "", ErrNoSegments
	}
	return s.runner.Submit(ctx, segments, style)
}

// Status returns the current snapshot of a job.
func (s *Service) Status(ctx context.Context, jobID string) (jobs.Job, error) {
	if s.runner == nil {
		return jobs.Job{}, jobs.ErrNotFound
	}
	return s.runner.Status(ctx, jobID)
}

// CheckJobs reports whether jobs can still be submitted and read.
func (s *Service) CheckJobs(ctx context.Context) error {
	if s.runner == nil {
		return jobs.ErrClosed
	}
	return s.runner.CheckHealth(ctx)
}

// Pipeline exposes the rewrite pipeline.
func (s *Service) Pipeline() *rewrite.Pipeline {
	return s.pipeline
}

// Close stops the job runner and releases backing stores.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.runner != nil {
		if err := s.runner.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("service shutdown: %w", errors.Join(errs...))
	}
	return nil
}

func hasText(segments []string) bool {
	for _, seg := range segments {
		if strings.TrimSpace(seg) != "" {
			return true
		}
	}
	return false
}
