package rewrite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// RetryPolicy controls WithRetry. Zero fields take defaults.
type RetryPolicy struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Multiplier     float64       `mapstructure:"multiplier"`
	JitterFraction float64       `mapstructure:"jitter_fraction"`
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 250 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.JitterFraction <= 0 {
		p.JitterFraction = 0.1
	}
	return p
}

// retryAfter is implemented by errors carrying a provider back-off hint.
type retryAfter interface {
	RetryAfterHint() time.Duration
}

type retrying struct {
	next   Rewriter
	policy RetryPolicy
	logger *logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps next so retryable failures are repeated with exponential
// back-off. Non-retryable errors return immediately.
func WithRetry(next Rewriter, policy RetryPolicy, logger *logging.Logger) Rewriter {
	return &retrying{next: next, policy: policy.withDefaults(), logger: logger, sleep: sleepContext}
}

func (r *retrying) Rewrite(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		out, err := r.next.Rewrite(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.delay(attempt, err)
		if r.logger != nil {
			r.logger.Debug("Rewrite call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("next_delay", delay),
				zap.Error(err))
		}
		if err := r.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("retry aborted during backoff: %w", lastErr)
		}
	}
	return "", lastErr
}

func (r *retrying) delay(attempt int, err error) time.Duration {
	var hinted retryAfter
	if errors.As(err, &hinted) {
		if d := hinted.RetryAfterHint(); d > 0 {
			if d > r.policy.MaxDelay {
				return r.policy.MaxDelay
			}
			return d
		}
	}
	return computeDelay(attempt, r.policy)
}

func computeDelay(attempt int, p RetryPolicy) time.Duration {
	backoff := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	jitter := backoff * p.JitterFraction * (2*rand.Float64() - 1)
	backoff += jitter
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	if backoff < 0 {
		backoff = float64(p.InitialDelay)
	}
	return time.Duration(backoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
