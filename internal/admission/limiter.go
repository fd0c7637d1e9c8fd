// Package admission enforces a sliding-window request quota per caller identity.
package admission

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/docrewrite/docrewrite/internal/metrics"
)

const (
	DefaultLimit  = 900
	DefaultWindow = time.Minute
)

// ErrRejected is returned by Check when the caller has exhausted its window.
var ErrRejected = errors.New("rate limit exceeded")

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Count is the number of admitted requests in the window after the check.
	Count int
	Limit int
	// RetryAfter is when the oldest request leaves the window; zero when allowed.
	RetryAfter time.Duration
}

// Status reports a caller's window without recording a request.
type Status struct {
	Identity  string `json:"identity"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Window    string `json:"window"`
}

// WindowStore keeps per-identity admission timestamps.
//
// Admit must prune timestamps strictly older than now-window, then record now
// only if fewer than limit remain. The check and the record are atomic per identity.
type WindowStore interface {
	Admit(ctx context.Context, identity string, now time.Time, window time.Duration, limit int) (Decision, error)
	Count(ctx context.Context, identity string, now time.Time, window time.Duration) (int, error)
}

// Limiter applies a sliding window of Limit requests per Window to each identity.
type Limiter struct {
	Store  WindowStore
	Limit  int
	Window time.Duration
	Clock  func() time.Time
	Margin float64
}

// NewLimiter returns a limiter with defaults applied to zero values.
func NewLimiter(store WindowStore, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{Store: store, Limit: limit, Window: window}
}

// Allow reports whether identity may proceed, recording the request when it may.
func (l *Limiter) Allow(ctx context.Context, identity string) (bool, error) {
	decision, err := l.Admit(ctx, identity)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// Check is Allow that turns a rejection into ErrRejected.
func (l *Limiter) Check(ctx context.Context, identity string) (Decision, error) {
	decision, err := l.Admit(ctx, identity)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, ErrRejected
	}
	return decision, nil
}

// Admit runs the full decision for identity.
func (l *Limiter) Admit(ctx context.Context, identity string) (Decision, error) {
	if l == nil || l.Store == nil {
		return Decision{Allowed: true}, nil
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Decision{}, errors.New("identity is required")
	}

	limit := l.effectiveLimit()
	decision, err := l.Store.Admit(ctx, identity, l.now(), l.window(), limit)
	if err != nil {
		return Decision{}, err
	}
	decision.Limit = limit
	metrics.RecordAdmission(decision.Allowed)
	return decision, nil
}

// Status returns the current window for identity without counting a request.
func (l *Limiter) Status(ctx context.Context, identity string) (Status, error) {
	limit := l.effectiveLimit()
	status := Status{Identity: identity, Limit: limit, Remaining: limit, Window: l.window().String()}
	if l == nil || l.Store == nil {
		return status, nil
	}

	count, err := l.Store.Count(ctx, identity, l.now(), l.window())
	if err != nil {
		return Status{}, err
	}
	status.Count = count
	status.Remaining = max(limit-count, 0)
	return status, nil
}

// ApplySafetyMargin adjusts the effective limit by a ratio (0-1].
func (l *Limiter) ApplySafetyMargin(margin float64) {
	if l == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		return
	}
	l.Margin = margin
}

func (l *Limiter) effectiveLimit() int {
	if l == nil {
		return DefaultLimit
	}
	limit := l.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if l.Margin <= 0 || l.Margin > 1 {
		return limit
	}
	adjusted := int(math.Floor(float64(limit) * l.Margin))
	if adjusted < 1 {
		adjusted = 1
	}
	return adjusted
}

func (l *Limiter) window() time.Duration {
	if l == nil || l.Window <= 0 {
		return DefaultWindow
	}
	return l.Window
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
