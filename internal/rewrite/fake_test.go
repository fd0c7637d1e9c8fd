package rewrite

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type fakeErr struct {
	retryable bool
	code      string
}

func (e *fakeErr) Error() string     { return "fake provider error " + e.code }
func (e *fakeErr) Retryable() bool   { return e.retryable }
func (e *fakeErr) ErrorCode() string { return e.code }

// fakeRewriter upper-cases rewrite input and prefixes cleanup output.
type fakeRewriter struct {
	mu       sync.Mutex
	calls    []Request
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	// failOn maps segment text to the error returned for it.
	failOn map[string]error
	// failCleanup fails every cleanup call when set.
	failCleanup bool
}

func (f *fakeRewriter) Rewrite(ctx context.Context, req Request) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if req.Style == CleanupStyle {
		if f.failCleanup {
			return "", errors.New("cleanup exploded")
		}
		return "clean:" + req.Text, nil
	}
	if err, ok := f.failOn[req.Text]; ok {
		return "", err
	}
	return strings.ToUpper(req.Text), nil
}

func (f *fakeRewriter) callCount(style string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if style == "" || c.Style == style {
			n++
		}
	}
	return n
}

func (f *fakeRewriter) cleanupCalls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, c := range f.calls {
		if c.Style == CleanupStyle {
			out = append(out, c)
		}
	}
	return out
}
