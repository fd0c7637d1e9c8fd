package rewrite

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docrewrite/docrewrite/internal/metrics"
)

// DefaultBatchSize caps concurrent rewrite calls per batch.
const DefaultBatchSize = 5

// Outcome is the result for one segment of a batch, at the segment's input index.
// Exactly one of Text or Err is meaningful; Err is always a *Failure.
type Outcome struct {
	Index   int
	Text    string
	Err     error
	Elapsed time.Duration
}

// Dispatcher issues rewrite calls, one per segment, fanning a batch out concurrently.
type Dispatcher struct {
	rewriter    Rewriter
	concurrency int
}

// NewDispatcher returns a dispatcher running at most concurrency calls at once.
func NewDispatcher(rewriter Rewriter, concurrency int) *Dispatcher {
	if concurrency < 1 {
		concurrency = DefaultBatchSize
	}
	return &Dispatcher{rewriter: rewriter, concurrency: concurrency}
}

// Rewrite performs one call. Whitespace-only text comes back unchanged without
// contacting the provider; any call error is returned as *Failure.
func (d *Dispatcher) Rewrite(ctx context.Context, req Request) (string, error) {
	return d.rewriteAt(ctx, 0, req)
}

func (d *Dispatcher) rewriteAt(ctx context.Context, index int, req Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return req.Text, nil
	}

	start := time.Now()
	out, err := d.rewriter.Rewrite(ctx, req)
	metrics.RecordRewriteCall(req.Style, err == nil, time.Since(start))
	if err != nil {
		return "", &Failure{Index: index, Segment: req.Text, Cause: err}
	}
	return out, nil
}

// RewriteBatch rewrites every segment concurrently and returns outcomes in
// input order. A failed segment never cancels the others.
func (d *Dispatcher) RewriteBatch(ctx context.Context, segments []string, style string, temperature float64) []Outcome {
	reqs := make([]Request, len(segments))
	for i, segment := range segments {
		reqs[i] = Request{Text: segment, Style: style, Temperature: temperature}
	}
	return d.Dispatch(ctx, reqs)
}

// Dispatch runs one call per request, at most concurrency at a time, and
// returns outcomes in request order.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			start := time.Now()
			text, err := d.rewriteAt(ctx, i, req)
			outcomes[i] = Outcome{Index: i, Text: text, Err: err, Elapsed: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
