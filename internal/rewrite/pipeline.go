package rewrite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/docrewrite/docrewrite/internal/metrics"
)

const (
	// CleanupStyle is the style name sent for the second pass.
	CleanupStyle = "cleanup"

	DefaultStyle              = "scholar"
	DefaultTemperature        = 1.0
	DefaultCleanupTemperature = 0.3
)

// Options configures a Pipeline. Zero fields take defaults.
type Options struct {
	BatchSize          int
	Temperature        float64
	CleanupTemperature float64
	DefaultStyle       string
}

// Result is one successfully rewritten segment.
type Result struct {
	Index          int     `json:"index"`
	Original       string  `json:"original"`
	Rewritten      string  `json:"rewritten"`
	Cleaned        string  `json:"cleaned"`
	ProcessingTime float64 `json:"processing_time"`
	// CleanupFallback is set when cleanup failed and Cleaned repeats Rewritten.
	CleanupFallback bool `json:"cleanup_fallback,omitempty"`
}

// SegmentFailure records a segment left out of the aggregate.
type SegmentFailure struct {
	Index     int    `json:"index"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Aggregate is the outcome of a pipeline run. Results keep input order and
// contain only segments whose rewrite succeeded.
type Aggregate struct {
	Results             []Result         `json:"results"`
	TotalProcessingTime float64          `json:"total_processing_time"`
	Failed              []SegmentFailure `json:"failed,omitempty"`
	Skipped             int              `json:"skipped,omitempty"`
}

// Pipeline batches segments, rewrites each batch concurrently, then cleans up
// every successful rewrite.
type Pipeline struct {
	dispatcher *Dispatcher
	opts       Options
	logger     *logging.Logger
}

// NewPipeline builds a pipeline over rewriter. logger may be nil.
func NewPipeline(rewriter Rewriter, opts Options, logger *logging.Logger) *Pipeline {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.CleanupTemperature <= 0 {
		opts.CleanupTemperature = DefaultCleanupTemperature
	}
	if strings.TrimSpace(opts.DefaultStyle) == "" {
		opts.DefaultStyle = DefaultStyle
	}
	return &Pipeline{
		dispatcher: NewDispatcher(rewriter, opts.BatchSize),
		opts:       opts,
		logger:     logger,
	}
}

// Dispatcher returns the pipeline's dispatcher.
func (p *Pipeline) Dispatcher() *Dispatcher {
	return p.dispatcher
}

// Options returns the effective options.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Run processes segments batch by batch. Whitespace-only segments are counted
// as skipped. A context cancelled between batches stops the run and returns
// the partial aggregate with the context error.
func (p *Pipeline) Run(ctx context.Context, segments []string, style string) (*Aggregate, error) {
	style = p.resolveStyle(style)
	start := time.Now()
	agg := &Aggregate{Results: []Result{}}

	for offset := 0; offset < len(segments); offset += p.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			agg.TotalProcessingTime = time.Since(start).Seconds()
			return agg, err
		}
		end := min(offset+p.opts.BatchSize, len(segments))
		p.runBatch(ctx, segments[offset:end], offset, style, agg)
	}

	agg.TotalProcessingTime = time.Since(start).Seconds()
	return agg, nil
}

// ProcessSegment runs rewrite and cleanup for one segment. A rewrite failure is
// returned as *Failure; cleanup failure falls back to the rewritten text.
func (p *Pipeline) ProcessSegment(ctx context.Context, text, style string) (*Result, error) {
	style = p.resolveStyle(style)
	start := time.Now()

	rewritten, err := p.dispatcher.Rewrite(ctx, Request{Text: text, Style: style, Temperature: p.opts.Temperature})
	if err != nil {
		p.logFailure(ctx, 0, err)
		return nil, err
	}

	result := &Result{Original: text, Rewritten: rewritten}
	cleaned, err := p.dispatcher.Rewrite(ctx, p.cleanupRequest(text, rewritten))
	p.applyCleanup(ctx, result, cleaned, err)
	result.ProcessingTime = time.Since(start).Seconds()
	return result, nil
}

func (p *Pipeline) runBatch(ctx context.Context, batch []string, offset int, style string, agg *Aggregate) {
	pending := make([]int, 0, len(batch))
	reqs := make([]Request, 0, len(batch))
	for i, segment := range batch {
		if strings.TrimSpace(segment) == "" {
			agg.Skipped++
			metrics.RecordPipelineSegment("skipped")
			continue
		}
		pending = append(pending, i)
		reqs = append(reqs, Request{Text: segment, Style: style, Temperature: p.opts.Temperature})
	}

	rewrites := p.dispatcher.Dispatch(ctx, reqs)

	results := make([]Result, 0, len(rewrites))
	cleanups := make([]Request, 0, len(rewrites))
	for j, outcome := range rewrites {
		index := offset + pending[j]
		if outcome.Err != nil {
			var f *Failure
			if errors.As(outcome.Err, &f) {
				f.Index = index
			}
			p.recordFailure(ctx, agg, index, outcome.Err)
			continue
		}
		results = append(results, Result{
			Index:          index,
			Original:       batch[pending[j]],
			Rewritten:      outcome.Text,
			ProcessingTime: outcome.Elapsed.Seconds(),
		})
		cleanups = append(cleanups, p.cleanupRequest(batch[pending[j]], outcome.Text))
	}

	cleaned := p.dispatcher.Dispatch(ctx, cleanups)
	for k, outcome := range cleaned {
		p.applyCleanup(ctx, &results[k], outcome.Text, outcome.Err)
		results[k].ProcessingTime += outcome.Elapsed.Seconds()
		metrics.RecordPipelineSegment("completed")
	}

	agg.Results = append(agg.Results, results...)
}

func (p *Pipeline) cleanupRequest(original, rewritten string) Request {
	return Request{
		Text:        rewritten,
		Style:       CleanupStyle,
		Temperature: p.opts.CleanupTemperature,
		Reference:   original,
	}
}

func (p *Pipeline) applyCleanup(ctx context.Context, result *Result, cleaned string, err error) {
	if err != nil {
		result.Cleaned = result.Rewritten
		result.CleanupFallback = true
		if p.logger != nil {
			p.logger.Warn("Cleanup failed, keeping rewritten text",
				zap.String("job_id", JobIDFromContext(ctx)),
				zap.Int("segment_index", result.Index),
				zap.Error(err))
		}
		return
	}
	result.Cleaned = cleaned
}

func (p *Pipeline) recordFailure(ctx context.Context, agg *Aggregate, index int, err error) {
	failure := SegmentFailure{Index: index, Code: "REWRITE_FAILED", Message: err.Error()}
	var f *Failure
	if errors.As(err, &f) {
		failure.Code = f.Code()
		failure.Retryable = f.Retryable()
		failure.Message = f.Cause.Error()
	}
	agg.Failed = append(agg.Failed, failure)
	metrics.RecordPipelineSegment("failed")
	p.logFailure(ctx, index, err)
}

func (p *Pipeline) logFailure(ctx context.Context, index int, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Warn("Segment rewrite failed",
		zap.String("job_id", JobIDFromContext(ctx)),
		zap.Int("segment_index", index),
		zap.Bool("retryable", IsRetryable(err)),
		zap.Error(err))
}

func (p *Pipeline) resolveStyle(style string) string {
	style = strings.TrimSpace(style)
	if style == "" {
		return p.opts.DefaultStyle
	}
	return style
}

type jobIDKey struct{}

// WithJobID tags ctx so pipeline logs carry the job id.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, id)
}

// JobIDFromContext returns the job id set by WithJobID, or "".
func JobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}
