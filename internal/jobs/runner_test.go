package jobs

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrewrite/docrewrite/internal/rewrite"
)

// fakePipeline cleans every non-blank segment. A segment equal to "panic"
// panics and one equal to "error" fails the run; gate, when set, holds every
// run until closed.
type fakePipeline struct {
	gate    chan struct{}
	started chan string
	runs    atomic.Int32
}

func (f *fakePipeline) Run(ctx context.Context, segments []string, style string) (*rewrite.Aggregate, error) {
	f.runs.Add(1)
	if f.started != nil {
		f.started <- rewrite.JobIDFromContext(ctx)
	}
	if f.gate != nil {
		<-f.gate
	}

	agg := &rewrite.Aggregate{Results: []rewrite.Result{}}
	for i, seg := range segments {
		switch seg {
		case "panic":
			panic("pipeline blew up")
		case "error":
			return nil, errors.New("pipeline failed")
		}
		if strings.TrimSpace(seg) == "" {
			agg.Skipped++
			continue
		}
		agg.Results = append(agg.Results, rewrite.Result{
			Index:     i,
			Original:  seg,
			Rewritten: style + ":" + seg,
			Cleaned:   style + ":" + seg,
		})
	}
	return agg, nil
}

func startRunner(t *testing.T, p Pipeline, opts Options) *Runner {
	t.Helper()
	r := NewRunner(NewMemoryStore(), p, opts, nil)
	r.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func waitForStatus(t *testing.T, r *Runner, id string, want Status) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var err error
		job, err = r.Status(context.Background(), id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s (last %s)", id, want, job.Status)
	return job
}

func TestRunnerLifecycle(t *testing.T) {
	p := &fakePipeline{gate: make(chan struct{}), started: make(chan string, 1)}
	r := startRunner(t, p, Options{Workers: 1})

	id, err := r.Submit(context.Background(), []string{"The cat sat.", "", "Dogs run fast."}, "scholar")
	require.NoError(t, err)

	assert.Equal(t, id, <-p.started, "pipeline sees the job id on its context")
	job := waitForStatus(t, r, id, StatusProcessing)
	assert.Nil(t, job.Result)

	close(p.gate)
	job = waitForStatus(t, r, id, StatusCompleted)
	require.NotNil(t, job.Result)
	require.Len(t, job.Result.Results, 2)
	assert.Equal(t, "The cat sat.", job.Result.Results[0].Original)
	assert.Equal(t, "Dogs run fast.", job.Result.Results[1].Original)
	assert.Equal(t, 1, job.Result.Skipped)
	assert.Empty(t, job.Error)
	assert.Equal(t, "Job completed", job.Message())
}

func TestRunnerPipelineErrorFailsJob(t *testing.T) {
	r := startRunner(t, &fakePipeline{}, Options{Workers: 1})

	id, err := r.Submit(context.Background(), []string{"error"}, "scholar")
	require.NoError(t, err)

	job := waitForStatus(t, r, id, StatusFailed)
	assert.Equal(t, "pipeline failed", job.Error)
	assert.Nil(t, job.Result)
}

func TestRunnerPanicFailsJobAndKeepsWorker(t *testing.T) {
	r := startRunner(t, &fakePipeline{}, Options{Workers: 1})

	bad, err := r.Submit(context.Background(), []string{"panic"}, "scholar")
	require.NoError(t, err)
	job := waitForStatus(t, r, bad, StatusFailed)
	assert.Contains(t, job.Error, "worker fault")

	good, err := r.Submit(context.Background(), []string{"fine"}, "scholar")
	require.NoError(t, err)
	waitForStatus(t, r, good, StatusCompleted)

	// Terminal states stay put.
	require.ErrorIs(t, r.Store().MarkCompleted(context.Background(), bad, &rewrite.Aggregate{}), ErrInvalidTransition)
}

func TestRunnerStatusUnknownJob(t *testing.T) {
	r := startRunner(t, &fakePipeline{}, Options{})
	_, err := r.Status(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRunnerQueueFullCreatesNoJob(t *testing.T) {
	p := &fakePipeline{gate: make(chan struct{}), started: make(chan string, 4)}
	store := NewMemoryStore()
	r := NewRunner(store, p, Options{Workers: 1, QueueSize: 1}, nil)
	r.Start(context.Background())
	defer func() {
		close(p.gate)
		_ = r.Close(context.Background())
	}()

	first, err := r.Submit(context.Background(), []string{"a"}, "s")
	require.NoError(t, err)
	<-p.started // the worker holds first; the queue is empty again

	_, err = r.Submit(context.Background(), []string{"b"}, "s")
	require.NoError(t, err)
	assert.Equal(t, 1, r.QueueDepth())

	_, err = r.Submit(context.Background(), []string{"c"}, "s")
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, store.Len())

	job, err := r.Status(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, job.Status)
}

func TestRunnerCloseFailsQueuedJobs(t *testing.T) {
	p := &fakePipeline{gate: make(chan struct{}), started: make(chan string, 4)}
	r := NewRunner(NewMemoryStore(), p, Options{Workers: 1, QueueSize: 4}, nil)
	r.Start(context.Background())

	running, err := r.Submit(context.Background(), []string{"a"}, "s")
	require.NoError(t, err)
	<-p.started
	queued, err := r.Submit(context.Background(), []string{"b"}, "s")
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- r.Close(context.Background()) }()

	// The running job still finishes once released.
	require.Eventually(t, func() bool {
		_, err := r.Submit(context.Background(), []string{"c"}, "s")
		return errors.Is(err, ErrClosed)
	}, time.Second, time.Millisecond)
	close(p.gate)
	require.NoError(t, <-closed)

	job, err := r.Status(context.Background(), running)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)

	job, err = r.Status(context.Background(), queued)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, "shut down")
	assert.Equal(t, int32(1), p.runs.Load())
}

func TestRunnerCloseBeforeStart(t *testing.T) {
	r := NewRunner(NewMemoryStore(), &fakePipeline{}, Options{}, nil)
	id, err := r.Submit(context.Background(), []string{"a"}, "s")
	require.NoError(t, err)

	require.NoError(t, r.Close(context.Background()))
	job, err := r.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
}

func TestRunnerPrune(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.Clock = func() time.Time { return now }

	r := NewRunner(store, &fakePipeline{}, Options{Retention: time.Hour}, nil)
	r.clock = func() time.Time { return now }

	job, err := store.Create(context.Background(), NewJob{})
	require.NoError(t, err)
	require.NoError(t, store.MarkProcessing(context.Background(), job.ID))
	require.NoError(t, store.MarkFailed(context.Background(), job.ID, "x"))

	assert.Equal(t, 0, r.Prune(context.Background()))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, r.Prune(context.Background()))
	_, err = r.Status(context.Background(), job.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOwnerContext(t *testing.T) {
	ctx := WithOwner(context.Background(), "sk-abc")
	assert.Equal(t, "sk-abc", OwnerFromContext(ctx))
	assert.Equal(t, "", OwnerFromContext(context.Background()))
}

func TestRunnerCheckHealth(t *testing.T) {
	r := NewRunner(NewMemoryStore(), &fakePipeline{}, Options{}, nil)
	require.NoError(t, r.CheckHealth(context.Background()))

	require.NoError(t, r.Close(context.Background()))
	require.ErrorIs(t, r.CheckHealth(context.Background()), ErrClosed)
}
