package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrewrite/docrewrite/internal/rewrite"
)

// storeContract runs the lifecycle checks every Store must pass.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("CreateIsPending", func(t *testing.T) {
		s := newStore(t)
		job, err := s.Create(ctx, NewJob{Identity: "10.0.0.1", Style: "scholar", Segments: 2})
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, StatusPending, job.Status)
		assert.Nil(t, job.Result)

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status)
		assert.Equal(t, "scholar", got.Style)
		assert.Equal(t, 2, got.Segments)
		assert.Equal(t, "10.0.0.1", got.Identity)
	})

	t.Run("IDsAreUnique", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Create(ctx, NewJob{})
		require.NoError(t, err)
		b, err := s.Create(ctx, NewJob{})
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("UnknownIsNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "does-not-exist")
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, s.MarkProcessing(ctx, "does-not-exist"), ErrNotFound)
	})

	t.Run("CompletedIsFinal", func(t *testing.T) {
		s := newStore(t)
		job, err := s.Create(ctx, NewJob{Segments: 1})
		require.NoError(t, err)

		require.NoError(t, s.MarkProcessing(ctx, job.ID))
		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, got.Status)

		agg := &rewrite.Aggregate{Results: []rewrite.Result{{Index: 0, Original: "a", Rewritten: "A", Cleaned: "A."}}}
		require.NoError(t, s.MarkCompleted(ctx, job.ID, agg))

		got, err = s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, "A.", got.Result.Results[0].Cleaned)

		require.ErrorIs(t, s.MarkFailed(ctx, job.ID, "late"), ErrInvalidTransition)
		require.ErrorIs(t, s.MarkProcessing(ctx, job.ID), ErrInvalidTransition)
		got, err = s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Empty(t, got.Error)
	})

	t.Run("FailedIsFinal", func(t *testing.T) {
		s := newStore(t)
		job, err := s.Create(ctx, NewJob{})
		require.NoError(t, err)
		require.NoError(t, s.MarkProcessing(ctx, job.ID))
		require.NoError(t, s.MarkFailed(ctx, job.ID, "boom"))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, "boom", got.Error)

		require.ErrorIs(t, s.MarkCompleted(ctx, job.ID, &rewrite.Aggregate{}), ErrInvalidTransition)
	})

	t.Run("CannotCompleteFromPending", func(t *testing.T) {
		s := newStore(t)
		job, err := s.Create(ctx, NewJob{})
		require.NoError(t, err)
		require.ErrorIs(t, s.MarkCompleted(ctx, job.ID, &rewrite.Aggregate{}), ErrInvalidTransition)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job, err := s.Create(ctx, NewJob{})
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessing(ctx, job.ID))

	agg := &rewrite.Aggregate{Results: []rewrite.Result{{Cleaned: "kept"}}}
	require.NoError(t, s.MarkCompleted(ctx, job.ID, agg))
	agg.Results[0].Cleaned = "caller mutated input"

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	got.Result.Results[0].Cleaned = "caller mutated snapshot"
	got.Status = StatusFailed

	again, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)
	assert.Equal(t, "kept", again.Result.Results[0].Cleaned)
}

func TestMemoryStorePrune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.Clock = func() time.Time { return now }

	done, err := s.Create(ctx, NewJob{})
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessing(ctx, done.ID))
	require.NoError(t, s.MarkCompleted(ctx, done.ID, nil))

	pending, err := s.Create(ctx, NewJob{})
	require.NoError(t, err)

	removed, err := s.Prune(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, done.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreConcurrentReadsDuringTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job, err := s.Create(ctx, NewJob{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := s.Get(ctx, job.ID)
				if !assert.NoError(t, err) {
					return
				}
				// A completed snapshot always carries its result.
				if got.Status == StatusCompleted {
					assert.NotNil(t, got.Result)
				}
			}
		}()
	}

	require.NoError(t, s.MarkProcessing(ctx, job.ID))
	require.NoError(t, s.MarkCompleted(ctx, job.ID, &rewrite.Aggregate{Results: []rewrite.Result{{}}}))
	close(stop)
	wg.Wait()
}
