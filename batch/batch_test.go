package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func okItem(counter *atomic.Int64) Item {
	return func(context.Context) error {
		counter.Add(1)
		return nil
	}
}

func TestNew(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		c, err := New()
		require.NoError(t, err)
		assert.Equal(t, 5, c.opts.concurrency)
		assert.Equal(t, 10, c.opts.chunkSize)
	})

	t.Run("InvalidConcurrency", func(t *testing.T) {
		_, err := New(WithConcurrency(0))
		assert.Error(t, err)
	})

	t.Run("InvalidChunkSize", func(t *testing.T) {
		_, err := New(WithChunkSize(-1))
		assert.Error(t, err)
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("AllSucceed", func(t *testing.T) {
		c, err := New(WithConcurrency(3), WithChunkSize(4))
		require.NoError(t, err)

		var ran atomic.Int64
		items := make([]Item, 25)
		for i := range items {
			items[i] = okItem(&ran)
		}

		summary, err := c.Run(ctx, items)
		require.NoError(t, err)
		assert.Equal(t, int64(25), summary.Processed)
		assert.Equal(t, int64(0), summary.Failed)
		assert.Equal(t, int64(25), ran.Load())
	})

	t.Run("Empty", func(t *testing.T) {
		c, err := New()
		require.NoError(t, err)

		summary, err := c.Run(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), summary.Processed)
		assert.Equal(t, int64(0), summary.Failed)
	})

	// A run with exactly K failing items reports exactly K failures and
	// processes everything else.
	t.Run("FailureIsolation", func(t *testing.T) {
		c, err := New(WithConcurrency(4), WithChunkSize(3))
		require.NoError(t, err)

		const total, failing = 30, 7

		items := make([]Item, total)
		for i := range items {
			if i < failing {
				items[i] = func(context.Context) error {
					return errors.New("bad input")
				}
			} else {
				items[i] = func(context.Context) error { return nil }
			}
		}

		summary, err := c.Run(ctx, items)
		require.NoError(t, err)
		assert.Equal(t, int64(total-failing), summary.Processed)
		assert.Equal(t, int64(failing), summary.Failed)
		assert.Equal(t, int64(0), summary.Unmigrable)
	})

	t.Run("TenItemsOneFailure", func(t *testing.T) {
		c, err := New(WithConcurrency(3), WithChunkSize(1))
		require.NoError(t, err)

		items := make([]Item, 10)
		for i := range items {
			i := i
			items[i] = func(context.Context) error {
				if i == 3 {
					return fmt.Errorf("item %d: no face detected", i)
				}
				return nil
			}
		}

		summary, err := c.Run(ctx, items)
		require.NoError(t, err)
		assert.Equal(t, int64(9), summary.Processed)
		assert.Equal(t, int64(1), summary.Failed)
	})

	t.Run("UnmigrableCountedSeparately", func(t *testing.T) {
		c, err := New(WithChunkSize(2))
		require.NoError(t, err)

		items := []Item{
			func(context.Context) error { return nil },
			func(context.Context) error { return fmt.Errorf("face f-1: %w", ErrUnmigrable) },
			func(context.Context) error { return errors.New("transient") },
		}

		summary, err := c.Run(ctx, items)
		require.NoError(t, err)
		assert.Equal(t, int64(1), summary.Processed)
		assert.Equal(t, int64(2), summary.Failed)
		assert.Equal(t, int64(1), summary.Unmigrable)
	})

	// A panic poisons the rest of its chunk but no other chunk.
	t.Run("PanicPoisonsOnlyItsChunk", func(t *testing.T) {
		c, err := New(WithConcurrency(1), WithChunkSize(5))
		require.NoError(t, err)

		var ran atomic.Int64
		items := make([]Item, 10)
		for i := range items {
			i := i
			items[i] = func(context.Context) error {
				if i == 1 {
					panic("corrupt image buffer")
				}
				ran.Add(1)
				return nil
			}
		}

		summary, err := c.Run(ctx, items)
		require.NoError(t, err)

		// Chunk one: item 0 processed, items 1-4 lost to the panic.
		// Chunk two: all five processed.
		assert.Equal(t, int64(6), summary.Processed)
		assert.Equal(t, int64(4), summary.Failed)
		assert.Equal(t, int64(6), ran.Load())
	})

	t.Run("ConcurrencyBounded", func(t *testing.T) {
		const limit = 3

		c, err := New(WithConcurrency(limit), WithChunkSize(1))
		require.NoError(t, err)

		var current, peak atomic.Int64
		var mu sync.Mutex

		items := make([]Item, 20)
		for i := range items {
			items[i] = func(context.Context) error {
				n := current.Add(1)
				mu.Lock()
				if n > peak.Load() {
					peak.Store(n)
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				current.Add(-1)
				return nil
			}
		}

		summary, err := c.Run(ctx, items)
		require.NoError(t, err)
		assert.Equal(t, int64(20), summary.Processed)
		assert.LessOrEqual(t, peak.Load(), int64(limit))
	})

	t.Run("CancellationCountsRemaining", func(t *testing.T) {
		c, err := New(WithConcurrency(1), WithChunkSize(10))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		items := make([]Item, 10)
		for i := range items {
			i := i
			items[i] = func(context.Context) error {
				if i == 2 {
					cancel()
				}
				return nil
			}
		}

		summary, err := c.Run(ctx, items)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)

		// Items after the cancellation point never ran.
		assert.Equal(t, int64(3), summary.Processed)
		assert.Equal(t, int64(7), summary.Failed)
	})

	t.Run("RateLimited", func(t *testing.T) {
		c, err := New(
			WithConcurrency(4),
			WithChunkSize(1),
			WithRateLimit(rate.NewLimiter(rate.Every(time.Millisecond), 1)),
		)
		require.NoError(t, err)

		items := make([]Item, 5)
		for i := range items {
			items[i] = func(context.Context) error { return nil }
		}

		start := time.Now()
		summary, err := c.Run(ctx, items)
		require.NoError(t, err)
		assert.Equal(t, int64(5), summary.Processed)
		// Four of the five starts had to wait for the limiter.
		assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
	})
}

func TestProgress(t *testing.T) {
	ctx := context.Background()

	c, err := New()
	require.NoError(t, err)

	assert.Nil(t, c.Progress())

	_, err = c.Run(ctx, []Item{
		func(context.Context) error { return nil },
		func(context.Context) error { return errors.New("nope") },
	})
	require.NoError(t, err)

	processed, failed, unmigrable := c.Progress().Snapshot()
	assert.Equal(t, int64(1), processed)
	assert.Equal(t, int64(1), failed)
	assert.Equal(t, int64(0), unmigrable)
}
