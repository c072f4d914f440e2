// Package batch runs large sets of independent work items with bounded
// concurrency and partial-failure tolerance.
//
// Items are grouped into chunks and chunks are executed concurrently. A
// failing item never aborts the run; it is counted and the run continues.
// A panic inside an item poisons the rest of its chunk but no other chunk.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrUnmigrable marks an item that can never succeed, as opposed to one
// that failed transiently. Return it (wrapped or bare) from an Item to
// have the coordinator count it separately from plain failures.
var ErrUnmigrable = errors.New("batch: item unmigrable")

// Item is a single unit of work. It must be safe to call from any
// goroutine and should honor ctx cancellation.
type Item func(ctx context.Context) error

// Summary is the final accounting of a run.
type Summary struct {
	// Processed is the number of items that completed successfully.
	Processed int64
	// Failed is the number of items that returned an error, panicked,
	// or were abandoned because of a panic or cancellation.
	Failed int64
	// Unmigrable is the subset of Failed that returned ErrUnmigrable.
	Unmigrable int64
	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration
}

// Tally holds live counters for a run in progress.
type Tally struct {
	processed  atomic.Int64
	failed     atomic.Int64
	unmigrable atomic.Int64
}

// Snapshot returns a point-in-time copy of the counters.
func (t *Tally) Snapshot() (processed, failed, unmigrable int64) {
	return t.processed.Load(), t.failed.Load(), t.unmigrable.Load()
}

type options struct {
	concurrency int
	chunkSize   int
	limiter     *rate.Limiter
}

// Option configures a Coordinator.
type Option func(*options)

// WithConcurrency sets the maximum number of chunks executing at once.
// Default is 5.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithChunkSize sets how many items share a chunk. Items in the same
// chunk run sequentially and share a panic domain. Default is 10.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

// WithRateLimit throttles item starts across all workers.
func WithRateLimit(l *rate.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// Coordinator executes batches of items. It is stateless between runs
// except for the progress tally of the most recent Run.
type Coordinator struct {
	opts  options
	tally atomic.Pointer[Tally]
}

// New creates a Coordinator.
func New(optFns ...Option) (*Coordinator, error) {
	opts := options{
		concurrency: 5,
		chunkSize:   10,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.concurrency < 1 {
		return nil, fmt.Errorf("batch: concurrency must be >= 1, got %d", opts.concurrency)
	}

	if opts.chunkSize < 1 {
		return nil, fmt.Errorf("batch: chunk size must be >= 1, got %d", opts.chunkSize)
	}

	return &Coordinator{opts: opts}, nil
}

// Progress returns the live tally of the current (or most recent) run,
// or nil if Run has never been called.
func (c *Coordinator) Progress() *Tally {
	return c.tally.Load()
}

// Run executes all items and returns the final accounting. The returned
// error is non-nil only when the context was cancelled before every item
// had a chance to run; item-level failures are reported via the Summary.
func (c *Coordinator) Run(ctx context.Context, items []Item) (Summary, error) {
	start := time.Now()

	tally := &Tally{}
	c.tally.Store(tally)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.concurrency)

	for begin := 0; begin < len(items); begin += c.opts.chunkSize {
		end := begin + c.opts.chunkSize
		if end > len(items) {
			end = len(items)
		}

		chunk := items[begin:end]

		g.Go(func() error {
			c.runChunk(gctx, chunk, tally)
			return nil
		})
	}

	_ = g.Wait()

	summary := Summary{Elapsed: time.Since(start)}
	summary.Processed, summary.Failed, summary.Unmigrable = tally.Snapshot()

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("batch: run interrupted: %w", err)
	}

	return summary, nil
}

// runChunk executes the items of one chunk sequentially. If an item
// panics, the remaining items of the chunk are counted as failed and the
// chunk is abandoned; other chunks are unaffected.
func (c *Coordinator) runChunk(ctx context.Context, chunk []Item, tally *Tally) {
	next := 0

	defer func() {
		if r := recover(); r != nil {
			// The panicking item plus everything after it in this
			// chunk never completed.
			tally.failed.Add(int64(len(chunk) - next))
		}
	}()

	for ; next < len(chunk); next++ {
		if err := ctx.Err(); err != nil {
			tally.failed.Add(int64(len(chunk) - next))
			return
		}

		if c.opts.limiter != nil {
			if err := c.opts.limiter.Wait(ctx); err != nil {
				tally.failed.Add(int64(len(chunk) - next))
				return
			}
		}

		item := chunk[next]

		if err := item(ctx); err != nil {
			if errors.Is(err, ErrUnmigrable) {
				tally.unmigrable.Add(1)
			}
			tally.failed.Add(1)
			continue
		}

		tally.processed.Add(1)
	}
}
