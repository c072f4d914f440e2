package aggstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// UpdaterOptions configures the retry behavior of the Updater.
type UpdaterOptions struct {
	// MaxAttempts bounds the number of conditional-put attempts per update.
	MaxAttempts int

	// Backoff is the base delay between attempts. Each retry waits the base
	// delay times the attempt number, with up to 50% random jitter.
	Backoff time.Duration
}

// DefaultUpdaterOptions are used when no overrides are given.
var DefaultUpdaterOptions = UpdaterOptions{
	MaxAttempts: 5,
	Backoff:     20 * time.Millisecond,
}

// Updater performs read-modify-write cycles over a Store with optimistic
// concurrency. Updates for the same subject are linearized by the version
// check; updates for different subjects never contend.
type Updater struct {
	store Store
	opts  UpdaterOptions
	now   func() time.Time
}

// NewUpdater creates a new Updater over the given store.
func NewUpdater(store Store, optFns ...func(o *UpdaterOptions)) *Updater {
	opts := DefaultUpdaterOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	return &Updater{
		store: store,
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// AddRecord adds a record to the subject's aggregate, creating the aggregate
// on first use. Adding an already-present record is idempotent and performs
// no write.
func (u *Updater) AddRecord(ctx context.Context, subjectID, recordID, collectionID string) (Aggregate, error) {
	return u.update(ctx, subjectID, func(agg *Aggregate) bool {
		if agg.Contains(recordID, collectionID) {
			return false
		}
		agg.Add(recordID, collectionID)
		return true
	})
}

// RemoveRecord removes a record from the subject's aggregate. The aggregate
// persists even when it becomes empty. Removing an absent record is a no-op.
func (u *Updater) RemoveRecord(ctx context.Context, subjectID, recordID string) (Aggregate, error) {
	return u.update(ctx, subjectID, func(agg *Aggregate) bool {
		if !containsString(agg.RecordIDs, recordID) {
			return false
		}
		agg.Remove(recordID)
		return true
	})
}

// update runs the conditional-write loop. mutate returns false when the
// aggregate already reflects the desired state and no write is needed.
func (u *Updater) update(ctx context.Context, subjectID string, mutate func(*Aggregate) bool) (Aggregate, error) {
	var lastErr error

	for attempt := 1; attempt <= u.opts.MaxAttempts; attempt++ {
		agg, err := u.store.GetOrInit(ctx, subjectID)
		if err != nil {
			return Aggregate{}, fmt.Errorf("aggstore: get aggregate for %s: %w", subjectID, err)
		}

		if !mutate(&agg) {
			return agg, nil
		}
		agg.UpdatedAt = u.now()

		expected := agg.Version
		if err := u.store.ConditionalPut(ctx, agg, expected); err != nil {
			if !errors.Is(err, ErrVersionConflict) {
				return Aggregate{}, fmt.Errorf("aggstore: put aggregate for %s: %w", subjectID, err)
			}
			lastErr = err
			if err := u.sleep(ctx, attempt); err != nil {
				return Aggregate{}, err
			}
			continue
		}

		agg.Version = expected + 1
		return agg, nil
	}

	return Aggregate{}, fmt.Errorf("aggstore: update for %s exhausted %d attempts: %w", subjectID, u.opts.MaxAttempts, lastErr)
}

func (u *Updater) sleep(ctx context.Context, attempt int) error {
	base := u.opts.Backoff * time.Duration(attempt)
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))

	timer := time.NewTimer(base + jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
