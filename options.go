package faceindex

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/faceindex/aggstore"
	"github.com/hupe1980/faceindex/imagestore"
)

type options struct {
	images           imagestore.Store
	logger           *Logger
	metricsCollector MetricsCollector
	overFetchFactor  int
	extractTimeout   time.Duration
	storeTimeout     time.Duration
	idGenerator      func() string
	clock            func() time.Time
	updaterOptions   []func(*aggstore.UpdaterOptions)
}

// Option configures Service constructor behavior.
type Option func(*options)

// WithImageStore attaches an image store. When set, Index persists
// uploaded images and bulk indexing can enumerate stored images.
func WithImageStore(store imagestore.Store) Option {
	return func(o *options) {
		o.images = store
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithOverFetchFactor sets how many candidates are requested from the
// vector index per requested result, to compensate for threshold and
// collection filtering. Must be >= 2. Default is 2.
func WithOverFetchFactor(factor int) Option {
	return func(o *options) {
		o.overFetchFactor = factor
	}
}

// WithExtractTimeout bounds the time spent in feature extraction per
// image. Zero means no extra bound beyond the caller's context.
func WithExtractTimeout(d time.Duration) Option {
	return func(o *options) {
		o.extractTimeout = d
	}
}

// WithStoreTimeout bounds each store write during indexing.
// Zero means no extra bound beyond the caller's context.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *options) {
		o.storeTimeout = d
	}
}

// WithIDGenerator overrides record ID generation. The default generates
// UUIDv4 strings. Useful for deterministic tests.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.idGenerator = fn
		}
	}
}

// WithClock overrides the time source used for record timestamps.
// Useful for deterministic tests.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.clock = fn
		}
	}
}

// WithAggregateRetries tunes the optimistic-concurrency retry loop used
// for subject aggregate updates.
func WithAggregateRetries(optFns ...func(*aggstore.UpdaterOptions)) Option {
	return func(o *options) {
		o.updaterOptions = append(o.updaterOptions, optFns...)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		overFetchFactor:  2,
		idGenerator:      uuid.NewString,
		clock:            time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
