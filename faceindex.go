// Package faceindex provides a facial feature-vector indexing and
// similarity-search pipeline.
//
// A Service ties together four stores:
//
//   - a FeatureExtractor that turns an image into a fixed-dimension
//     feature vector plus detection attributes
//   - a metadata store holding one record per indexed face
//   - a vector index holding the feature vectors for nearest-neighbor
//     search
//   - a subject aggregate store maintaining the per-subject view with
//     optimistic concurrency
//
// An optional image store keeps the source images and enables bulk
// indexing of previously uploaded images.
//
// # Quick Start
//
//	vectors, err := flat.New(func(o *flat.Options) {
//	    o.Dimension = ext.Dimension()
//	})
//	if err != nil {
//	    panic(err)
//	}
//
//	svc, err := faceindex.New(ext, metastore.NewMemoryStore(), vectors, aggstore.NewMemoryStore())
//	if err != nil {
//	    panic(err)
//	}
//
//	res, err := svc.Index(ctx, imageBytes, "alice")
//
//	matches, err := svc.Search(ctx, faceindex.ByImage(probeBytes), func(o *faceindex.SearchOptions) {
//	    o.MaxResults = 5
//	    o.SimilarityThreshold = 0.9
//	})
//
// The in-memory stores are suitable for tests and embedding; DynamoDB,
// S3 and MinIO backed implementations live in the respective
// sub-packages.
package faceindex

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/faceindex/aggstore"
	"github.com/hupe1980/faceindex/extractor"
	"github.com/hupe1980/faceindex/imagestore"
	"github.com/hupe1980/faceindex/metastore"
	"github.com/hupe1980/faceindex/vectorindex"
)

// Service is the entry point for all indexing, search and maintenance
// operations. It is safe for concurrent use.
type Service struct {
	extractor extractor.FeatureExtractor
	meta      metastore.Store
	vectors   vectorindex.Index
	aggStore  aggstore.Store
	updater   *aggstore.Updater
	images    imagestore.Store

	dimension int

	logger  *Logger
	metrics MetricsCollector

	overFetchFactor int
	extractTimeout  time.Duration
	storeTimeout    time.Duration

	newID func() string
	now   func() time.Time
}

// New creates a Service over the given extractor and stores.
func New(ext extractor.FeatureExtractor, meta metastore.Store, vectors vectorindex.Index, aggregates aggstore.Store, optFns ...Option) (*Service, error) {
	if ext == nil {
		return nil, &ValidationError{Field: "extractor", Reason: "must not be nil"}
	}
	if meta == nil {
		return nil, &ValidationError{Field: "metadata store", Reason: "must not be nil"}
	}
	if vectors == nil {
		return nil, &ValidationError{Field: "vector index", Reason: "must not be nil"}
	}
	if aggregates == nil {
		return nil, &ValidationError{Field: "aggregate store", Reason: "must not be nil"}
	}

	opts := applyOptions(optFns)

	if opts.overFetchFactor < 2 {
		return nil, &ValidationError{Field: "over-fetch factor", Reason: fmt.Sprintf("must be >= 2, got %d", opts.overFetchFactor)}
	}

	dim := ext.Dimension()
	if dim < 1 {
		return nil, &ValidationError{Field: "extractor dimension", Reason: fmt.Sprintf("must be >= 1, got %d", dim)}
	}

	if opts.logger == nil {
		opts.logger = NoopLogger()
	}
	if opts.metricsCollector == nil {
		opts.metricsCollector = NoopMetricsCollector{}
	}

	return &Service{
		extractor:       ext,
		meta:            meta,
		vectors:         vectors,
		aggStore:        aggregates,
		updater:         aggstore.NewUpdater(aggregates, opts.updaterOptions...),
		images:          opts.images,
		dimension:       dim,
		logger:          opts.logger,
		metrics:         opts.metricsCollector,
		overFetchFactor: opts.overFetchFactor,
		extractTimeout:  opts.extractTimeout,
		storeTimeout:    opts.storeTimeout,
		newID:           opts.idGenerator,
		now:             opts.clock,
	}, nil
}

// Dimension returns the feature vector dimensionality of the service.
func (s *Service) Dimension() int {
	return s.dimension
}

// extract runs feature extraction under the configured timeout.
func (s *Service) extract(ctx context.Context, image []byte) (*extractor.Detection, error) {
	if s.extractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.extractTimeout)
		defer cancel()
	}

	det, err := s.extractor.Detect(ctx, image)
	if err != nil {
		return nil, translateError(err)
	}

	if len(det.Vector) != s.dimension {
		return nil, &ErrDimensionMismatch{Expected: s.dimension, Actual: len(det.Vector)}
	}

	return det, nil
}

// storeCtx derives a context for a single store write.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout > 0 {
		return context.WithTimeout(ctx, s.storeTimeout)
	}
	return ctx, func() {}
}
