package faceindex

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"golang.org/x/time/rate"

	"github.com/hupe1980/faceindex/batch"
	"github.com/hupe1980/faceindex/imagestore"
	"github.com/hupe1980/faceindex/model"
)

// BulkOptions configures BulkIndex and MigrateCollection runs.
type BulkOptions struct {
	// CollectionID is the target collection. Defaults to
	// model.DefaultCollectionID.
	CollectionID string

	// Concurrency is the number of chunks processed at once. Default 5.
	Concurrency int

	// ChunkSize is the number of items per chunk. Default 10.
	ChunkSize int

	// RateLimit throttles item starts across all workers when set.
	RateLimit *rate.Limiter
}

func defaultBulkOptions() BulkOptions {
	return BulkOptions{
		CollectionID: model.DefaultCollectionID,
		Concurrency:  5,
		ChunkSize:    10,
	}
}

// BulkIndex enumerates stored images under prefix and indexes each one.
// The subject id is parsed from keys shaped "uploads/{subject}/...";
// anything else is attributed to subject "unknown". Only .jpg, .jpeg and
// .png keys are considered.
//
// Item failures never abort the run; the returned Summary carries the final
// accounting. Requires an image store.
func (s *Service) BulkIndex(ctx context.Context, prefix string, optFns ...func(o *BulkOptions)) (batch.Summary, error) {
	start := s.now()

	opts := defaultBulkOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.CollectionID == "" {
		opts.CollectionID = model.DefaultCollectionID
	}

	if s.images == nil {
		return batch.Summary{}, &ValidationError{Field: "image store", Reason: "bulk indexing requires an image store"}
	}

	keys, err := s.images.List(ctx, prefix)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("list images: %w", err)
	}

	items := make([]batch.Item, 0, len(keys))
	for _, key := range keys {
		if !indexableImage(key) {
			continue
		}

		key := key
		subjectID := subjectFromKey(key)

		items = append(items, func(ctx context.Context) error {
			image, err := s.images.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", key, err)
			}

			_, err = s.Index(ctx, image, subjectID, func(o *IndexOptions) {
				o.CollectionID = opts.CollectionID
				o.SourceReference = key
			})
			return err
		})
	}

	summary, err := s.runBatch(ctx, "bulk index", items, opts)

	s.metrics.RecordBatch(summary.Processed, summary.Failed, s.now().Sub(start))

	return summary, err
}

// LegacyFace is one record exported from a legacy face collection.
type LegacyFace struct {
	RecordID        string
	SubjectID       string
	Confidence      float64
	BoundingBox     model.BoundingBox
	ExternalImageID string

	// SourceReference is the image-store key of the original image.
	// Faces without a resolvable image cannot be migrated.
	SourceReference string
}

// LegacySource exports the faces of a legacy collection for migration.
type LegacySource interface {
	Faces(ctx context.Context, collectionID string) ([]LegacyFace, error)
}

// MigrateCollection re-indexes every face of a legacy collection into
// targetCollectionID. Record ids are preserved and MigratedFrom is set to
// sourceCollectionID so migrated records stay traceable.
//
// Feature vectors are never carried over from the legacy system; each face
// is re-extracted from its stored image. A face whose image is missing is
// counted as unmigrable and skipped. Requires an image store.
func (s *Service) MigrateCollection(ctx context.Context, source LegacySource, sourceCollectionID, targetCollectionID string, optFns ...func(o *BulkOptions)) (batch.Summary, error) {
	start := s.now()

	opts := defaultBulkOptions()
	opts.CollectionID = targetCollectionID
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.CollectionID == "" {
		opts.CollectionID = model.DefaultCollectionID
	}

	if source == nil {
		return batch.Summary{}, &ValidationError{Field: "source", Reason: "must not be nil"}
	}
	if s.images == nil {
		return batch.Summary{}, &ValidationError{Field: "image store", Reason: "migration requires an image store"}
	}

	faces, err := source.Faces(ctx, sourceCollectionID)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("read legacy collection %s: %w", sourceCollectionID, err)
	}

	items := make([]batch.Item, 0, len(faces))
	for _, face := range faces {
		face := face
		items = append(items, func(ctx context.Context) error {
			return s.migrateFace(ctx, face, sourceCollectionID, opts.CollectionID)
		})
	}

	summary, err := s.runBatch(ctx, "migrate collection", items, opts)

	s.metrics.RecordBatch(summary.Processed, summary.Failed, s.now().Sub(start))

	return summary, err
}

func (s *Service) migrateFace(ctx context.Context, face LegacyFace, sourceCID, targetCID string) error {
	if face.RecordID == "" || face.SubjectID == "" {
		return fmt.Errorf("%w: face %q lacks record or subject id", batch.ErrUnmigrable, face.RecordID)
	}
	if face.SourceReference == "" {
		return fmt.Errorf("%w: face %s has no source image", batch.ErrUnmigrable, face.RecordID)
	}

	image, err := s.images.Get(ctx, face.SourceReference)
	if err != nil {
		if errors.Is(err, imagestore.ErrNotFound) {
			return fmt.Errorf("%w: source image %s missing for face %s", batch.ErrUnmigrable, face.SourceReference, face.RecordID)
		}
		return fmt.Errorf("fetch %s: %w", face.SourceReference, err)
	}

	det, err := s.extract(ctx, image)
	if err != nil {
		if errors.Is(err, ErrNoFaceDetected) {
			return fmt.Errorf("%w: no face in source image of %s", batch.ErrUnmigrable, face.RecordID)
		}
		return err
	}

	now := s.now().UTC()

	record := model.Record{
		RecordID:        face.RecordID,
		CollectionID:    targetCID,
		SubjectID:       face.SubjectID,
		Confidence:      det.Confidence,
		BoundingBox:     det.BoundingBox,
		Landmarks:       det.Landmarks,
		Pose:            det.Pose,
		Quality:         det.Quality,
		ExternalImageID: face.ExternalImageID,
		SourceReference: face.SourceReference,
		MigratedFrom:    sourceCID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = s.persistRecord(ctx, record, det.Vector)
	return err
}

func (s *Service) runBatch(ctx context.Context, op string, items []batch.Item, opts BulkOptions) (batch.Summary, error) {
	coord, err := batch.New(
		batch.WithConcurrency(opts.Concurrency),
		batch.WithChunkSize(opts.ChunkSize),
		batch.WithRateLimit(opts.RateLimit),
	)
	if err != nil {
		return batch.Summary{}, err
	}

	summary, err := coord.Run(ctx, items)

	s.logger.LogBatch(ctx, op, summary.Processed, summary.Failed, summary.Unmigrable)

	return summary, err
}

// indexableImage reports whether key names a supported image format.
func indexableImage(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg", ".png":
		return true
	default:
		return false
	}
}

// subjectFromKey parses the subject id out of an upload key shaped
// "uploads/{subject}/...". Keys with any other shape map to "unknown".
func subjectFromKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) >= 3 && parts[0] == "uploads" && parts[1] != "" {
		return parts[1]
	}
	return "unknown"
}
