package faceindex

import (
	"context"
	"fmt"
	"path"

	"github.com/hupe1980/faceindex/model"
	"github.com/hupe1980/faceindex/vectorindex"
)

// IndexOptions configures a single Index call.
type IndexOptions struct {
	// CollectionID is the logical namespace for the record.
	// Defaults to model.DefaultCollectionID.
	CollectionID string

	// ExternalImageID is an optional caller-supplied reference stored
	// verbatim on the record.
	ExternalImageID string

	// SourceReference, when set, records the image-store key of an already
	// stored image instead of persisting the image bytes again.
	SourceReference string
}

// IndexResult is the outcome of a successful Index call.
type IndexResult struct {
	Record model.Record

	// SubjectRecords is the subject's total record count after the update.
	SubjectRecords int
}

// Index extracts the most prominent face from image and registers it under
// subjectID. On success the record exists in the metadata store, its vector
// is searchable, and the subject aggregate reflects it.
//
// Writes are ordered metadata, vector, aggregate and are not transactional:
// if a later step fails the error is a *PartialConsistencyError naming the
// record and the failed step, and Reconcile can repair the drift.
func (s *Service) Index(ctx context.Context, image []byte, subjectID string, optFns ...func(o *IndexOptions)) (*IndexResult, error) {
	start := s.now()

	res, err := s.index(ctx, image, subjectID, optFns...)

	s.metrics.RecordIndex(s.now().Sub(start), err)

	return res, err
}

func (s *Service) index(ctx context.Context, image []byte, subjectID string, optFns ...func(o *IndexOptions)) (*IndexResult, error) {
	opts := IndexOptions{
		CollectionID: model.DefaultCollectionID,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if subjectID == "" {
		return nil, &ValidationError{Field: "subject_id", Reason: "must not be empty"}
	}
	if len(image) == 0 {
		return nil, &ValidationError{Field: "image", Reason: "must not be empty"}
	}
	if opts.CollectionID == "" {
		opts.CollectionID = model.DefaultCollectionID
	}

	recordID := s.newID()

	// The raw image is persisted before extraction so operators can
	// inspect rejected images.
	sourceRef := opts.SourceReference
	if sourceRef == "" && s.images != nil {
		sourceRef = path.Join("images", subjectID, recordID+".jpg")

		putCtx, cancel := s.storeCtx(ctx)
		err := s.images.Put(putCtx, sourceRef, image)
		cancel()

		if err != nil {
			// Nothing has been indexed yet, so fail cleanly.
			s.logger.LogIndex(ctx, recordID, subjectID, opts.CollectionID, err)
			return nil, fmt.Errorf("store image: %w", translateError(err))
		}
	}

	det, err := s.extract(ctx, image)
	if err != nil {
		s.logger.LogIndex(ctx, recordID, subjectID, opts.CollectionID, err)
		return nil, err
	}

	now := s.now().UTC()

	record := model.Record{
		RecordID:        recordID,
		CollectionID:    opts.CollectionID,
		SubjectID:       subjectID,
		Confidence:      det.Confidence,
		BoundingBox:     det.BoundingBox,
		Landmarks:       det.Landmarks,
		Pose:            det.Pose,
		Quality:         det.Quality,
		ExternalImageID: opts.ExternalImageID,
		SourceReference: sourceRef,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	total, err := s.persistRecord(ctx, record, det.Vector)
	if err != nil {
		s.logger.LogIndex(ctx, recordID, subjectID, opts.CollectionID, err)
		return nil, err
	}

	s.logger.LogIndex(ctx, recordID, subjectID, opts.CollectionID, nil)

	return &IndexResult{Record: record, SubjectRecords: total}, nil
}

// persistRecord performs the metadata, vector and aggregate writes for a
// fully assembled record. Shared by Index and collection migration.
func (s *Service) persistRecord(ctx context.Context, record model.Record, vector []float32) (int, error) {
	metaCtx, cancel := s.storeCtx(ctx)
	err := s.meta.Put(metaCtx, record)
	cancel()

	if err != nil {
		// The metadata write is first; a failure here leaves no trace.
		return 0, fmt.Errorf("store metadata: %w", translateError(err))
	}

	vecCtx, cancel := s.storeCtx(ctx)
	err = s.vectors.Upsert(vecCtx, vectorindex.Entry{
		ID:     record.RecordID,
		Vector: vector,
		Attributes: vectorindex.Attributes{
			CollectionID: record.CollectionID,
			SubjectID:    record.SubjectID,
		},
	})
	cancel()

	if err != nil {
		return 0, &PartialConsistencyError{RecordID: record.RecordID, Step: "vector index", cause: err}
	}

	aggCtx, cancel := s.storeCtx(ctx)
	agg, err := s.updater.AddRecord(aggCtx, record.SubjectID, record.RecordID, record.CollectionID)
	cancel()

	if err != nil {
		return 0, &PartialConsistencyError{RecordID: record.RecordID, Step: "subject aggregate", cause: translateError(err)}
	}

	return agg.TotalRecords, nil
}
