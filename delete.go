package faceindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/faceindex/vectorindex"
)

// Delete removes a record from every store: vector index, metadata store
// and the subject aggregate. Returns ErrNotFound when the record does not
// exist in the metadata store.
//
// Already-missing pieces in the other stores are treated as drift, logged,
// and skipped, so a failed earlier Delete can be safely retried.
func (s *Service) Delete(ctx context.Context, recordID string) error {
	start := s.now()

	err := s.delete(ctx, recordID)

	s.metrics.RecordDelete(s.now().Sub(start), err)
	s.logger.LogDelete(ctx, recordID, err)

	return err
}

func (s *Service) delete(ctx context.Context, recordID string) error {
	if recordID == "" {
		return &ValidationError{Field: "record_id", Reason: "must not be empty"}
	}

	record, err := s.meta.Get(ctx, recordID)
	if err != nil {
		return translateError(err)
	}

	// Vector first so a partially deleted record can no longer surface
	// in search results.
	vecCtx, cancel := s.storeCtx(ctx)
	err = s.vectors.Delete(vecCtx, recordID)
	cancel()

	if err != nil {
		if !errors.Is(err, vectorindex.ErrNotFound) {
			return fmt.Errorf("delete vector: %w", err)
		}
		s.logger.LogDrift(ctx, recordID, "metadata record present but vector missing")
	}

	metaCtx, cancel := s.storeCtx(ctx)
	err = s.meta.Delete(metaCtx, recordID)
	cancel()

	if err != nil {
		return &PartialConsistencyError{RecordID: recordID, Step: "metadata delete", cause: err}
	}

	aggCtx, cancel := s.storeCtx(ctx)
	_, err = s.updater.RemoveRecord(aggCtx, record.SubjectID, recordID)
	cancel()

	if err != nil {
		return &PartialConsistencyError{RecordID: recordID, Step: "subject aggregate", cause: translateError(err)}
	}

	return nil
}
