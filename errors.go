package faceindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/faceindex/aggstore"
	"github.com/hupe1980/faceindex/extractor"
	"github.com/hupe1980/faceindex/metastore"
	"github.com/hupe1980/faceindex/vectorindex"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNoFaceDetected is returned when the extractor finds no usable
	// face in the supplied image.
	ErrNoFaceDetected = errors.New("no face detected")
)

// ValidationError indicates a rejected input parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrDimensionMismatch indicates a vector dimensionality mismatch between
// the extractor and the vector index.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// PartialConsistencyError indicates that an indexing operation wrote the
// metadata record but failed at a later step, leaving the stores out of
// sync for the named record. The record is still resolvable and the
// failed step can be repaired by Reconcile or by re-running the
// operation.
//
// The original underlying error can be accessed via errors.Unwrap.
type PartialConsistencyError struct {
	RecordID string
	Step     string
	cause    error
}

func (e *PartialConsistencyError) Error() string {
	return fmt.Sprintf("record %s: %s write failed, stores out of sync: %v", e.RecordID, e.Step, e.cause)
}

func (e *PartialConsistencyError) Unwrap() error { return e.cause }

// TransientError wraps a store failure that is safe to retry with backoff,
// such as a timeout or a throttling response. Validation and not-found
// errors are never classified as transient.
type TransientError struct {
	cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store failure: %v", e.cause)
}

func (e *TransientError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, metastore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, vectorindex.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, extractor.ErrNoFace) {
		return fmt.Errorf("%w: %w", ErrNoFaceDetected, err)
	}

	if errors.Is(err, aggstore.ErrVersionConflict) {
		return fmt.Errorf("aggregate update contention: %w", err)
	}

	// Store timeouts are retryable by the caller.
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{cause: err}
	}

	return err
}
