// Package metastore defines the durable per-record metadata store.
package metastore

import (
	"context"
	"errors"

	"github.com/hupe1980/faceindex/model"
)

// ErrNotFound is returned when a record does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`.
var ErrNotFound = errors.New("record not found")

// ScanFilter narrows a Scan to records matching all set fields.
type ScanFilter struct {
	// CollectionID restricts the scan to one collection when non-empty.
	CollectionID string

	// SubjectID restricts the scan to one subject when non-empty.
	SubjectID string
}

// ScanPage is one page of a paginated scan.
type ScanPage struct {
	Records []model.Record

	// NextToken resumes the scan on the following page.
	// Empty when the scan is exhausted.
	NextToken string
}

// Store is the metadata half of the face index. Scans are allowed to be
// O(n); they exist for collection listing and statistics, not for search.
type Store interface {
	// Put writes or overwrites the record keyed by RecordID.
	Put(ctx context.Context, record model.Record) error

	// Get returns the record, or ErrNotFound.
	Get(ctx context.Context, recordID string) (model.Record, error)

	// Delete removes the record. Deleting an absent record returns ErrNotFound.
	Delete(ctx context.Context, recordID string) error

	// Scan returns up to limit records matching the filter, resuming from
	// pageToken. Pass an empty token to start from the beginning.
	Scan(ctx context.Context, filter ScanFilter, pageToken string, limit int) (ScanPage, error)
}
