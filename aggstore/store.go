// Package aggstore maintains the per-subject roll-up of owned record ids.
//
// Aggregates are updated with optimistic concurrency: every write is
// conditional on the version the writer read, and conflicting writers retry.
// A plain read-modify-write would silently drop concurrent face additions
// for the same subject.
package aggstore

import (
	"context"
	"errors"
	"time"
)

// ErrVersionConflict is returned by ConditionalPut when the stored version
// no longer matches the expected one.
var ErrVersionConflict = errors.New("aggregate version conflict")

// Aggregate is the roll-up of every record owned by one subject, grouped by
// collection. It is created on the first successful indexing for the subject
// and persists even when emptied by deletions.
type Aggregate struct {
	SubjectID string

	// RecordIDs holds every owned record id. Treated as a set; insertion
	// order is preserved but carries no meaning.
	RecordIDs []string

	// Collections maps collection id to the owned record ids in it.
	Collections map[string][]string

	// TotalRecords is derived and always equals len(RecordIDs).
	TotalRecords int

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version increments on every successful write. Zero means the
	// aggregate has never been persisted.
	Version int64
}

// Contains reports whether recordID is already part of the aggregate under
// the given collection.
func (a *Aggregate) Contains(recordID, collectionID string) bool {
	if !containsString(a.RecordIDs, recordID) {
		return false
	}
	return containsString(a.Collections[collectionID], recordID)
}

// Add inserts recordID into the aggregate under collectionID. Adding an id
// that is already present is a no-op, which makes the operation idempotent.
func (a *Aggregate) Add(recordID, collectionID string) {
	if !containsString(a.RecordIDs, recordID) {
		a.RecordIDs = append(a.RecordIDs, recordID)
	}
	if a.Collections == nil {
		a.Collections = make(map[string][]string)
	}
	if !containsString(a.Collections[collectionID], recordID) {
		a.Collections[collectionID] = append(a.Collections[collectionID], recordID)
	}
	a.TotalRecords = len(a.RecordIDs)
}

// Remove deletes recordID from the aggregate. The aggregate itself is never
// deleted, even when it becomes empty.
func (a *Aggregate) Remove(recordID string) {
	a.RecordIDs = removeString(a.RecordIDs, recordID)
	for cid, ids := range a.Collections {
		a.Collections[cid] = removeString(ids, recordID)
		if len(a.Collections[cid]) == 0 {
			delete(a.Collections, cid)
		}
	}
	a.TotalRecords = len(a.RecordIDs)
}

// Clone returns a deep copy of the aggregate.
func (a *Aggregate) Clone() Aggregate {
	out := *a
	out.RecordIDs = append([]string(nil), a.RecordIDs...)
	if a.Collections != nil {
		out.Collections = make(map[string][]string, len(a.Collections))
		for cid, ids := range a.Collections {
			out.Collections[cid] = append([]string(nil), ids...)
		}
	}
	return out
}

// Store persists subject aggregates with conditional writes.
type Store interface {
	// GetOrInit returns the stored aggregate, or a fresh zero-version
	// aggregate when the subject has never been seen.
	GetOrInit(ctx context.Context, subjectID string) (Aggregate, error)

	// ConditionalPut writes the aggregate only if the stored version still
	// equals expectedVersion (zero meaning "must not exist yet"). The
	// written aggregate carries expectedVersion+1. Returns
	// ErrVersionConflict when another writer got there first.
	ConditionalPut(ctx context.Context, aggregate Aggregate, expectedVersion int64) error

	// Count returns the number of persisted aggregates.
	Count(ctx context.Context) (int, error)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
