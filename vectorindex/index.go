// Package vectorindex defines the nearest-neighbor index boundary.
package vectorindex

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an id is not present in the index.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`.
var ErrNotFound = errors.New("id not found")

// Attributes are the filterable fields stored alongside each vector.
type Attributes struct {
	CollectionID string
	SubjectID    string
}

// Entry is one stored vector with its attributes.
type Entry struct {
	ID         string
	Vector     []float32
	Attributes Attributes
}

// Match is one k-NN candidate. Distance is metric-dependent; for cosine
// indexes it is 1 - cos(query, vector), in [0, 2], lower is closer.
type Match struct {
	ID         string
	Distance   float32
	Attributes Attributes
}

// Filter narrows a k-NN query before ranking.
type Filter struct {
	// CollectionID restricts candidates to one collection when non-empty.
	CollectionID string

	// ExcludeIDs removes specific ids from the candidate set.
	ExcludeIDs []string
}

// Index is a nearest-neighbor store over fixed-dimension vectors.
type Index interface {
	// Upsert inserts or replaces the vector stored under entry.ID.
	Upsert(ctx context.Context, entry Entry) error

	// Delete removes an id. Deleting an absent id returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Get returns the stored entry, or ErrNotFound.
	Get(ctx context.Context, id string) (Entry, error)

	// KNN returns up to k matches ordered by ascending distance.
	// Equal distances are ordered by id ascending so results are
	// deterministic. A nil filter matches everything.
	KNN(ctx context.Context, query []float32, k int, filter *Filter) ([]Match, error)

	// IDs returns every stored id. Intended for reconciliation and
	// statistics, not for the search path.
	IDs(ctx context.Context) ([]string, error)
}
