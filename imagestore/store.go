// Package imagestore abstracts storage of original face images.
//
// The index only needs "store bytes, return a handle" semantics; the handle
// is recorded as each record's source reference so operators can inspect
// originals and migrations can re-extract vectors.
package imagestore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an image does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`.
var ErrNotFound = errors.New("image not found")

// Store is a key-addressed image blob store.
type Store interface {
	// Put writes the image bytes under key.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the image bytes, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes an image. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key under the given prefix, in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)
}
