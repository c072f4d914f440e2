// Package model defines the shared data types of the face index:
// records, detection attributes, and the identifiers that tie the
// metadata store and the vector index together.
package model
