package model

import "time"

// DefaultCollectionID is the collection used when a caller does not name one.
const DefaultCollectionID = "default"

// BoundingBox locates a detected face within its source image.
// Coordinates are ratios of the overall image dimensions.
type BoundingBox struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Landmark is a named facial feature point, in image-ratio coordinates.
type Landmark struct {
	Type string
	X    float64
	Y    float64
}

// Pose describes the orientation of a detected face in degrees.
type Pose struct {
	Roll  float64
	Yaw   float64
	Pitch float64
}

// Quality carries detector-reported image quality attributes.
type Quality struct {
	Brightness float64
	Sharpness  float64
}

// Record is the metadata half of an indexed face. The feature vector itself
// lives in the vector index under the same RecordID; a RecordID is expected
// to exist in both stores or in neither.
type Record struct {
	// RecordID is the stable unique identifier, generated at indexing time.
	RecordID string

	// CollectionID is the logical namespace the record belongs to.
	// Collections exist only implicitly through the records that name them.
	CollectionID string

	// SubjectID identifies the entity the face belongs to.
	SubjectID string

	// Detection-derived attributes. Stored for callers, never used in ranking.
	Confidence  float64
	BoundingBox BoundingBox
	Landmarks   []Landmark
	Pose        *Pose
	Quality     *Quality

	// ExternalImageID is an optional caller-supplied reference.
	ExternalImageID string

	// SourceReference is the image-store key of the original image, if the
	// image was persisted.
	SourceReference string

	// MigratedFrom names the legacy system a record was migrated out of.
	// Empty for records indexed directly.
	MigratedFrom string

	CreatedAt time.Time
	UpdatedAt time.Time
}
