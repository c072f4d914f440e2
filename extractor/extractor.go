// Package extractor defines the boundary to the facial feature extractor.
//
// Extraction is an external capability: some engine turns image bytes into a
// fixed-length embedding plus detection attributes. This package deliberately
// contains no model of its own; production deployments plug in a real
// embedding service, tests use the deterministic stub in testutil.
package extractor

import (
	"context"
	"errors"

	"github.com/hupe1980/faceindex/model"
)

// DefaultDimension is the conventional embedding width of face models.
// Extractors are free to report any other width via Dimension.
const DefaultDimension = 512

// ErrNoFace is returned when no detectable face is present in the image.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNoFace)`.
var ErrNoFace = errors.New("no face detected")

// Detection is the result of running the feature extractor on one image.
// Vector has the extractor's fixed dimensionality.
type Detection struct {
	Vector      []float32
	Confidence  float64
	BoundingBox model.BoundingBox
	Landmarks   []model.Landmark
	Pose        *model.Pose
	Quality     *model.Quality
}

// FeatureExtractor turns image bytes into a face embedding.
type FeatureExtractor interface {
	// Detect extracts the most prominent face from the image.
	// Returns ErrNoFace when the image contains no detectable face.
	Detect(ctx context.Context, image []byte) (*Detection, error)

	// Dimension returns the fixed length of produced vectors.
	Dimension() int
}
