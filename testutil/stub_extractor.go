package testutil

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/hupe1980/faceindex/extractor"
	"github.com/hupe1980/faceindex/model"
)

// NoFacePrefix marks an image the stub treats as containing no face.
var NoFacePrefix = []byte("noface")

// StubExtractor is a deterministic extractor.FeatureExtractor for tests.
//
// The vector is derived from the image bytes: the part before the first '|'
// is the identity, the rest is a variant marker. Images sharing an identity
// get nearby vectors (similarity close to 1), different identities get
// near-orthogonal vectors (similarity around 0.5). Use Image and
// SimilarImage to build inputs.
type StubExtractor struct {
	dimension int

	// NoiseScale controls how far variants of the same identity drift
	// apart. Default 0.05.
	NoiseScale float32
}

// NewStubExtractor creates a stub producing vectors of the given dimension.
func NewStubExtractor(dimension int) *StubExtractor {
	return &StubExtractor{
		dimension:  dimension,
		NoiseScale: 0.05,
	}
}

// Dimension implements extractor.FeatureExtractor.
func (e *StubExtractor) Dimension() int {
	return e.dimension
}

// Detect implements extractor.FeatureExtractor.
func (e *StubExtractor) Detect(_ context.Context, image []byte) (*extractor.Detection, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("stub extractor: empty image")
	}
	if bytes.HasPrefix(image, NoFacePrefix) {
		return nil, extractor.ErrNoFace
	}

	identity := image
	if i := bytes.IndexByte(image, '|'); i >= 0 {
		identity = image[:i]
	}

	vec := gaussianUnit(seedOf(identity), e.dimension)

	if !bytes.Equal(identity, image) {
		noise := gaussianUnit(seedOf(image), e.dimension)
		for i := range vec {
			vec[i] += e.NoiseScale * noise[i]
		}
		normalizeInPlace(vec)
	}

	frac := float64(seedOf(image)%1000) / 1000

	return &extractor.Detection{
		Vector:     vec,
		Confidence: 0.90 + 0.09*frac,
		BoundingBox: model.BoundingBox{
			Left:   0.1 + 0.2*frac,
			Top:    0.1,
			Width:  0.4,
			Height: 0.5,
		},
		Landmarks: []model.Landmark{
			{Type: "eyeLeft", X: 0.3, Y: 0.3},
			{Type: "eyeRight", X: 0.5, Y: 0.3},
		},
		Pose:    &model.Pose{Roll: 1.5, Yaw: -2.0, Pitch: 0.5},
		Quality: &model.Quality{Brightness: 70, Sharpness: 80},
	}, nil
}

// Image builds image bytes for the given identity.
func Image(identity string) []byte {
	return []byte(identity)
}

// SimilarImage builds image bytes for a variant of identity. All variants of
// one identity extract to nearby vectors.
func SimilarImage(identity, variant string) []byte {
	return []byte(identity + "|" + variant)
}

// NoFaceImage builds image bytes the stub rejects with extractor.ErrNoFace.
func NoFaceImage() []byte {
	return append(append([]byte(nil), NoFacePrefix...), " pixels"...)
}

func seedOf(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func gaussianUnit(seed uint64, dim int) []float32 {
	rng := rand.New(rand.NewSource(int64(seed)))

	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
	}
	normalizeInPlace(vec)

	return vec
}

func normalizeInPlace(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
