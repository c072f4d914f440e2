package faceindex

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/faceindex/testutil"
)

// seedSubjects indexes count variant images per subject and returns the
// record ids per subject in indexing order.
func seedSubjects(t *testing.T, env *testEnv, count int, subjects ...string) map[string][]string {
	t.Helper()
	ctx := context.Background()

	ids := make(map[string][]string, len(subjects))
	for _, subject := range subjects {
		for i := 0; i < count; i++ {
			res, err := env.svc.Index(ctx, testutil.SimilarImage(subject, fmt.Sprint(i)), subject)
			require.NoError(t, err)
			ids[subject] = append(ids[subject], res.Record.RecordID)
		}
	}
	return ids
}

func TestSearchByImage(t *testing.T) {
	ctx := context.Background()

	t.Run("FindsSameSubject", func(t *testing.T) {
		env := newTestEnv(t)
		ids := seedSubjects(t, env, 3, "alice", "bob", "carol")

		matches, err := env.svc.Search(ctx, ByImage(testutil.SimilarImage("alice", "probe")))
		require.NoError(t, err)
		require.Len(t, matches, 3)

		for _, m := range matches {
			assert.Equal(t, "alice", m.SubjectID)
			assert.Contains(t, ids["alice"], m.RecordID)
			assert.GreaterOrEqual(t, m.Similarity, 0.8)
			assert.LessOrEqual(t, m.Similarity, 1.0)
		}
	})

	t.Run("DescendingSimilarityUniqueRecords", func(t *testing.T) {
		env := newTestEnv(t)
		seedSubjects(t, env, 5, "alice", "bob")

		matches, err := env.svc.Search(ctx, ByImage(testutil.SimilarImage("alice", "probe")), func(o *SearchOptions) {
			o.SimilarityThreshold = 0
			o.MaxResults = 10
		})
		require.NoError(t, err)
		require.Len(t, matches, 10)

		seen := make(map[string]bool)
		for i, m := range matches {
			assert.False(t, seen[m.RecordID], "record %s returned twice", m.RecordID)
			seen[m.RecordID] = true
			if i > 0 {
				assert.LessOrEqual(t, m.Similarity, matches[i-1].Similarity)
			}
		}

		// The same-subject records outrank every other subject.
		for _, m := range matches[:5] {
			assert.Equal(t, "alice", m.SubjectID)
		}
	})

	t.Run("ThresholdFiltersOtherSubjects", func(t *testing.T) {
		env := newTestEnv(t)
		seedSubjects(t, env, 2, "alice", "bob")

		matches, err := env.svc.Search(ctx, ByImage(testutil.SimilarImage("alice", "probe")), func(o *SearchOptions) {
			o.SimilarityThreshold = 0.9
		})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		for _, m := range matches {
			assert.Equal(t, "alice", m.SubjectID)
		}
	})

	t.Run("ThresholdMonotonicity", func(t *testing.T) {
		env := newTestEnv(t)
		seedSubjects(t, env, 4, "alice", "bob")

		probe := ByImage(testutil.SimilarImage("alice", "probe"))

		prev := -1
		for _, threshold := range []float64{0, 0.5, 0.9, 1} {
			matches, err := env.svc.Search(ctx, probe, func(o *SearchOptions) {
				o.SimilarityThreshold = threshold
				o.MaxResults = 100
			})
			require.NoError(t, err)

			if prev >= 0 {
				assert.LessOrEqual(t, len(matches), prev, "threshold %g", threshold)
			}
			prev = len(matches)
		}
	})

	t.Run("MaxResultsCap", func(t *testing.T) {
		env := newTestEnv(t)
		seedSubjects(t, env, 8, "alice")

		matches, err := env.svc.Search(ctx, ByImage(testutil.SimilarImage("alice", "probe")), func(o *SearchOptions) {
			o.MaxResults = 3
		})
		require.NoError(t, err)
		assert.Len(t, matches, 3)
	})

	t.Run("Deterministic", func(t *testing.T) {
		env := newTestEnv(t)
		seedSubjects(t, env, 5, "alice", "bob")

		probe := ByImage(testutil.SimilarImage("alice", "probe"))

		first, err := env.svc.Search(ctx, probe, func(o *SearchOptions) {
			o.SimilarityThreshold = 0
			o.MaxResults = 10
		})
		require.NoError(t, err)

		second, err := env.svc.Search(ctx, probe, func(o *SearchOptions) {
			o.SimilarityThreshold = 0
			o.MaxResults = 10
		})
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("TieBreakByRecordID", func(t *testing.T) {
		env := newTestEnv(t)

		// Identical images produce identical vectors, so all three tie.
		for i := 0; i < 3; i++ {
			_, err := env.svc.Index(ctx, testutil.Image("alice"), "alice")
			require.NoError(t, err)
		}

		matches, err := env.svc.Search(ctx, ByImage(testutil.Image("alice")))
		require.NoError(t, err)
		require.Len(t, matches, 3)

		assert.Equal(t, "rec-0001", matches[0].RecordID)
		assert.Equal(t, "rec-0002", matches[1].RecordID)
		assert.Equal(t, "rec-0003", matches[2].RecordID)
	})

	t.Run("CollectionScoping", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.Index(ctx, testutil.SimilarImage("alice", "1"), "alice", func(o *IndexOptions) {
			o.CollectionID = "vip"
		})
		require.NoError(t, err)
		_, err = env.svc.Index(ctx, testutil.SimilarImage("alice", "2"), "alice")
		require.NoError(t, err)

		// No collection filter by default: records from every collection
		// are reachable.
		matches, err := env.svc.Search(ctx, ByImage(testutil.SimilarImage("alice", "probe")))
		require.NoError(t, err)
		require.Len(t, matches, 2)

		collections := []string{matches[0].CollectionID, matches[1].CollectionID}
		assert.ElementsMatch(t, []string{"vip", "default"}, collections)

		// Naming a collection narrows the search to it.
		matches, err = env.svc.Search(ctx, ByImage(testutil.SimilarImage("alice", "probe")), func(o *SearchOptions) {
			o.CollectionID = "vip"
		})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "vip", matches[0].CollectionID)

		matches, err = env.svc.Search(ctx, ByImage(testutil.SimilarImage("alice", "probe")), func(o *SearchOptions) {
			o.CollectionID = "default"
		})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "default", matches[0].CollectionID)
	})

	t.Run("NoFace", func(t *testing.T) {
		env := newTestEnv(t)
		seedSubjects(t, env, 1, "alice")

		_, err := env.svc.Search(ctx, ByImage(testutil.NoFaceImage()))
		assert.ErrorIs(t, err, ErrNoFaceDetected)
	})

	t.Run("EmptyIndex", func(t *testing.T) {
		env := newTestEnv(t)

		matches, err := env.svc.Search(ctx, ByImage(testutil.Image("alice")))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("Enrichment", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.Index(ctx, testutil.Image("alice"), "alice", func(o *IndexOptions) {
			o.ExternalImageID = "badge-17"
		})
		require.NoError(t, err)

		matches, err := env.svc.Search(ctx, ByImage(testutil.Image("alice")))
		require.NoError(t, err)
		require.Len(t, matches, 1)

		assert.Equal(t, "badge-17", matches[0].ExternalImageID)
		assert.Greater(t, matches[0].Confidence, 0.8)
		assert.NotZero(t, matches[0].BoundingBox.Width)
		assert.NotEmpty(t, matches[0].SourceReference)
		assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), matches[0].CreatedAt)
	})

	t.Run("EnrichmentDriftKeepsMatch", func(t *testing.T) {
		env := newTestEnv(t)

		res, err := env.svc.Index(ctx, testutil.Image("alice"), "alice")
		require.NoError(t, err)

		// Drift: metadata record gone, vector still present.
		require.NoError(t, env.meta.Delete(ctx, res.Record.RecordID))

		matches, err := env.svc.Search(ctx, ByImage(testutil.Image("alice")))
		require.NoError(t, err)
		require.Len(t, matches, 1)

		assert.Equal(t, res.Record.RecordID, matches[0].RecordID)
		assert.Equal(t, "alice", matches[0].SubjectID)
		assert.Zero(t, matches[0].Confidence)
		assert.Empty(t, matches[0].ExternalImageID)
		assert.True(t, matches[0].CreatedAt.IsZero())
	})
}

func TestSearchByRecordID(t *testing.T) {
	ctx := context.Background()

	t.Run("SelfMatchFirst", func(t *testing.T) {
		env := newTestEnv(t)
		ids := seedSubjects(t, env, 3, "alice")

		matches, err := env.svc.Search(ctx, ByRecordID(ids["alice"][0]))
		require.NoError(t, err)
		require.NotEmpty(t, matches)

		assert.Equal(t, ids["alice"][0], matches[0].RecordID)
		assert.Equal(t, 1.0, matches[0].Similarity)
	})

	t.Run("ExcludeSelf", func(t *testing.T) {
		env := newTestEnv(t)
		ids := seedSubjects(t, env, 3, "alice")

		matches, err := env.svc.Search(ctx, ByRecordID(ids["alice"][0]), func(o *SearchOptions) {
			o.ExcludeSelf = true
			o.SimilarityThreshold = 0
		})
		require.NoError(t, err)
		require.NotEmpty(t, matches)

		for _, m := range matches {
			assert.NotEqual(t, ids["alice"][0], m.RecordID)
		}
	})

	t.Run("SelfConsumesResultSlot", func(t *testing.T) {
		env := newTestEnv(t)
		ids := seedSubjects(t, env, 5, "alice")

		matches, err := env.svc.Search(ctx, ByRecordID(ids["alice"][0]), func(o *SearchOptions) {
			o.MaxResults = 3
			o.SimilarityThreshold = 0
		})
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, ids["alice"][0], matches[0].RecordID)
	})

	t.Run("SelfMatchInNamedCollection", func(t *testing.T) {
		env := newTestEnv(t)

		res, err := env.svc.Index(ctx, testutil.Image("alice"), "alice", func(o *IndexOptions) {
			o.CollectionID = "vip"
		})
		require.NoError(t, err)

		// A record outside the default collection still self-matches when
		// no collection filter is given.
		matches, err := env.svc.Search(ctx, ByRecordID(res.Record.RecordID))
		require.NoError(t, err)
		require.NotEmpty(t, matches)
		assert.Equal(t, res.Record.RecordID, matches[0].RecordID)
		assert.Equal(t, 1.0, matches[0].Similarity)
		assert.Equal(t, "vip", matches[0].CollectionID)

		// A filter naming a different collection drops the self-match.
		matches, err = env.svc.Search(ctx, ByRecordID(res.Record.RecordID), func(o *SearchOptions) {
			o.CollectionID = "default"
		})
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("UnknownRecord", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.Search(ctx, ByRecordID("nope"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSearchValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	var verr *ValidationError

	t.Run("EmptyQuery", func(t *testing.T) {
		_, err := env.svc.Search(ctx, Query{})
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("BothQueryKinds", func(t *testing.T) {
		_, err := env.svc.Search(ctx, Query{Image: testutil.Image("alice"), RecordID: "r1"})
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("MaxResultsRange", func(t *testing.T) {
		for _, n := range []int{-1, 0, 101} {
			_, err := env.svc.Search(ctx, ByImage(testutil.Image("alice")), func(o *SearchOptions) {
				o.MaxResults = n
			})
			assert.ErrorAs(t, err, &verr, "max results %d", n)
		}
	})

	t.Run("ThresholdRange", func(t *testing.T) {
		for _, v := range []float64{-0.1, 1.1} {
			_, err := env.svc.Search(ctx, ByImage(testutil.Image("alice")), func(o *SearchOptions) {
				o.SimilarityThreshold = v
			})
			assert.ErrorAs(t, err, &verr, "threshold %g", v)
		}
	})
}
