package faceindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/faceindex/metastore"
	"github.com/hupe1980/faceindex/model"
	"github.com/hupe1980/faceindex/vectorindex"
)

// Query selects the probe for a search: either raw image bytes or the id of
// an already indexed record. Exactly one of the two must be set.
type Query struct {
	Image    []byte
	RecordID string
}

// ByImage builds a query that extracts the probe vector from image bytes.
func ByImage(image []byte) Query {
	return Query{Image: image}
}

// ByRecordID builds a query that reuses the stored vector of an indexed
// record as the probe.
func ByRecordID(recordID string) Query {
	return Query{RecordID: recordID}
}

// SearchOptions configures a single Search call.
type SearchOptions struct {
	// CollectionID restricts the search to one collection. Empty means
	// all collections.
	CollectionID string

	// MaxResults caps the number of returned matches, in [1, 100].
	// Defaults to 10.
	MaxResults int

	// SimilarityThreshold drops matches below the given similarity,
	// in [0, 1]. Defaults to 0.8.
	SimilarityThreshold float64

	// ExcludeSelf drops the probe record itself from the results of a
	// by-record-id search. Without it the probe is returned first with
	// similarity 1.0.
	ExcludeSelf bool
}

// Match is one search result, ordered by descending similarity.
type Match struct {
	RecordID     string
	SubjectID    string
	CollectionID string

	// Similarity is in [0, 1]; 1.0 means identical vectors.
	Similarity float64

	// Metadata enrichment. Zero-valued when the metadata record is
	// missing (store drift).
	Confidence      float64
	BoundingBox     model.BoundingBox
	ExternalImageID string
	SourceReference string
	CreatedAt       time.Time
}

// Search runs a nearest-neighbor similarity search and returns matches in
// descending similarity order, ties broken by record id ascending.
//
// A by-image query with no detectable face returns ErrNoFaceDetected; a
// by-record-id query for an unknown record returns ErrNotFound.
func (s *Service) Search(ctx context.Context, query Query, optFns ...func(o *SearchOptions)) ([]Match, error) {
	start := s.now()

	opts := SearchOptions{
		MaxResults:          10,
		SimilarityThreshold: 0.8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	matches, err := s.search(ctx, query, opts)

	s.metrics.RecordSearch(opts.MaxResults, s.now().Sub(start), err)
	s.logger.LogSearch(ctx, opts.CollectionID, opts.MaxResults, len(matches), err)

	return matches, err
}

func (s *Service) search(ctx context.Context, query Query, opts SearchOptions) ([]Match, error) {
	if (len(query.Image) == 0) == (query.RecordID == "") {
		return nil, &ValidationError{Field: "query", Reason: "exactly one of image or record id must be set"}
	}
	if opts.MaxResults < 1 || opts.MaxResults > 100 {
		return nil, &ValidationError{Field: "max_results", Reason: fmt.Sprintf("must be in [1, 100], got %d", opts.MaxResults)}
	}
	if opts.SimilarityThreshold < 0 || opts.SimilarityThreshold > 1 {
		return nil, &ValidationError{Field: "similarity_threshold", Reason: fmt.Sprintf("must be in [0, 1], got %g", opts.SimilarityThreshold)}
	}

	probe, selfID, err := s.resolveProbe(ctx, query)
	if err != nil {
		return nil, err
	}

	// Over-fetch so that threshold filtering still leaves MaxResults
	// candidates in the common case.
	k := opts.MaxResults * s.overFetchFactor

	filter := &vectorindex.Filter{CollectionID: opts.CollectionID}
	if selfID != "" {
		filter.ExcludeIDs = []string{selfID}
	}

	candidates, err := s.vectors.KNN(ctx, probe, k, filter)
	if err != nil {
		return nil, translateError(err)
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		sim := 1 - float64(c.Distance)/2
		if sim < opts.SimilarityThreshold {
			continue
		}
		matches = append(matches, Match{
			RecordID:     c.ID,
			SubjectID:    c.Attributes.SubjectID,
			CollectionID: c.Attributes.CollectionID,
			Similarity:   sim,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].RecordID < matches[j].RecordID
	})

	if selfID != "" && !opts.ExcludeSelf {
		self, err := s.vectors.Get(ctx, selfID)
		if err == nil && (opts.CollectionID == "" || self.Attributes.CollectionID == opts.CollectionID) {
			matches = append([]Match{{
				RecordID:     selfID,
				SubjectID:    self.Attributes.SubjectID,
				CollectionID: self.Attributes.CollectionID,
				Similarity:   1.0,
			}}, matches...)
		}
	}

	if len(matches) > opts.MaxResults {
		matches = matches[:opts.MaxResults]
	}

	s.enrich(ctx, matches)

	return matches, nil
}

// resolveProbe turns a Query into a probe vector. For by-record-id queries
// it also returns the probe record's id.
func (s *Service) resolveProbe(ctx context.Context, query Query) ([]float32, string, error) {
	if query.RecordID != "" {
		entry, err := s.vectors.Get(ctx, query.RecordID)
		if err != nil {
			return nil, "", translateError(err)
		}
		return entry.Vector, query.RecordID, nil
	}

	det, err := s.extract(ctx, query.Image)
	if err != nil {
		return nil, "", err
	}

	return det.Vector, "", nil
}

// enrich fills in metadata fields for each match. A missing metadata record
// is logged as drift and leaves the enrichment fields zero-valued; the match
// itself is kept.
func (s *Service) enrich(ctx context.Context, matches []Match) {
	for i := range matches {
		record, err := s.meta.Get(ctx, matches[i].RecordID)
		if err != nil {
			if errors.Is(err, metastore.ErrNotFound) {
				s.logger.LogDrift(ctx, matches[i].RecordID, "vector present but metadata record missing")
				continue
			}
			s.logger.WarnContext(ctx, "metadata enrichment failed",
				"record_id", matches[i].RecordID,
				"error", err,
			)
			continue
		}

		matches[i].SubjectID = record.SubjectID
		matches[i].Confidence = record.Confidence
		matches[i].BoundingBox = record.BoundingBox
		matches[i].ExternalImageID = record.ExternalImageID
		matches[i].SourceReference = record.SourceReference
		matches[i].CreatedAt = record.CreatedAt
	}
}
