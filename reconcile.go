package faceindex

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/faceindex/vectorindex"
)

// ReconcileOptions configures a Reconcile run.
type ReconcileOptions struct {
	// DeleteOrphans removes vectors that have no metadata record.
	// Missing vectors are only reported, never repaired automatically;
	// repairing them requires re-extraction from the source image.
	DeleteOrphans bool
}

// ReconcileReport lists the inconsistencies found between the metadata
// store and the vector index. Both slices are sorted.
type ReconcileReport struct {
	// MissingVectors are record ids present in the metadata store but
	// absent from the vector index. These records cannot appear in
	// search results.
	MissingVectors []string

	// OrphanVectors are ids present in the vector index with no metadata
	// record. These surface in search results without enrichment.
	OrphanVectors []string

	// OrphansDeleted is the number of orphan vectors removed when
	// DeleteOrphans was set.
	OrphansDeleted int
}

// Consistent reports whether no drift was found.
func (r *ReconcileReport) Consistent() bool {
	return len(r.MissingVectors) == 0 && len(r.OrphanVectors) == 0
}

// Reconcile cross-checks the metadata store against the vector index and
// reports records that exist in one but not the other. Non-transactional
// indexing and deletion can leave such drift behind after crashes.
func (s *Service) Reconcile(ctx context.Context, optFns ...func(o *ReconcileOptions)) (*ReconcileReport, error) {
	var opts ReconcileOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	vectorIDs, err := s.vectors.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vectors: %w", err)
	}

	indexed := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		indexed[id] = false
	}

	report := &ReconcileReport{}

	err = s.scanAll(ctx, func(record recordView) {
		if _, ok := indexed[record.RecordID]; ok {
			indexed[record.RecordID] = true
		} else {
			report.MissingVectors = append(report.MissingVectors, record.RecordID)
		}
	})
	if err != nil {
		return nil, err
	}

	for id, hasRecord := range indexed {
		if !hasRecord {
			report.OrphanVectors = append(report.OrphanVectors, id)
		}
	}

	sort.Strings(report.MissingVectors)
	sort.Strings(report.OrphanVectors)

	if opts.DeleteOrphans {
		for _, id := range report.OrphanVectors {
			if err := s.vectors.Delete(ctx, id); err != nil {
				if errors.Is(err, vectorindex.ErrNotFound) {
					continue // removed concurrently
				}
				return report, fmt.Errorf("delete orphan vector %s: %w", id, err)
			}
			report.OrphansDeleted++
			s.logger.LogDrift(ctx, id, "orphan vector deleted")
		}
	}

	return report, nil
}
