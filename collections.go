package faceindex

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/faceindex/metastore"
)

// CollectionInfo summarizes one collection. Collections exist only
// implicitly through the records that name them.
type CollectionInfo struct {
	CollectionID string
	RecordCount  int

	// CreatedAt is the earliest CreatedAt of any record in the collection.
	CreatedAt time.Time
}

// Stats is a point-in-time summary of the whole index.
type Stats struct {
	TotalRecords     int
	TotalSubjects    int
	TotalCollections int

	// LastActivity is the latest UpdatedAt across all records.
	LastActivity time.Time
}

const scanPageSize = 500

// ListCollections scans the metadata store and returns every collection
// with its record count, ordered by collection id.
func (s *Service) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	byID := make(map[string]*CollectionInfo)

	err := s.scanAll(ctx, func(record recordView) {
		info, ok := byID[record.CollectionID]
		if !ok {
			info = &CollectionInfo{CollectionID: record.CollectionID, CreatedAt: record.CreatedAt}
			byID[record.CollectionID] = info
		}
		info.RecordCount++
		if record.CreatedAt.Before(info.CreatedAt) {
			info.CreatedAt = record.CreatedAt
		}
	})
	if err != nil {
		return nil, err
	}

	out := make([]CollectionInfo, 0, len(byID))
	for _, info := range byID {
		out = append(out, *info)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CollectionID < out[j].CollectionID
	})

	return out, nil
}

// GetStats returns overall index statistics. The subject count comes from
// the aggregate store; everything else from a metadata scan.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	collections := make(map[string]struct{})

	err := s.scanAll(ctx, func(record recordView) {
		stats.TotalRecords++
		collections[record.CollectionID] = struct{}{}
		if record.UpdatedAt.After(stats.LastActivity) {
			stats.LastActivity = record.UpdatedAt
		}
	})
	if err != nil {
		return nil, err
	}

	stats.TotalCollections = len(collections)

	subjects, err := s.aggStore.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count subjects: %w", err)
	}
	stats.TotalSubjects = subjects

	return stats, nil
}

type recordView struct {
	RecordID     string
	CollectionID string
	SubjectID    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// scanAll pages through the whole metadata store and calls fn per record.
func (s *Service) scanAll(ctx context.Context, fn func(recordView)) error {
	var token string

	for {
		page, err := s.meta.Scan(ctx, metastore.ScanFilter{}, token, scanPageSize)
		if err != nil {
			return fmt.Errorf("scan metadata: %w", err)
		}

		for _, record := range page.Records {
			fn(recordView{
				RecordID:     record.RecordID,
				CollectionID: record.CollectionID,
				SubjectID:    record.SubjectID,
				CreatedAt:    record.CreatedAt,
				UpdatedAt:    record.UpdatedAt,
			})
		}

		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}
