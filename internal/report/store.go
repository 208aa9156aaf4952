// Package report ingests and serves community hazard reports.
package report

import (
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/spatial"
)

// Store keeps reports in a spatial index.
type Store struct {
	index *spatial.Index[domain.Report]
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{index: spatial.NewIndex[domain.Report]()}
}

// Add stores a report. The report's partition key must already be set.
func (s *Store) Add(r domain.Report) {
	s.index.Insert(r.Location, r)
}

// Nearby returns up to limit reports within radiusKm of center, nearest first.
func (s *Store) Nearby(center domain.Location, radiusKm float64, limit int) []domain.Report {
	matches := s.index.WithinRadius(center, radiusKm)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]domain.Report, len(matches))
	for i, m := range matches {
		out[i] = m.Item
	}
	return out
}

// InCell returns the reports of a partition cell created at or after since.
func (s *Store) InCell(cell string, since time.Time) []domain.Report {
	all := s.index.InPartition(cell)
	out := all[:0:0]
	for _, r := range all {
		if !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out
}

// Prune drops reports created before cutoff.
func (s *Store) Prune(cutoff time.Time) int {
	return s.index.Prune(func(r domain.Report) bool { return !r.CreatedAt.Before(cutoff) })
}

// Len returns the number of stored reports.
func (s *Store) Len() int {
	return s.index.Len()
}
