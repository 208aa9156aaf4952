// Package firefeed stores satellite fire detections and serves spatial and
// per-state queries over them.
package firefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/cow"
	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/spatial"
)

// BatchNotifier receives the crisis signals of every newly stored batch.
type BatchNotifier interface {
	NotifyBatch(ctx context.Context, batch []domain.PartitionSignal) error
}

// Store keeps every detection within the retention window. Detections are
// keyed by ID so re-delivered feed messages are stored once.
type Store struct {
	index    *spatial.Index[domain.FireDetection]
	seen     sync.Map // detection ID -> struct{}
	byState  sync.Map // lower-cased state -> *cow.List[domain.FireDetection]
	notifier BatchNotifier
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewStore creates an empty store. notifier may be nil.
func NewStore(notifier BatchNotifier, logger *slog.Logger, metrics *observability.Metrics) *Store {
	return &Store{
		index:    spatial.NewIndex[domain.FireDetection](),
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
	}
}

// LoadBatch stores new detections and notifies the crisis controller of the
// partitions they touched. Detections already stored are skipped.
func (s *Store) LoadBatch(ctx context.Context, detections []domain.FireDetection) error {
	signals := make([]domain.PartitionSignal, 0, len(detections))
	for _, d := range detections {
		if d.Partition.IsZero() {
			d.AssignPartition(spatial.KeyOfLocation(d.Location()))
		}
		if _, dup := s.seen.LoadOrStore(d.ID, struct{}{}); dup {
			s.metrics.DuplicateDetections.Inc()
			continue
		}

		s.index.Insert(d.Location(), d)
		if d.State != "" {
			s.stateList(d.State).Append(d)
		}
		signals = append(signals, domain.PartitionSignal{Key: d.Partition, Signal: domain.FireSignal(d)})
	}
	s.metrics.DetectionsLoaded.Add(float64(len(signals)))

	if len(signals) == 0 {
		return nil
	}
	s.logger.Debug("fire detections stored", "count", len(signals), "skipped", len(detections)-len(signals))

	if s.notifier != nil {
		if err := s.notifier.NotifyBatch(ctx, signals); err != nil {
			return fmt.Errorf("notify crisis controller: %w", err)
		}
	}
	return nil
}

// Nearby returns the latest detection of every site within radiusKm of
// center, nearest first.
func (s *Store) Nearby(center domain.Location, radiusKm float64) []domain.FireDetection {
	matches := s.index.WithinRadius(center, radiusKm)
	items := make([]domain.FireDetection, len(matches))
	for i, m := range matches {
		items[i] = m.Item
	}
	return latestPerSite(items)
}

// ByState returns the latest detection of every site whose state matches
// name case-insensitively, most recent first.
func (s *Store) ByState(name string) []domain.FireDetection {
	v, ok := s.byState.Load(stateKey(name))
	if !ok {
		return nil
	}
	out := latestPerSite(v.(*cow.List[domain.FireDetection]).Load())
	sort.SliceStable(out, func(i, j int) bool { return out[i].AcquiredAt.After(out[j].AcquiredAt) })
	return out
}

// History returns every retained detection of a site, oldest first.
func (s *Store) History(site string) []domain.FireDetection {
	var out []domain.FireDetection
	for _, d := range s.index.InPartition(site) {
		if d.Site() == site {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AcquiredAt.Before(out[j].AcquiredAt) })
	return out
}

// Prune drops detections acquired before cutoff and returns how many it removed.
func (s *Store) Prune(cutoff time.Time) int {
	expired := func(d domain.FireDetection) bool { return d.AcquiredAt.Before(cutoff) }

	removed := s.index.Prune(func(d domain.FireDetection) bool {
		if expired(d) {
			s.seen.Delete(d.ID)
			return false
		}
		return true
	})
	s.byState.Range(func(_, v any) bool {
		v.(*cow.List[domain.FireDetection]).Filter(func(d domain.FireDetection) bool { return !expired(d) })
		return true
	})
	return removed
}

// Len returns the number of stored detections.
func (s *Store) Len() int {
	return s.index.Len()
}

func (s *Store) stateList(name string) *cow.List[domain.FireDetection] {
	key := stateKey(name)
	if v, ok := s.byState.Load(key); ok {
		return v.(*cow.List[domain.FireDetection])
	}
	v, _ := s.byState.LoadOrStore(key, &cow.List[domain.FireDetection]{})
	return v.(*cow.List[domain.FireDetection])
}

func stateKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// latestPerSite keeps the most recently acquired detection of each site,
// at the position where the site first appears.
func latestPerSite(items []domain.FireDetection) []domain.FireDetection {
	pos := make(map[string]int, len(items))
	out := make([]domain.FireDetection, 0, len(items))
	for _, d := range items {
		i, ok := pos[d.Site()]
		if !ok {
			pos[d.Site()] = len(out)
			out = append(out, d)
			continue
		}
		if d.AcquiredAt.After(out[i].AcquiredAt) {
			out[i] = d
		}
	}
	return out
}
