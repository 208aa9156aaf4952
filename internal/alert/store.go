// Package alert keeps the public alerts raised by the crisis controller.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/spatial"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Publisher delivers alert lifecycle events downstream.
type Publisher interface {
	PublishAlert(ctx context.Context, ev domain.AlertEvent) error
}

// slot holds the latest alert of one partition cell. The pointer is swapped
// whole so readers never see a half-updated alert.
type slot struct {
	mu      sync.Mutex
	cell    string
	current atomic.Pointer[domain.Alert]
}

// Store keeps at most one open alert per partition cell.
type Store struct {
	slots           sync.Map // cell -> *slot
	index           *spatial.Index[*slot]
	open            atomic.Int64
	ttl             time.Duration
	defaultRadiusKm float64
	publisher       Publisher
	clock           clockwork.Clock
	logger          *slog.Logger
	metrics         *observability.Metrics
}

// NewStore creates an alert store. Open alerts expire ttl after their last
// refresh. A nil publisher disables event delivery.
func NewStore(ttl time.Duration, defaultRadiusKm float64, publisher Publisher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Store {
	return &Store{
		index:           spatial.NewIndex[*slot](),
		ttl:             ttl,
		defaultRadiusKm: defaultRadiusKm,
		publisher:       publisher,
		clock:           clock,
		logger:          logger,
		metrics:         metrics,
	}
}

// OpenOrRefresh opens an alert for cell, or updates the open one in place.
func (s *Store) OpenOrRefresh(ctx context.Context, cell string, severity domain.Severity, d domain.AlertDescriptor) (domain.Alert, error) {
	if severity.Rank() == 0 {
		return domain.Alert{}, &domain.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", severity)}
	}
	sl := s.slot(cell)
	now := s.clock.Now().UTC()

	var events []domain.AlertEvent
	sl.mu.Lock()
	cur := sl.current.Load()
	if cur != nil && cur.Open() && !now.Before(cur.ExpiresAt) {
		events = append(events, s.closeLocked(sl, cur, cur.ExpiresAt))
		cur = sl.current.Load()
	}

	var next domain.Alert
	if cur != nil && cur.Open() {
		next = *cur
		changed := next.Severity != severity
		next.Severity = severity
		next.Level = d.Level
		next.Title = d.Title
		next.Description = d.Description
		next.Type = d.Type
		next.UpdatedAt = now
		next.ExpiresAt = now.Add(s.ttl)
		sl.current.Store(&next)
		if changed {
			events = append(events, domain.AlertEvent{Kind: domain.AlertEventUpdated, Alert: next, OccurredAt: now})
		}
	} else {
		next = domain.Alert{
			ID:          uuid.NewString(),
			Partition:   cell,
			Title:       d.Title,
			Description: d.Description,
			Severity:    severity,
			Type:        d.Type,
			Level:       d.Level,
			Location:    spatial.CellCenter(cell),
			StartTime:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(s.ttl),
		}
		sl.current.Store(&next)
		s.metrics.AlertsOpen.Set(float64(s.open.Add(1)))
		events = append(events, domain.AlertEvent{Kind: domain.AlertEventOpened, Alert: next, OccurredAt: now})
	}
	sl.mu.Unlock()

	s.publish(ctx, events)
	return next, nil
}

// Close closes the open alert of cell. It reports false when there was none.
func (s *Store) Close(ctx context.Context, cell string) (domain.Alert, bool) {
	v, ok := s.slots.Load(cell)
	if !ok {
		return domain.Alert{}, false
	}
	sl := v.(*slot)

	sl.mu.Lock()
	cur := sl.current.Load()
	if cur == nil || !cur.Open() {
		sl.mu.Unlock()
		return domain.Alert{}, false
	}
	ev := s.closeLocked(sl, cur, s.clock.Now().UTC())
	sl.mu.Unlock()

	s.publish(ctx, []domain.AlertEvent{ev})
	return ev.Alert, true
}

// ExpireStale closes open alerts that outlived their TTL and returns how many it closed.
func (s *Store) ExpireStale(ctx context.Context) int {
	now := s.clock.Now().UTC()
	var events []domain.AlertEvent
	s.slots.Range(func(_, v any) bool {
		sl := v.(*slot)
		sl.mu.Lock()
		if cur := sl.current.Load(); cur != nil && cur.Open() && !now.Before(cur.ExpiresAt) {
			events = append(events, s.closeLocked(sl, cur, cur.ExpiresAt))
		}
		sl.mu.Unlock()
		return true
	})
	s.publish(ctx, events)
	return len(events)
}

// Get returns the latest alert of cell, open or closed.
func (s *Store) Get(cell string) (domain.Alert, bool) {
	v, ok := s.slots.Load(cell)
	if !ok {
		return domain.Alert{}, false
	}
	cur := v.(*slot).current.Load()
	if cur == nil {
		return domain.Alert{}, false
	}
	return *cur, true
}

// Current returns the open alerts whose partitions lie within radiusKm of
// center, plus the alert of the partition containing center. Results are
// ordered by severity, then most recently updated. A zero radius selects the
// store default.
func (s *Store) Current(center domain.Location, radiusKm float64) ([]domain.Alert, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if radiusKm == 0 {
		radiusKm = s.defaultRadiusKm
	}
	if radiusKm < 0 {
		return nil, &domain.ValidationError{Field: "radius", Reason: "must not be negative"}
	}

	now := s.clock.Now()
	seen := make(map[string]bool)
	var out []domain.Alert
	add := func(sl *slot) {
		if seen[sl.cell] {
			return
		}
		seen[sl.cell] = true
		if cur := sl.current.Load(); cur != nil && cur.Open() && now.Before(cur.ExpiresAt) {
			out = append(out, *cur)
		}
	}

	if v, ok := s.slots.Load(spatial.KeyOfLocation(center).Cell); ok {
		add(v.(*slot))
	}
	for _, m := range s.index.WithinRadius(center, radiusKm) {
		add(m.Item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank(); ri != rj {
			return ri > rj
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// OpenCount returns the number of open alerts.
func (s *Store) OpenCount() int {
	return int(s.open.Load())
}

func (s *Store) slot(cell string) *slot {
	if v, ok := s.slots.Load(cell); ok {
		return v.(*slot)
	}
	v, loaded := s.slots.LoadOrStore(cell, &slot{cell: cell})
	sl := v.(*slot)
	if !loaded {
		s.index.Insert(spatial.CellCenter(cell), sl)
	}
	return sl
}

func (s *Store) closeLocked(sl *slot, cur *domain.Alert, at time.Time) domain.AlertEvent {
	closed := *cur
	closed.ClosedAt = &at
	closed.UpdatedAt = at
	sl.current.Store(&closed)
	s.metrics.AlertsOpen.Set(float64(s.open.Add(-1)))
	return domain.AlertEvent{Kind: domain.AlertEventClosed, Alert: closed, OccurredAt: at}
}

func (s *Store) publish(ctx context.Context, events []domain.AlertEvent) {
	for _, ev := range events {
		s.metrics.AlertEvents.WithLabelValues(ev.Kind).Inc()
		s.logger.Info("alert event",
			"kind", ev.Kind,
			"alert_id", ev.Alert.ID,
			"partition", ev.Alert.Partition,
			"severity", ev.Alert.Severity,
		)
		if s.publisher == nil {
			continue
		}
		if err := s.publisher.PublishAlert(ctx, ev); err != nil {
			s.metrics.AlertPublishErrors.Inc()
			s.logger.Warn("publish alert event failed", "kind", ev.Kind, "alert_id", ev.Alert.ID, "error", err)
		}
	}
}
