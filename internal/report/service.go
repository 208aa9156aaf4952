package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/spatial"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultLimit    = 20
	MaxLimit        = 500
	DefaultRadiusKm = 10
	MaxRadiusKm     = 1000
)

// Notifier receives the crisis signal of every accepted report. When
// immediate is true the partition must be re-evaluated before Notify returns.
type Notifier interface {
	Notify(ctx context.Context, key domain.PartitionKey, sig domain.Signal, immediate bool) error
}

// Receipt identifies an accepted report.
type Receipt struct {
	ReportID  string
	Partition domain.PartitionKey
}

// Service validates, stores, and queries community reports.
type Service struct {
	store    *Store
	notifier Notifier
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewService creates a report service.
func NewService(store *Store, notifier Notifier, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// Submit validates and stores a report, then hands its signal to the crisis
// controller. Urgent reports are evaluated before Submit returns, so an
// alert they raise is visible to the next query.
func (s *Service) Submit(ctx context.Context, sub domain.Submission) (Receipt, error) {
	r, err := sub.Normalize()
	if err != nil {
		s.metrics.ReportsRejected.Inc()
		return Receipt{}, err
	}

	r.ID = uuid.NewString()
	r.CreatedAt = s.clock.Now().UTC()
	r.Partition = spatial.KeyOfLocation(r.Location)
	s.store.Add(r)
	s.metrics.ReportsSubmitted.WithLabelValues(string(r.Severity)).Inc()

	s.logger.Info("report accepted",
		"report_id", r.ID,
		"partition", r.Partition.String(),
		"severity", r.Severity,
		"urgent", r.Urgent(),
	)

	// An accepted report stays stored; a failed evaluation is left to the next sweep.
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, r.Partition, domain.ReportSignal(r), r.Urgent()); err != nil {
			s.logger.Warn("partition evaluation failed after report accepted",
				"report_id", r.ID,
				"partition", r.Partition.Cell,
				"error", err,
			)
		}
	}

	return Receipt{ReportID: r.ID, Partition: r.Partition}, nil
}

// Nearby returns reports within radiusKm of center, nearest first. A zero
// radius or limit selects the default; limits above MaxLimit are capped.
func (s *Service) Nearby(center domain.Location, radiusKm float64, limit int) ([]domain.Report, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if radiusKm == 0 {
		radiusKm = DefaultRadiusKm
	}
	if radiusKm < 0 || radiusKm > MaxRadiusKm {
		return nil, &domain.ValidationError{Field: "radius", Reason: fmt.Sprintf("must be between 0 and %d km", MaxRadiusKm)}
	}
	switch {
	case limit < 0:
		return nil, &domain.ValidationError{Field: "limit", Reason: "must not be negative"}
	case limit == 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return s.store.Nearby(center, radiusKm, limit), nil
}
