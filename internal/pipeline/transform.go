package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/spatial"
)

// FireTransformer parses feed records, assigns partition keys, and fills a
// missing state through an optional region geocoder.
type FireTransformer struct {
	geocoder domain.RegionGeocoder
	logger   *slog.Logger
}

// NewTransformer creates a FireTransformer. A nil geocoder disables the
// state lookup.
func NewTransformer(geocoder domain.RegionGeocoder, logger *slog.Logger) *FireTransformer {
	return &FireTransformer{geocoder: geocoder, logger: logger}
}

func (t *FireTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.FireDetection, error) {
	d, err := domain.ParseFireRecord(raw)
	if err != nil {
		return domain.FireDetection{}, err
	}
	d.AssignPartition(spatial.KeyOfLocation(d.Location()))

	if d.State == "" && t.geocoder != nil {
		region, err := t.geocoder.ReverseRegion(ctx, d.Latitude, d.Longitude)
		if err != nil {
			t.logger.Warn("region lookup failed, leaving state empty",
				"detection_id", d.ID,
				"error", err,
			)
		} else {
			d.State = region
		}
	}
	return d, nil
}
