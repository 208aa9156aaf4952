package mapbox

import (
	"context"
	"fmt"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	lru "github.com/hashicorp/golang-lru"
)

// CachedGeocoder decorates a RegionGeocoder with an LRU cache keyed by the
// coordinate rounded to 0.01 degree. Detections of one fire cluster share a key.
type CachedGeocoder struct {
	inner   domain.RegionGeocoder
	cache   *lru.Cache
	metrics *observability.Metrics
}

// NewCachedGeocoder wraps inner with a cache of at most maxEntries regions.
func NewCachedGeocoder(inner domain.RegionGeocoder, maxEntries int, metrics *observability.Metrics) (*CachedGeocoder, error) {
	cache, err := lru.New(maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create region cache: %w", err)
	}
	return &CachedGeocoder{inner: inner, cache: cache, metrics: metrics}, nil
}

func (c *CachedGeocoder) ReverseRegion(ctx context.Context, lat, lng float64) (string, error) {
	key := fmt.Sprintf("%.2f,%.2f", lat, lng)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return v.(string), nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	name, err := c.inner.ReverseRegion(ctx, lat, lng)
	if err != nil {
		return "", err
	}
	// Empty answers are not cached so a transient miss can be retried.
	if name != "" {
		c.cache.Add(key, name)
	}
	return name, nil
}
