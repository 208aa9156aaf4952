// Package weather caches point weather snapshots per coarse location bucket.
package weather

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// bucketsPerDegree sets the bucket size to 0.1 degree (about 11 km).
const bucketsPerDegree = 10

const source = "weather"

// Provider fetches current conditions from an external weather service.
type Provider interface {
	Current(ctx context.Context, loc domain.Location) (domain.WeatherSnapshot, error)
}

type entry struct {
	center domain.Location
	snap   atomic.Pointer[domain.WeatherSnapshot]
}

// Cache holds one live snapshot per bucket. Concurrent misses on a bucket
// share a single provider call.
type Cache struct {
	provider Provider
	ttl      time.Duration
	entries  sync.Map // bucket -> *entry
	group    singleflight.Group
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewCache creates a cache whose entries expire ttl after they were fetched.
func NewCache(provider Provider, ttl time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Cache {
	return &Cache{
		provider: provider,
		ttl:      ttl,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// Current returns the weather for loc. When the provider fails it serves the
// last known snapshot marked stale, or an UpstreamUnavailableError if the
// bucket was never fetched.
func (c *Cache) Current(ctx context.Context, loc *domain.Location) (domain.WeatherSnapshot, error) {
	if loc == nil {
		return domain.WeatherSnapshot{}, &domain.MissingParameterError{Param: "location"}
	}
	if err := loc.Validate(); err != nil {
		return domain.WeatherSnapshot{}, err
	}

	key, center := bucketOf(*loc)
	e := c.entry(key, center)
	if snap := e.snap.Load(); snap != nil && c.fresh(snap) {
		c.metrics.WeatherLookups.WithLabelValues("cached").Inc()
		return *snap, nil
	}

	// The shared fetch outlives any single caller's cancellation; a caller
	// that gives up first gets the last known value or an upstream error.
	ch := c.group.DoChan(key, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), key, e)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.WeatherSnapshot{}, res.Err
		}
		return res.Val.(domain.WeatherSnapshot), nil
	case <-ctx.Done():
		return c.abandoned(key, e, ctx.Err())
	}
}

// abandoned answers a caller whose context ended while a refresh was in flight.
func (c *Cache) abandoned(key string, e *entry, err error) (domain.WeatherSnapshot, error) {
	prev := e.snap.Load()
	if prev == nil {
		c.metrics.WeatherLookups.WithLabelValues("error").Inc()
		return domain.WeatherSnapshot{}, &domain.UpstreamUnavailableError{Source: source, Err: err}
	}
	c.metrics.WeatherLookups.WithLabelValues("stale").Inc()
	c.logger.Debug("weather refresh still in flight, serving last value", "bucket", key)
	return c.staleCopy(prev, "refresh in progress"), nil
}

func (c *Cache) staleCopy(prev *domain.WeatherSnapshot, reason string) domain.WeatherSnapshot {
	stale := *prev
	stale.Stale = true
	stale.Warning = &domain.StaleDataWarning{
		Source:    source,
		FetchedAt: prev.FetchedAt,
		Reason:    reason,
	}
	return stale
}

// RefreshExpired refetches every expired bucket and returns how many were
// refreshed successfully.
func (c *Cache) RefreshExpired(ctx context.Context) int {
	refreshed := 0
	c.entries.Range(func(k, v any) bool {
		if ctx.Err() != nil {
			return false
		}
		key, e := k.(string), v.(*entry)
		if snap := e.snap.Load(); snap != nil && c.fresh(snap) {
			return true
		}
		res, err, _ := c.group.Do(key, func() (any, error) {
			return c.refresh(ctx, key, e)
		})
		if err == nil && !res.(domain.WeatherSnapshot).Stale {
			refreshed++
		}
		return true
	})
	return refreshed
}

// Len returns the number of tracked buckets.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (c *Cache) refresh(ctx context.Context, key string, e *entry) (domain.WeatherSnapshot, error) {
	prev := e.snap.Load()
	if prev != nil && c.fresh(prev) {
		return *prev, nil
	}

	snap, err := c.provider.Current(ctx, e.center)
	if err == nil {
		snap.Location = e.center
		snap.FetchedAt = c.clock.Now().UTC()
		if snap.Timestamp.IsZero() {
			snap.Timestamp = snap.FetchedAt
		}
		snap.Stale = false
		snap.Warning = nil
		e.snap.Store(&snap)
		c.metrics.WeatherLookups.WithLabelValues("fresh").Inc()
		return snap, nil
	}

	if prev == nil {
		c.metrics.WeatherLookups.WithLabelValues("error").Inc()
		c.logger.Warn("weather fetch failed, no cached value", "bucket", key, "error", err)
		return domain.WeatherSnapshot{}, &domain.UpstreamUnavailableError{Source: source, Err: err}
	}

	stale := c.staleCopy(prev, fmt.Sprintf("provider error: %v", err))
	c.metrics.WeatherLookups.WithLabelValues("stale").Inc()
	c.logger.Warn("weather fetch failed, serving stale value",
		"bucket", key,
		"fetched_at", prev.FetchedAt,
		"error", err,
	)
	return stale, nil
}

func (c *Cache) fresh(s *domain.WeatherSnapshot) bool {
	return c.clock.Since(s.FetchedAt) < c.ttl
}

func (c *Cache) entry(key string, center domain.Location) *entry {
	if v, ok := c.entries.Load(key); ok {
		return v.(*entry)
	}
	v, _ := c.entries.LoadOrStore(key, &entry{center: center})
	return v.(*entry)
}

// bucketOf returns the bucket key of loc and the bucket's representative point.
func bucketOf(loc domain.Location) (string, domain.Location) {
	lat := math.Round(loc.Lat * bucketsPerDegree)
	lng := math.Round(loc.Lng * bucketsPerDegree)
	if lng == 180*bucketsPerDegree {
		lng = -180 * bucketsPerDegree
	}
	key := fmt.Sprintf("%d:%d", int(lat), int(lng))
	return key, domain.Location{Lat: lat / bucketsPerDegree, Lng: lng / bucketsPerDegree}
}
