package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Sweeper re-evaluates every tracked crisis partition.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// CrisisSweep returns the periodic crisis re-evaluation job.
func CrisisSweep(schedule string, s Sweeper, logger *slog.Logger) Job {
	return Job{
		Name:     "crisis_sweep",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			if n := s.Sweep(ctx); n > 0 {
				logger.Debug("crisis sweep", "evaluated", n)
			}
			return ctx.Err()
		},
	}
}

// WeatherRefresher refreshes expired weather buckets.
type WeatherRefresher interface {
	RefreshExpired(ctx context.Context) int
}

// WeatherRefresh returns the periodic weather polling job.
func WeatherRefresh(schedule string, w WeatherRefresher, logger *slog.Logger) Job {
	return Job{
		Name:     "weather_refresh",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			if n := w.RefreshExpired(ctx); n > 0 {
				logger.Debug("weather refreshed", "buckets", n)
			}
			return ctx.Err()
		},
	}
}

// Maintenance collaborators.
type (
	Pruner       interface{ Prune(cutoff time.Time) int }
	Compacter    interface{ Compact() int }
	Expirer      interface{ ExpireStale(ctx context.Context) int }
	CacheSweeper interface{ Sweep() int }
)

// Maintenance evicts data past the signal retention window, forgets quiet
// crisis partitions, closes expired alerts, and drops expired cache entries.
type Maintenance struct {
	Reports   Pruner
	Fires     Pruner
	Crisis    Compacter
	Alerts    Expirer
	Cache     CacheSweeper // optional
	Retention time.Duration
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

// Job wraps the maintenance pass as a scheduled job.
func (m Maintenance) Job(schedule string) Job {
	return Job{Name: "maintenance", Schedule: schedule, Run: m.Run}
}

// Run performs one maintenance pass.
func (m Maintenance) Run(ctx context.Context) error {
	cutoff := m.Clock.Now().Add(-m.Retention)
	reports := m.Reports.Prune(cutoff)
	fires := m.Fires.Prune(cutoff)
	alerts := m.Alerts.ExpireStale(ctx)
	partitions := m.Crisis.Compact()
	var cached int
	if m.Cache != nil {
		cached = m.Cache.Sweep()
	}
	m.Logger.Info("maintenance complete",
		"reports_pruned", reports,
		"fires_pruned", fires,
		"alerts_expired", alerts,
		"partitions_forgotten", partitions,
		"cache_evicted", cached,
	)
	return ctx.Err()
}
