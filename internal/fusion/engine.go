// Package fusion combines fire, report, and weather signals into a risk
// assessment, optionally scored by an external oracle.
package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/cache"
	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/spatial"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// FireSource returns fire detections near a point.
type FireSource interface {
	Nearby(center domain.Location, radiusKm float64) []domain.FireDetection
}

// ReportSource returns recent reports of a partition cell.
type ReportSource interface {
	InCell(cell string, since time.Time) []domain.Report
}

// WeatherSource returns the current weather at a point.
type WeatherSource interface {
	Current(ctx context.Context, loc *domain.Location) (domain.WeatherSnapshot, error)
}

// Oracle is an external risk scorer. It may be slow or unavailable.
type Oracle interface {
	Score(ctx context.Context, in OracleInput) (OracleResult, error)
}

// OracleInput is the evidence handed to the oracle.
type OracleInput struct {
	Location        domain.Location      `json:"location"`
	AnalysisType    string               `json:"analysisType"`
	Partition       string               `json:"partition"`
	FireCount       int                  `json:"fireCount"`
	NearestFireKm   *float64             `json:"nearestFireKm,omitempty"`
	ReportCount     int                  `json:"reportCount"`
	HighestSeverity domain.Severity      `json:"highestSeverity,omitempty"`
	Weather         *domain.WeatherBrief `json:"weather,omitempty"`
	HeuristicScore  float64              `json:"heuristicScore"`
}

// OracleResult is the oracle's answer. Confidence is clamped by the engine.
type OracleResult struct {
	Confidence      float64  `json:"confidence"`
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
}

// Config tunes the engine. Budget bounds a whole assessment: inputs get at
// most InputTimeout of it and the oracle gets whatever remains, capped at
// OracleTimeout.
type Config struct {
	RadiusKm      float64
	OracleTimeout time.Duration
	InputTimeout  time.Duration
	Budget        time.Duration
	CacheWindow   time.Duration
	ReportWindow  time.Duration
}

const defaultBudget = 4 * time.Second

func (c Config) budget() time.Duration {
	if c.Budget <= 0 {
		return defaultBudget
	}
	return c.Budget
}

func (c Config) inputTimeout() time.Duration {
	if c.InputTimeout <= 0 || c.InputTimeout >= c.budget() {
		return c.budget() / 4
	}
	return c.InputTimeout
}

// profile weights the heuristic components of an analysis type.
type profile struct {
	fire, reports, weather float64
}

var profiles = map[string]profile{
	domain.DefaultAnalysisType: {fire: 0.5, reports: 0.3, weather: 0.2},
	"fire-risk":                {fire: 0.6, reports: 0.2, weather: 0.2},
	"weather-risk":             {fire: 0.2, reports: 0.2, weather: 0.6},
}

func profileFor(analysisType string) profile {
	if p, ok := profiles[analysisType]; ok {
		return p
	}
	return profiles[domain.DefaultAnalysisType]
}

// Engine produces risk assessments. The heuristic is always computed so an
// oracle timeout or error still yields a result.
type Engine struct {
	cfg     Config
	fires   FireSource
	reports ReportSource
	weather WeatherSource
	oracle  Oracle
	kv      cache.KV
	group   singleflight.Group
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewEngine creates an engine. oracle and weather may be nil.
func NewEngine(cfg Config, fires FireSource, reports ReportSource, weather WeatherSource, oracle Oracle, kv cache.KV, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		cfg:     cfg,
		fires:   fires,
		reports: reports,
		weather: weather,
		oracle:  oracle,
		kv:      kv,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Assess returns the fused risk for loc. Results are cached per partition
// cell and time window; concurrent requests for the same key share one
// computation.
func (e *Engine) Assess(ctx context.Context, loc domain.Location, analysisType string) (domain.RiskAssessment, error) {
	if err := loc.Validate(); err != nil {
		return domain.RiskAssessment{}, err
	}
	analysisType = strings.ToLower(strings.TrimSpace(analysisType))
	if analysisType == "" {
		analysisType = domain.DefaultAnalysisType
	}

	now := e.clock.Now().UTC()
	cell := spatial.KeyOfLocation(loc).Cell
	key := e.cacheKey(analysisType, cell, now)

	if ra, ok := e.cached(ctx, key); ok {
		ra.Location = loc
		return ra, nil
	}

	// The shared computation is bounded by the budget rather than by the
	// first caller, so a caller that goes away does not poison the others.
	ch := e.group.DoChan(key, func() (any, error) {
		detached := context.WithoutCancel(ctx)
		cctx, cancel := context.WithTimeout(detached, e.cfg.budget())
		defer cancel()
		ra, complete := e.compute(cctx, loc, cell, analysisType)
		if complete {
			e.store(detached, key, ra)
		}
		return ra, nil
	})
	select {
	case res := <-ch:
		ra := res.Val.(domain.RiskAssessment)
		ra.Location = loc
		return ra, nil
	case <-ctx.Done():
		return domain.RiskAssessment{}, ctx.Err()
	}
}

func (e *Engine) cacheKey(analysisType, cell string, now time.Time) string {
	window := e.cfg.CacheWindow
	if window <= 0 {
		window = time.Minute
	}
	return fmt.Sprintf("risk:%s:%s:%d", analysisType, cell, now.UnixNano()/int64(window))
}

func (e *Engine) cached(ctx context.Context, key string) (domain.RiskAssessment, bool) {
	if e.kv == nil {
		return domain.RiskAssessment{}, false
	}
	raw, err := e.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			e.metrics.FusionCache.WithLabelValues("error").Inc()
			e.logger.Warn("fusion cache read failed", "key", key, "error", err)
		} else {
			e.metrics.FusionCache.WithLabelValues("miss").Inc()
		}
		return domain.RiskAssessment{}, false
	}
	var ra domain.RiskAssessment
	if err := json.Unmarshal([]byte(raw), &ra); err != nil {
		e.metrics.FusionCache.WithLabelValues("error").Inc()
		return domain.RiskAssessment{}, false
	}
	e.metrics.FusionCache.WithLabelValues("hit").Inc()
	return ra, true
}

func (e *Engine) store(ctx context.Context, key string, ra domain.RiskAssessment) {
	if e.kv == nil {
		return
	}
	data, err := json.Marshal(ra)
	if err != nil {
		return
	}
	if err := e.kv.Set(ctx, key, string(data), e.cfg.CacheWindow); err != nil {
		e.logger.Warn("fusion cache write failed", "key", key, "error", err)
	}
}

type inputs struct {
	fires    []domain.FireDetection
	reports  []domain.Report
	weather  *domain.WeatherSnapshot
	complete bool
}

// gather collects the inputs concurrently and returns what arrived before the
// input deadline. Late sources are left out of the assessment.
func (e *Engine) gather(ctx context.Context, loc domain.Location, cell string, now time.Time) inputs {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.inputTimeout())
	defer cancel()

	fires := make(chan []domain.FireDetection, 1)
	reports := make(chan []domain.Report, 1)
	weather := make(chan *domain.WeatherSnapshot, 1)

	go func() { fires <- e.fires.Nearby(loc, e.cfg.RadiusKm) }()
	go func() { reports <- e.reports.InCell(cell, now.Add(-e.cfg.ReportWindow)) }()
	if e.weather == nil {
		weather <- nil
	} else {
		go func() {
			snap, err := e.weather.Current(ctx, &loc)
			if err != nil {
				e.logger.Debug("weather unavailable for assessment", "partition", cell, "error", err)
				weather <- nil
				return
			}
			weather <- &snap
		}()
	}

	var in inputs
	for range 3 {
		select {
		case f := <-fires:
			in.fires = f
		case r := <-reports:
			in.reports = r
		case w := <-weather:
			in.weather = w
		case <-ctx.Done():
			e.logger.Warn("assessment inputs incomplete at deadline", "partition", cell)
			return in
		}
	}
	in.complete = true
	return in
}

// compute reports whether every input arrived in time; partial results are
// not cached.
func (e *Engine) compute(ctx context.Context, loc domain.Location, cell, analysisType string) (domain.RiskAssessment, bool) {
	now := e.clock.Now().UTC()
	in := e.gather(ctx, loc, cell, now)

	f := domain.Findings{
		Partition: cell,
		FireCount: len(in.fires),
		Signals: domain.SignalScores{
			Fire:    fireScore(loc, in.fires, e.cfg.RadiusKm),
			Reports: reportScore(in.reports),
		},
		ReportCount: len(in.reports),
	}
	if len(in.fires) > 0 {
		d := domain.DistanceKm(loc, in.fires[0].Location())
		f.NearestFireKm = &d
	}
	for _, r := range in.reports {
		if r.Severity.Rank() > f.HighestSeverity.Rank() {
			f.HighestSeverity = r.Severity
		}
	}
	if in.weather != nil {
		f.Signals.Weather = weatherScore(*in.weather)
		f.Weather = &domain.WeatherBrief{
			Temperature: in.weather.Temperature,
			Humidity:    in.weather.Humidity,
			WindSpeed:   in.weather.WindSpeed,
			Description: in.weather.Description,
			Stale:       in.weather.Stale,
		}
	}

	p := profileFor(analysisType)
	f.ComponentWeights = map[string]float64{"fire": p.fire, "reports": p.reports, "weather": p.weather}
	heuristic := clamp01(p.fire*f.Signals.Fire + p.reports*f.Signals.Reports + p.weather*f.Signals.Weather)

	confidence := heuristic
	f.Source = domain.ScoreSourceHeuristic
	f.Summary = heuristicSummary(f)
	f.Recommendations = recommendations(f.Signals)

	if e.oracle != nil {
		res, err := e.callOracle(ctx, OracleInput{
			Location:        loc,
			AnalysisType:    analysisType,
			Partition:       cell,
			FireCount:       f.FireCount,
			NearestFireKm:   f.NearestFireKm,
			ReportCount:     f.ReportCount,
			HighestSeverity: f.HighestSeverity,
			Weather:         f.Weather,
			HeuristicScore:  heuristic,
		})
		if err != nil {
			f.OracleError = err.Error()
			e.logger.Warn("oracle unavailable, using heuristic score", "partition", cell, "error", err)
		} else {
			confidence = clamp01(res.Confidence)
			f.Source = domain.ScoreSourceOracle
			if res.Summary != "" {
				f.Summary = res.Summary
			}
			if len(res.Recommendations) > 0 {
				f.Recommendations = res.Recommendations
			}
		}
	}

	f.RiskLevel = domain.RiskLevelFor(confidence)
	e.metrics.Assessments.WithLabelValues(f.Source).Inc()
	return domain.RiskAssessment{
		Location:     loc,
		AnalysisType: analysisType,
		Confidence:   confidence,
		Findings:     f,
		AssessedAt:   now,
	}, in.complete
}

// callOracle races the oracle against OracleTimeout or the remaining budget,
// whichever ends first. The oracle's context is cancelled when callOracle
// returns, and the result channel is buffered so a late answer never blocks
// the oracle goroutine.
func (e *Engine) callOracle(ctx context.Context, in OracleInput) (OracleResult, error) {
	if ctx.Err() != nil {
		e.metrics.OracleCalls.WithLabelValues("timeout").Inc()
		return OracleResult{}, domain.ErrTimeoutExceeded
	}
	octx, cancel := context.WithTimeout(ctx, e.cfg.OracleTimeout)
	defer cancel()

	type answer struct {
		res OracleResult
		err error
	}
	ch := make(chan answer, 1)
	start := e.clock.Now()
	go func() {
		res, err := e.oracle.Score(octx, in)
		ch <- answer{res, err}
	}()

	select {
	case a := <-ch:
		e.metrics.OracleDuration.Observe(e.clock.Since(start).Seconds())
		if a.err != nil {
			if errors.Is(a.err, context.DeadlineExceeded) {
				e.metrics.OracleCalls.WithLabelValues("timeout").Inc()
				return OracleResult{}, domain.ErrTimeoutExceeded
			}
			e.metrics.OracleCalls.WithLabelValues("error").Inc()
			return OracleResult{}, a.err
		}
		if math.IsNaN(a.res.Confidence) {
			e.metrics.OracleCalls.WithLabelValues("error").Inc()
			return OracleResult{}, errors.New("oracle returned NaN confidence")
		}
		e.metrics.OracleCalls.WithLabelValues("success").Inc()
		return a.res, nil
	case <-octx.Done():
		e.metrics.OracleCalls.WithLabelValues("timeout").Inc()
		return OracleResult{}, domain.ErrTimeoutExceeded
	}
}
