// Package crisis runs the per-partition crisis state machine.
//
// Every partition cell starts out normal. Its score is the decayed weighted
// sum of the signals observed in it; rising above a threshold moves the
// partition up immediately, while moving down requires the score to stay
// below the threshold for a cool-down period and happens one level at a time.
package crisis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/spatial"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// AlertSink opens and closes the public alert of a partition.
type AlertSink interface {
	OpenOrRefresh(ctx context.Context, cell string, severity domain.Severity, d domain.AlertDescriptor) (domain.Alert, error)
	Close(ctx context.Context, cell string) (domain.Alert, bool)
}

// Prober supplies a fused risk assessment for a location. Sweeps blend it
// into the signal score.
type Prober interface {
	Assess(ctx context.Context, loc domain.Location, analysisType string) (domain.RiskAssessment, error)
}

// Config holds the thresholds and time constants of the state machine.
type Config struct {
	ElevatedThreshold float64
	CrisisThreshold   float64
	HalfLife          time.Duration
	Cooldown          time.Duration
	Retention         time.Duration
	// UrgentWindow is how long an urgent critical signal holds or raises a
	// partition regardless of score. Zero selects HalfLife.
	UrgentWindow time.Duration
	// SweepConcurrency bounds how many partitions a sweep evaluates at once.
	SweepConcurrency int
}

// allowed lists the edges of the state machine. Crisis never drops straight to normal.
var allowed = map[domain.CrisisLevel][]domain.CrisisLevel{
	domain.LevelNormal:   {domain.LevelElevated},
	domain.LevelElevated: {domain.LevelCrisis, domain.LevelNormal},
	domain.LevelCrisis:   {domain.LevelElevated},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to domain.CrisisLevel) bool {
	for _, l := range allowed[from] {
		if l == to {
			return true
		}
	}
	return false
}

type partition struct {
	mu               sync.Mutex
	cell             string
	level            domain.CrisisLevel
	score            float64
	lastTransitionAt time.Time
	evaluatedAt      time.Time
	belowSince       time.Time
	signals          []domain.Signal
	dirty            bool
	retired          bool

	snapshot atomic.Pointer[domain.CrisisState]
}

func (p *partition) publishLocked() {
	p.snapshot.Store(&domain.CrisisState{
		Partition:        p.cell,
		Level:            p.level,
		Score:            p.score,
		LastTransitionAt: p.lastTransitionAt,
		EvaluatedAt:      p.evaluatedAt,
	})
}

// Controller owns the crisis state of every partition cell. Updates are
// serialized per partition; partitions never share a lock.
type Controller struct {
	cfg        Config
	partitions sync.Map // cell -> *partition
	alerts     AlertSink
	prober     Prober
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewController creates a controller. prober may be nil.
func NewController(cfg Config, alerts AlertSink, prober Prober, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Controller {
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 8
	}
	return &Controller{
		cfg:     cfg,
		alerts:  alerts,
		prober:  prober,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Notify records a signal for the partition of key. An immediate signal is
// evaluated before Notify returns; others wait for the next sweep.
func (c *Controller) Notify(ctx context.Context, key domain.PartitionKey, sig domain.Signal, immediate bool) error {
	p := c.lock(key.Cell)
	defer p.mu.Unlock()

	p.signals = append(p.signals, sig)
	p.dirty = true
	if !immediate {
		return nil
	}
	return c.evaluateLocked(ctx, p, 0)
}

// NotifyBatch records a batch of signals and evaluates each touched
// partition once.
func (c *Controller) NotifyBatch(ctx context.Context, batch []domain.PartitionSignal) error {
	byCell := make(map[string][]domain.Signal)
	var order []string
	for _, ps := range batch {
		if _, ok := byCell[ps.Key.Cell]; !ok {
			order = append(order, ps.Key.Cell)
		}
		byCell[ps.Key.Cell] = append(byCell[ps.Key.Cell], ps.Signal)
	}

	var firstErr error
	for _, cell := range order {
		p := c.lock(cell)
		p.signals = append(p.signals, byCell[cell]...)
		p.dirty = true
		if err := c.evaluateLocked(ctx, p, 0); err != nil && firstErr == nil {
			firstErr = err
		}
		p.mu.Unlock()
	}
	return firstErr
}

// Evaluate re-runs the state machine for cell.
func (c *Controller) Evaluate(ctx context.Context, cell string) error {
	p := c.lock(cell)
	defer p.mu.Unlock()
	return c.evaluateLocked(ctx, p, 0)
}

// Sweep evaluates every partition that has new signals or is not normal and
// returns how many it evaluated. The fusion probe runs outside the partition
// lock; a failed probe leaves the signal score unchanged.
func (c *Controller) Sweep(ctx context.Context) int {
	var due []*partition
	c.partitions.Range(func(_, v any) bool {
		p := v.(*partition)
		p.mu.Lock()
		if p.dirty || p.level != domain.LevelNormal {
			due = append(due, p)
		}
		p.mu.Unlock()
		return true
	})

	var g errgroup.Group
	g.SetLimit(c.cfg.SweepConcurrency)
	for _, p := range due {
		g.Go(func() error {
			boost := c.probe(ctx, p.cell)
			q := c.lock(p.cell)
			defer q.mu.Unlock()
			if err := c.evaluateLocked(ctx, q, boost); err != nil {
				c.logger.Warn("crisis evaluation failed", "partition", q.cell, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(due)
}

// Compact drops signals older than the retention window and forgets normal
// partitions left without signals. It returns the number of partitions forgotten.
func (c *Controller) Compact() int {
	now := c.clock.Now().UTC()
	forgotten := 0
	c.partitions.Range(func(k, v any) bool {
		p := v.(*partition)
		p.mu.Lock()
		c.pruneLocked(p, now)
		if p.level == domain.LevelNormal && len(p.signals) == 0 && !p.dirty {
			p.retired = true
			c.partitions.Delete(k)
			c.metrics.PartitionsByLevel.WithLabelValues(string(domain.LevelNormal)).Dec()
			forgotten++
		}
		p.mu.Unlock()
		return true
	})
	return forgotten
}

// State returns the last evaluated state of cell. Unknown cells are normal.
func (c *Controller) State(cell string) domain.CrisisState {
	if v, ok := c.partitions.Load(cell); ok {
		if s := v.(*partition).snapshot.Load(); s != nil {
			return *s
		}
	}
	return domain.CrisisState{Partition: cell, Level: domain.LevelNormal}
}

// States returns the state of every tracked partition, ordered by cell.
func (c *Controller) States() []domain.CrisisState {
	var out []domain.CrisisState
	c.partitions.Range(func(_, v any) bool {
		if s := v.(*partition).snapshot.Load(); s != nil {
			out = append(out, *s)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out
}

// lock returns the live partition of cell with its mutex held.
func (c *Controller) lock(cell string) *partition {
	for {
		v, loaded := c.partitions.LoadOrStore(cell, &partition{cell: cell, level: domain.LevelNormal})
		p := v.(*partition)
		p.mu.Lock()
		if p.retired {
			p.mu.Unlock()
			continue
		}
		if !loaded {
			c.metrics.PartitionsByLevel.WithLabelValues(string(domain.LevelNormal)).Inc()
			p.publishLocked()
		}
		return p
	}
}

func (c *Controller) probe(ctx context.Context, cell string) float64 {
	if c.prober == nil {
		return 0
	}
	ra, err := c.prober.Assess(ctx, spatial.CellCenter(cell), domain.DefaultAnalysisType)
	if err != nil {
		c.logger.Debug("fusion probe failed, using signal score", "partition", cell, "error", err)
		return 0
	}
	conf := math.Max(0, math.Min(1, ra.Confidence))
	if ra.Findings.Source != domain.ScoreSourceOracle && conf < 0.5 {
		return 0
	}
	return conf * c.cfg.ElevatedThreshold
}

func (c *Controller) pruneLocked(p *partition, now time.Time) {
	cutoff := now.Add(-c.cfg.Retention)
	kept := p.signals[:0]
	for _, s := range p.signals {
		if s.At.After(cutoff) {
			kept = append(kept, s)
		}
	}
	clear(p.signals[len(kept):])
	p.signals = kept
}

// score returns the decayed weighted sum of the partition's signals and
// whether any of them is a critical signal still inside the urgent window.
func (c *Controller) score(signals []domain.Signal, now time.Time) (float64, bool) {
	var total float64
	critical := false
	for _, s := range signals {
		age := now.Sub(s.At)
		total += s.Weight * c.decay(age)
		critical = critical || (s.Critical && age < c.urgentWindow())
	}
	return total, critical
}

func (c *Controller) urgentWindow() time.Duration {
	if c.cfg.UrgentWindow <= 0 {
		return c.cfg.HalfLife
	}
	return c.cfg.UrgentWindow
}

func (c *Controller) decay(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return math.Exp2(-age.Seconds() / c.cfg.HalfLife.Seconds())
}

func (c *Controller) evaluateLocked(ctx context.Context, p *partition, boost float64) error {
	now := c.clock.Now().UTC()
	c.pruneLocked(p, now)
	score, critical := c.score(p.signals, now)
	p.score = score + boost
	p.evaluatedAt = now
	p.dirty = false
	c.metrics.CrisisEvaluations.Inc()

	from := p.level
	for {
		to := c.raise(p.level, p.score, critical)
		if to == p.level {
			break
		}
		c.transitionLocked(p, to, now)
	}
	if p.level == from {
		c.coolLocked(p, critical, now)
	}
	p.publishLocked()

	switch {
	case p.level != domain.LevelNormal:
		d := c.describe(p, now)
		if _, err := c.alerts.OpenOrRefresh(ctx, p.cell, p.level.AlertSeverity(), d); err != nil {
			return fmt.Errorf("open alert for %s: %w", p.cell, err)
		}
	case from != domain.LevelNormal:
		c.alerts.Close(ctx, p.cell)
	}
	return nil
}

// raise returns the next level up when the score or a critical signal warrants it.
func (c *Controller) raise(level domain.CrisisLevel, score float64, critical bool) domain.CrisisLevel {
	switch level {
	case domain.LevelNormal:
		if score >= c.cfg.ElevatedThreshold || critical {
			return domain.LevelElevated
		}
	case domain.LevelElevated:
		if score >= c.cfg.CrisisThreshold || critical {
			return domain.LevelCrisis
		}
	}
	return level
}

// coolLocked steps the partition down one level once it has stayed below
// its level's threshold for the cool-down period.
func (c *Controller) coolLocked(p *partition, critical bool, now time.Time) {
	below := c.below(p.level, p.score, critical)
	if !below {
		p.belowSince = time.Time{}
		return
	}
	if p.belowSince.IsZero() {
		p.belowSince = now
	}
	if now.Sub(p.belowSince) < c.cfg.Cooldown {
		return
	}

	switch p.level {
	case domain.LevelCrisis:
		c.transitionLocked(p, domain.LevelElevated, now)
	case domain.LevelElevated:
		c.transitionLocked(p, domain.LevelNormal, now)
	}
	p.belowSince = time.Time{}
	if c.below(p.level, p.score, critical) {
		p.belowSince = now
	}
}

func (c *Controller) below(level domain.CrisisLevel, score float64, critical bool) bool {
	switch level {
	case domain.LevelCrisis:
		return score < c.cfg.CrisisThreshold && !critical
	case domain.LevelElevated:
		return score < c.cfg.ElevatedThreshold && !critical
	}
	return false
}

func (c *Controller) transitionLocked(p *partition, to domain.CrisisLevel, now time.Time) {
	from := p.level
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("crisis: illegal transition %s -> %s", from, to))
	}
	p.level = to
	p.lastTransitionAt = now
	p.belowSince = time.Time{}

	c.metrics.CrisisTransitions.WithLabelValues(string(from), string(to)).Inc()
	c.metrics.PartitionsByLevel.WithLabelValues(string(from)).Dec()
	c.metrics.PartitionsByLevel.WithLabelValues(string(to)).Inc()
	c.logger.Info("crisis transition",
		"partition", p.cell,
		"from", from,
		"to", to,
		"score", p.score,
	)
}

func (c *Controller) describe(p *partition, now time.Time) domain.AlertDescriptor {
	byType := make(map[string]float64)
	reports, fires := 0, 0
	for _, s := range p.signals {
		byType[s.HazardType] += s.Weight * c.decay(now.Sub(s.At))
		if s.Source == domain.SourceFire {
			fires++
		} else {
			reports++
		}
	}
	hazard := "hazard"
	best := -1.0
	for t, w := range byType {
		if t == "" {
			continue
		}
		if w > best || (w == best && t < hazard) {
			hazard, best = t, w
		}
	}

	noun := "warning"
	if p.level == domain.LevelCrisis {
		noun = "crisis"
	}
	return domain.AlertDescriptor{
		Title:       fmt.Sprintf("%s %s", capitalize(hazard), noun),
		Description: fmt.Sprintf("Hazard score %.1f in area %s from %d reports and %d fire detections.", p.score, p.cell, reports, fires),
		Type:        hazard,
		Level:       p.level,
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
