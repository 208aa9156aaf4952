package crisis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/alert"
	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/spatial"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)

var testConfig = Config{
	ElevatedThreshold: 4,
	CrisisThreshold:   12,
	HalfLife:          12 * time.Hour,
	Cooldown:          30 * time.Minute,
	Retention:         72 * time.Hour,
	UrgentWindow:      6 * time.Hour,
}

type sinkCall struct {
	op       string
	cell     string
	severity domain.Severity
}

type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *recordingSink) OpenOrRefresh(_ context.Context, cell string, severity domain.Severity, d domain.AlertDescriptor) (domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{op: "open", cell: cell, severity: severity})
	return domain.Alert{Partition: cell, Severity: severity, Title: d.Title}, nil
}

func (s *recordingSink) Close(_ context.Context, cell string) (domain.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{op: "close", cell: cell})
	return domain.Alert{Partition: cell}, true
}

func (s *recordingSink) last() sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return sinkCall{}
	}
	return s.calls[len(s.calls)-1]
}

type stubProber struct {
	ra  domain.RiskAssessment
	err error
}

func (p stubProber) Assess(context.Context, domain.Location, string) (domain.RiskAssessment, error) {
	return p.ra, p.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(sink AlertSink, prober Prober) (*Controller, *clockwork.FakeClock, *observability.Metrics) {
	clk := clockwork.NewFakeClockAt(start)
	m := observability.NewMetricsForTesting()
	return NewController(testConfig, sink, prober, clk, discardLogger(), m), clk, m
}

var laKey = spatial.KeyOf(34.052235, -118.243683)

func reportSignal(clk clockwork.Clock, sev domain.Severity, urgent domain.Severity) domain.Signal {
	return domain.ReportSignal(domain.Report{
		ID:          "r-" + string(sev),
		HazardType:  "wildfire",
		Severity:    sev,
		UrgentLevel: urgent,
		CreatedAt:   clk.Now().UTC(),
	})
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.CrisisLevel
		want     bool
	}{
		{domain.LevelNormal, domain.LevelElevated, true},
		{domain.LevelElevated, domain.LevelCrisis, true},
		{domain.LevelCrisis, domain.LevelElevated, true},
		{domain.LevelElevated, domain.LevelNormal, true},
		{domain.LevelCrisis, domain.LevelNormal, false},
		{domain.LevelNormal, domain.LevelCrisis, false},
		{domain.LevelNormal, domain.LevelNormal, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestController_UrgentReportRaisesCrisisImmediately(t *testing.T) {
	sink := &recordingSink{}
	c, clk, m := newTestController(sink, nil)

	err := c.Notify(context.Background(), laKey, reportSignal(clk, domain.SeverityCritical, domain.SeverityCritical), true)
	require.NoError(t, err)

	st := c.State(laKey.Cell)
	assert.Equal(t, domain.LevelCrisis, st.Level)
	assert.InDelta(t, 8, st.Score, 1e-9)
	assert.Equal(t, sinkCall{op: "open", cell: laKey.Cell, severity: domain.SeverityCritical}, sink.last())

	assert.InDelta(t, 1, testutil.ToFloat64(m.CrisisTransitions.WithLabelValues("normal", "elevated")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CrisisTransitions.WithLabelValues("elevated", "crisis")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PartitionsByLevel.WithLabelValues("crisis")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.PartitionsByLevel.WithLabelValues("normal")), 0)
}

func TestController_DeferredSignalWaitsForSweep(t *testing.T) {
	sink := &recordingSink{}
	c, clk, _ := newTestController(sink, nil)
	ctx := context.Background()

	require.NoError(t, c.Notify(ctx, laKey, reportSignal(clk, domain.SeverityHigh, ""), false))
	assert.Equal(t, domain.LevelNormal, c.State(laKey.Cell).Level)
	assert.Empty(t, sink.calls)

	assert.Equal(t, 1, c.Sweep(ctx))
	assert.Equal(t, domain.LevelElevated, c.State(laKey.Cell).Level)
	assert.Equal(t, sinkCall{op: "open", cell: laKey.Cell, severity: domain.SeverityHigh}, sink.last())
}

func TestController_HysteresisStepsDownOneLevelAtATime(t *testing.T) {
	sink := &recordingSink{}
	c, clk, _ := newTestController(sink, nil)
	ctx := context.Background()

	sig := reportSignal(clk, domain.SeverityCritical, "")
	require.NoError(t, c.Notify(ctx, laKey, sig, false))
	require.NoError(t, c.Notify(ctx, laKey, sig, true))
	require.Equal(t, domain.LevelCrisis, c.State(laKey.Cell).Level)

	// 16 * 2^(-30/12) is below both thresholds.
	clk.Advance(30 * time.Hour)
	require.NoError(t, c.Evaluate(ctx, laKey.Cell))
	assert.Equal(t, domain.LevelCrisis, c.State(laKey.Cell).Level, "cool-down has not elapsed")

	clk.Advance(31 * time.Minute)
	require.NoError(t, c.Evaluate(ctx, laKey.Cell))
	assert.Equal(t, domain.LevelElevated, c.State(laKey.Cell).Level, "crisis never drops straight to normal")
	assert.Equal(t, domain.SeverityHigh, sink.last().severity)

	require.NoError(t, c.Evaluate(ctx, laKey.Cell))
	assert.Equal(t, domain.LevelElevated, c.State(laKey.Cell).Level)

	clk.Advance(31 * time.Minute)
	require.NoError(t, c.Evaluate(ctx, laKey.Cell))
	assert.Equal(t, domain.LevelNormal, c.State(laKey.Cell).Level)
	assert.Equal(t, sinkCall{op: "close", cell: laKey.Cell}, sink.last())
}

func TestController_RisingScoreResetsCooldown(t *testing.T) {
	sink := &recordingSink{}
	c, clk, _ := newTestController(sink, nil)
	ctx := context.Background()

	require.NoError(t, c.Notify(ctx, laKey, reportSignal(clk, domain.SeverityHigh, ""), true))
	require.Equal(t, domain.LevelElevated, c.State(laKey.Cell).Level)

	clk.Advance(time.Hour) // 4 * 2^(-1/12) < 4
	require.NoError(t, c.Evaluate(ctx, laKey.Cell))

	clk.Advance(20 * time.Minute)
	require.NoError(t, c.Notify(ctx, laKey, reportSignal(clk, domain.SeverityLow, ""), true))

	clk.Advance(20 * time.Minute)
	require.NoError(t, c.Evaluate(ctx, laKey.Cell))
	assert.Equal(t, domain.LevelElevated, c.State(laKey.Cell).Level, "score went back above the threshold")
}

func TestController_CriticalSignalHoldsCrisisWithinUrgentWindow(t *testing.T) {
	sink := &recordingSink{}
	c, clk, _ := newTestController(sink, nil)
	ctx := context.Background()

	require.NoError(t, c.Notify(ctx, laKey, reportSignal(clk, domain.SeverityLow, domain.SeverityCritical), true))
	assert.Equal(t, domain.LevelCrisis, c.State(laKey.Cell).Level)

	clk.Advance(5 * time.Hour)
	require.NoError(t, c.Evaluate(ctx, laKey.Cell))
	clk.Advance(50 * time.Minute)
	require.NoError(t, c.Evaluate(ctx, laKey.Cell))
	assert.Equal(t, domain.LevelCrisis, c.State(laKey.Cell).Level, "urgent flag still active")

	// Past the urgent window only the decayed score counts.
	clk.Advance(20 * time.Minute)
	require.NoError(t, c.Evaluate(ctx, laKey.Cell))
	assert.Equal(t, domain.LevelCrisis, c.State(laKey.Cell).Level, "cool-down still running")
	clk.Advance(31 * time.Minute)
	require.NoError(t, c.Evaluate(ctx, laKey.Cell))
	assert.Equal(t, domain.LevelElevated, c.State(laKey.Cell).Level)
	clk.Advance(31 * time.Minute)
	require.NoError(t, c.Evaluate(ctx, laKey.Cell))
	assert.Equal(t, domain.LevelNormal, c.State(laKey.Cell).Level)
	assert.Equal(t, "close", sink.last().op)
}

func TestController_NotifyBatch(t *testing.T) {
	sink := &recordingSink{}
	c, clk, _ := newTestController(sink, nil)

	other := spatial.KeyOf(36.17, -115.14)
	fire := func(id string, conf string) domain.Signal {
		return domain.FireSignal(domain.FireDetection{ID: id, Confidence: conf, AcquiredAt: clk.Now()})
	}
	batch := []domain.PartitionSignal{
		{Key: laKey, Signal: fire("a", "h")},
		{Key: other, Signal: fire("b", "l")},
		{Key: laKey, Signal: fire("c", "n")},
	}
	require.NoError(t, c.NotifyBatch(context.Background(), batch))

	assert.Equal(t, domain.LevelElevated, c.State(laKey.Cell).Level)
	assert.InDelta(t, 6, c.State(laKey.Cell).Score, 1e-9)
	assert.Equal(t, domain.LevelNormal, c.State(other.Cell).Level)
	assert.Len(t, c.States(), 2)
}

func TestController_SweepBlendsFusion(t *testing.T) {
	oracle := stubProber{ra: domain.RiskAssessment{Confidence: 1, Findings: domain.Findings{Source: domain.ScoreSourceOracle}}}
	c, clk, _ := newTestController(&recordingSink{}, oracle)
	ctx := context.Background()

	require.NoError(t, c.Notify(ctx, laKey, reportSignal(clk, domain.SeverityLow, ""), false))
	c.Sweep(ctx)
	st := c.State(laKey.Cell)
	assert.InDelta(t, 5, st.Score, 1e-9)
	assert.Equal(t, domain.LevelElevated, st.Level)
}

func TestController_SweepIgnoresWeakOrFailedFusion(t *testing.T) {
	tests := map[string]Prober{
		"error":          stubProber{err: errors.New("boom")},
		"weak heuristic": stubProber{ra: domain.RiskAssessment{Confidence: 0.4, Findings: domain.Findings{Source: domain.ScoreSourceHeuristic}}},
	}
	for name, prober := range tests {
		t.Run(name, func(t *testing.T) {
			c, clk, _ := newTestController(&recordingSink{}, prober)
			ctx := context.Background()
			require.NoError(t, c.Notify(ctx, laKey, reportSignal(clk, domain.SeverityLow, ""), false))
			c.Sweep(ctx)
			st := c.State(laKey.Cell)
			assert.InDelta(t, 1, st.Score, 1e-9)
			assert.Equal(t, domain.LevelNormal, st.Level)
		})
	}
}

func TestController_SweepSkipsQuietPartitions(t *testing.T) {
	c, clk, _ := newTestController(&recordingSink{}, nil)
	ctx := context.Background()

	require.NoError(t, c.Notify(ctx, laKey, reportSignal(clk, domain.SeverityLow, ""), false))
	assert.Equal(t, 1, c.Sweep(ctx))
	assert.Zero(t, c.Sweep(ctx), "normal partition without new signals")
}

func TestController_Compact(t *testing.T) {
	c, clk, m := newTestController(&recordingSink{}, nil)
	ctx := context.Background()

	require.NoError(t, c.Notify(ctx, laKey, reportSignal(clk, domain.SeverityLow, ""), true))
	assert.Zero(t, c.Compact())

	clk.Advance(73 * time.Hour)
	assert.Equal(t, 1, c.Compact())
	assert.Empty(t, c.States())
	assert.Equal(t, domain.LevelNormal, c.State(laKey.Cell).Level)
	assert.InDelta(t, 0, testutil.ToFloat64(m.PartitionsByLevel.WithLabelValues("normal")), 0)

	// A forgotten partition comes back on the next signal.
	require.NoError(t, c.Notify(ctx, laKey, reportSignal(clk, domain.SeverityHigh, ""), true))
	assert.Equal(t, domain.LevelElevated, c.State(laKey.Cell).Level)
}

func TestController_AlertVisibleBeforeNotifyReturns(t *testing.T) {
	clk := clockwork.NewFakeClockAt(start)
	m := observability.NewMetricsForTesting()
	store := alert.NewStore(24*time.Hour, 25, nil, clk, discardLogger(), m)
	c := NewController(testConfig, store, nil, clk, discardLogger(), m)

	require.NoError(t, c.Notify(context.Background(), laKey, reportSignal(clk, domain.SeverityCritical, ""), true))

	alerts, err := store.Current(domain.Location{Lat: 34.052235, Lng: -118.243683}, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, "Wildfire warning", alerts[0].Title)
	assert.Equal(t, "wildfire", alerts[0].Type)
}

func TestController_ConcurrentNotifySerializesPerPartition(t *testing.T) {
	c, clk, _ := newTestController(&recordingSink{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Notify(ctx, laKey, reportSignal(clk, domain.SeverityLow, ""), true)
		}()
	}
	wg.Wait()

	st := c.State(laKey.Cell)
	assert.InDelta(t, 50, st.Score, 1e-9)
	assert.Equal(t, domain.LevelCrisis, st.Level)
}
