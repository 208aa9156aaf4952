package observability

import (
	"log/slog"
	"testing"

	"github.com/couchcryptid/hazard-alert-service/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.ReportsRejected.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.ReportsRejected))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ReportsRejected))
}

func TestMetrics_RegisterOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsForTesting()
	assert.NotPanics(t, func() { reg.MustRegister(m.collectors()...) })
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestNewLogger(t *testing.T) {
	assert.NotNil(t, NewLogger(&config.Config{LogLevel: "debug", LogFormat: "text"}))
	assert.NotNil(t, NewLogger(&config.Config{LogLevel: "info", LogFormat: "json"}))
}
