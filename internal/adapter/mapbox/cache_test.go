package mapbox

import (
	"context"
	"errors"
	"testing"

	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGeocoder struct {
	calls  int
	region string
	err    error
}

func (m *countingGeocoder) ReverseRegion(context.Context, float64, float64) (string, error) {
	m.calls++
	return m.region, m.err
}

func TestCachedGeocoder_HitWithinRoundedCell(t *testing.T) {
	inner := &countingGeocoder{region: "California"}
	m := observability.NewMetricsForTesting()
	cached, err := NewCachedGeocoder(inner, 10, m)
	require.NoError(t, err)

	r1, err := cached.ReverseRegion(context.Background(), 34.0522, -118.2437)
	require.NoError(t, err)
	r2, err := cached.ReverseRegion(context.Background(), 34.0531, -118.2440)
	require.NoError(t, err)

	assert.Equal(t, "California", r1)
	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, inner.calls)
	assert.InDelta(t, 1, testutil.ToFloat64(m.GeocodeCache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.GeocodeCache.WithLabelValues("miss")), 0)
}

func TestCachedGeocoder_EmptyNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cached, err := NewCachedGeocoder(inner, 10, observability.NewMetricsForTesting())
	require.NoError(t, err)

	for range 2 {
		name, err := cached.ReverseRegion(context.Background(), 0, -140)
		require.NoError(t, err)
		assert.Empty(t, name)
	}
	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_ErrorPassesThrough(t *testing.T) {
	inner := &countingGeocoder{err: errors.New("boom")}
	cached, err := NewCachedGeocoder(inner, 10, observability.NewMetricsForTesting())
	require.NoError(t, err)

	_, err = cached.ReverseRegion(context.Background(), 1, 1)
	assert.Error(t, err)
}

func TestCachedGeocoder_Eviction(t *testing.T) {
	inner := &countingGeocoder{region: "Texas"}
	cached, err := NewCachedGeocoder(inner, 2, observability.NewMetricsForTesting())
	require.NoError(t, err)
	ctx := context.Background()

	_, _ = cached.ReverseRegion(ctx, 30, -97)
	_, _ = cached.ReverseRegion(ctx, 31, -97)
	_, _ = cached.ReverseRegion(ctx, 32, -97) // evicts 30,-97
	_, _ = cached.ReverseRegion(ctx, 30, -97)
	assert.Equal(t, 4, inner.calls)
}

func TestNewCachedGeocoder_InvalidSize(t *testing.T) {
	_, err := NewCachedGeocoder(&countingGeocoder{}, 0, observability.NewMetricsForTesting())
	assert.Error(t, err)
}
