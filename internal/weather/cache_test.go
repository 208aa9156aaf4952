package weather

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls atomic.Int32
	mu    sync.Mutex
	err   error
	temp  float64
	gate  chan struct{}
}

func (p *fakeProvider) Current(_ context.Context, loc domain.Location) (domain.WeatherSnapshot, error) {
	p.calls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return domain.WeatherSnapshot{}, p.err
	}
	return domain.WeatherSnapshot{Location: loc, Temperature: p.temp, Humidity: 40, WindSpeed: 12, Description: "Clear sky"}, nil
}

func (p *fakeProvider) set(temp float64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.temp, p.err = temp, err
}

var start = time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(p Provider) (*Cache, *clockwork.FakeClock) {
	clk := clockwork.NewFakeClockAt(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCache(p, 10*time.Minute, clk, logger, observability.NewMetricsForTesting()), clk
}

func TestCache_MissingLocation(t *testing.T) {
	c, _ := newTestCache(&fakeProvider{})
	_, err := c.Current(context.Background(), nil)
	var missing *domain.MissingParameterError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "location", missing.Param)

	_, err = c.Current(context.Background(), &domain.Location{Lat: 95})
	var invalid *domain.ValidationError
	assert.ErrorAs(t, err, &invalid)
}

func TestCache_ServesFromBucketUntilExpiry(t *testing.T) {
	p := &fakeProvider{temp: 21}
	c, clk := newTestCache(p)
	ctx := context.Background()

	snap, err := c.Current(ctx, &domain.Location{Lat: 34.052, Lng: -118.243})
	require.NoError(t, err)
	assert.InDelta(t, 21, snap.Temperature, 0)
	assert.False(t, snap.Stale)
	assert.Equal(t, domain.Location{Lat: 34.1, Lng: -118.2}, snap.Location)
	assert.Equal(t, start, snap.Timestamp)

	// Same bucket.
	_, err = c.Current(ctx, &domain.Location{Lat: 34.07, Lng: -118.21})
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load())

	p.set(25, nil)
	clk.Advance(10 * time.Minute)
	snap, err = c.Current(ctx, &domain.Location{Lat: 34.052, Lng: -118.243})
	require.NoError(t, err)
	assert.InDelta(t, 25, snap.Temperature, 0)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestCache_StaleFallback(t *testing.T) {
	p := &fakeProvider{temp: 21}
	c, clk := newTestCache(p)
	ctx := context.Background()
	loc := &domain.Location{Lat: 34.052, Lng: -118.243}

	_, err := c.Current(ctx, loc)
	require.NoError(t, err)

	p.set(0, errors.New("503 from provider"))
	clk.Advance(11 * time.Minute)
	snap, err := c.Current(ctx, loc)
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	require.NotNil(t, snap.Warning)
	assert.Equal(t, "weather", snap.Warning.Source)
	assert.Equal(t, start, snap.Warning.FetchedAt)
	assert.InDelta(t, 21, snap.Temperature, 0)

	// Recovery clears the stale mark.
	p.set(19, nil)
	snap, err = c.Current(ctx, loc)
	require.NoError(t, err)
	assert.False(t, snap.Stale)
	assert.Nil(t, snap.Warning)
}

func TestCache_UpstreamUnavailableWithoutHistory(t *testing.T) {
	p := &fakeProvider{err: errors.New("dial tcp: connection refused")}
	c, _ := newTestCache(p)

	_, err := c.Current(context.Background(), &domain.Location{Lat: 10, Lng: 10})
	var upstream *domain.UpstreamUnavailableError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "weather", upstream.Source)
}

func TestCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	p := &fakeProvider{temp: 30, gate: make(chan struct{})}
	c, _ := newTestCache(p)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	results := make([]domain.WeatherSnapshot, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = c.Current(ctx, &domain.Location{Lat: -33.86, Lng: 151.2})
		}()
	}
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	assert.LessOrEqual(t, p.calls.Load(), int32(2))
	for _, r := range results {
		assert.InDelta(t, 30, r.Temperature, 0)
	}
}

func TestCache_RefreshExpired(t *testing.T) {
	p := &fakeProvider{temp: 10}
	c, clk := newTestCache(p)
	ctx := context.Background()

	_, err := c.Current(ctx, &domain.Location{Lat: 1, Lng: 1})
	require.NoError(t, err)
	_, err = c.Current(ctx, &domain.Location{Lat: 2, Lng: 2})
	require.NoError(t, err)
	assert.Zero(t, c.RefreshExpired(ctx))

	clk.Advance(15 * time.Minute)
	assert.Equal(t, 2, c.RefreshExpired(ctx))
	assert.Equal(t, int32(4), p.calls.Load())
	assert.Equal(t, 2, c.Len())
}

func TestBucketOf(t *testing.T) {
	k1, c1 := bucketOf(domain.Location{Lat: 34.06, Lng: -118.24})
	k2, _ := bucketOf(domain.Location{Lat: 34.09, Lng: -118.2})
	assert.Equal(t, k1, k2)
	assert.Equal(t, domain.Location{Lat: 34.1, Lng: -118.2}, c1)

	east, _ := bucketOf(domain.Location{Lat: 0, Lng: 179.99})
	west, _ := bucketOf(domain.Location{Lat: 0, Lng: -179.99})
	assert.Equal(t, east, west)
}

func TestCache_CallerDeadlineDuringRefresh(t *testing.T) {
	p := &fakeProvider{temp: 25, gate: make(chan struct{})}
	c, clk := newTestCache(p)
	loc := &domain.Location{Lat: 34.05, Lng: -118.24}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	began := time.Now()
	_, err := c.Current(ctx, loc)
	var upstream *domain.UpstreamUnavailableError
	require.ErrorAs(t, err, &upstream)
	assert.Less(t, time.Since(began), time.Second)

	// The abandoned fetch still completes and fills the bucket.
	close(p.gate)
	require.Eventually(t, func() bool {
		snap, err := c.Current(context.Background(), loc)
		return err == nil && !snap.Stale && snap.Temperature == 25
	}, time.Second, 10*time.Millisecond)

	p.gate = make(chan struct{})
	defer close(p.gate)
	clk.Advance(11 * time.Minute)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	snap, err := c.Current(ctx2, loc)
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	require.NotNil(t, snap.Warning)
	assert.Equal(t, "refresh in progress", snap.Warning.Reason)
	assert.InDelta(t, 25, snap.Temperature, 0)
}
