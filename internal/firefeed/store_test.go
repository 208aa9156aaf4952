package firefeed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/spatial"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	batches [][]domain.PartitionSignal
	err     error
}

func (n *recordingNotifier) NotifyBatch(_ context.Context, batch []domain.PartitionSignal) error {
	n.batches = append(n.batches, batch)
	return n.err
}

var acquired = time.Date(2024, 8, 1, 9, 30, 0, 0, time.UTC)

func detection(lat, lng float64, at time.Time, state, conf string) domain.FireDetection {
	d := domain.FireDetection{
		Latitude:   lat,
		Longitude:  lng,
		Confidence: conf,
		AcqDate:    at.Format("2006-01-02"),
		AcqTime:    at.Format("1504"),
		Satellite:  "N",
		State:      state,
		AcquiredAt: at,
	}
	d.AssignPartition(spatial.KeyOf(lat, lng))
	return d
}

func newTestStore(n BatchNotifier) (*Store, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return NewStore(n, slog.New(slog.NewTextHandler(io.Discard, nil)), m), m
}

func TestStore_LoadBatch_Idempotent(t *testing.T) {
	n := &recordingNotifier{}
	s, m := newTestStore(n)
	ctx := context.Background()

	batch := []domain.FireDetection{
		detection(34.10, -118.30, acquired, "California", "h"),
		detection(34.20, -118.40, acquired, "California", "n"),
	}
	require.NoError(t, s.LoadBatch(ctx, batch))
	require.NoError(t, s.LoadBatch(ctx, batch))

	assert.Equal(t, 2, s.Len())
	assert.InDelta(t, 2, testutil.ToFloat64(m.DetectionsLoaded), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.DuplicateDetections), 0)

	require.Len(t, n.batches, 1, "a batch of duplicates notifies nobody")
	require.Len(t, n.batches[0], 2)
	assert.Equal(t, batch[0].Partition, n.batches[0][0].Key)
	assert.InDelta(t, 4, n.batches[0][0].Signal.Weight, 0)
	assert.Equal(t, domain.SourceFire, n.batches[0][0].Signal.Source)
}

func TestStore_LoadBatch_AssignsMissingPartition(t *testing.T) {
	s, _ := newTestStore(nil)
	d := domain.FireDetection{Latitude: 34.1, Longitude: -118.3, AcqDate: "2024-08-01", AcqTime: "0930", Satellite: "N", AcquiredAt: acquired}
	require.NoError(t, s.LoadBatch(context.Background(), []domain.FireDetection{d}))

	got := s.Nearby(domain.Location{Lat: 34.1, Lng: -118.3}, 1)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, spatial.KeyOf(34.1, -118.3), got[0].Partition)
}

func TestStore_LoadBatch_NotifyError(t *testing.T) {
	s, _ := newTestStore(&recordingNotifier{err: errors.New("boom")})
	err := s.LoadBatch(context.Background(), []domain.FireDetection{detection(1, 1, acquired, "", "l")})
	assert.Error(t, err)
	assert.Equal(t, 1, s.Len(), "detections are stored before notifying")
}

func TestStore_Nearby_LatestPerSite(t *testing.T) {
	s, _ := newTestStore(nil)
	ctx := context.Background()

	older := detection(34.0522, -118.2437, acquired, "California", "n")
	newer := detection(34.0522, -118.2437, acquired.Add(12*time.Hour), "California", "h")
	far := detection(36.17, -115.14, acquired, "Nevada", "h")
	require.NoError(t, s.LoadBatch(ctx, []domain.FireDetection{older, far}))
	require.NoError(t, s.LoadBatch(ctx, []domain.FireDetection{newer}))

	center := domain.Location{Lat: 34.0522, Lng: -118.2437}
	got := s.Nearby(center, 50)
	require.Len(t, got, 1)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, "h", got[0].Confidence, "passed through unmodified")

	history := s.History(newer.Site())
	require.Len(t, history, 2)
	assert.Equal(t, older.ID, history[0].ID)
	assert.Equal(t, newer.ID, history[1].ID)

	for _, d := range s.Nearby(center, 500) {
		assert.LessOrEqual(t, domain.DistanceKm(center, d.Location()), 500.0)
	}
}

func TestStore_ByState(t *testing.T) {
	s, _ := newTestStore(nil)
	ctx := context.Background()

	a := detection(34.10, -118.30, acquired, "California", "h")
	b := detection(38.50, -121.50, acquired.Add(time.Hour), " california ", "n")
	c := detection(36.17, -115.14, acquired, "Nevada", "h")
	require.NoError(t, s.LoadBatch(ctx, []domain.FireDetection{a, b, c}))

	got := s.ByState("CALIFORNIA")
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].ID, "most recent first")
	assert.Equal(t, a.ID, got[1].ID)

	assert.Empty(t, s.ByState("Calif"), "exact match only")
	assert.Empty(t, s.ByState("Oregon"))
}

func TestStore_Prune(t *testing.T) {
	s, _ := newTestStore(nil)
	ctx := context.Background()

	old := detection(34.10, -118.30, acquired, "California", "h")
	recent := detection(34.20, -118.40, acquired.Add(48*time.Hour), "California", "h")
	require.NoError(t, s.LoadBatch(ctx, []domain.FireDetection{old, recent}))

	assert.Equal(t, 1, s.Prune(acquired.Add(24*time.Hour)))
	assert.Equal(t, 1, s.Len())
	got := s.ByState("california")
	require.Len(t, got, 1)
	assert.Equal(t, recent.ID, got[0].ID)
}
