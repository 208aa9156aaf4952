package spatial

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	id  int
	loc domain.Location
}

func randomPoints(rng *rand.Rand, n int) []point {
	clusters := []domain.Location{
		{Lat: 34.05, Lng: -118.24},
		{Lat: 0, Lng: 179.95},
		{Lat: 0, Lng: -179.95},
		{Lat: 89.9, Lng: 0},
		{Lat: -89.9, Lng: 120},
		{Lat: 65, Lng: -179.5},
	}
	pts := make([]point, 0, n)
	for i := range n {
		var loc domain.Location
		if i%3 == 0 {
			loc = domain.Location{Lat: rng.Float64()*180 - 90, Lng: rng.Float64()*360 - 180}
		} else {
			c := clusters[i%len(clusters)]
			loc = domain.Location{
				Lat: clamp(c.Lat+rng.NormFloat64()*0.5, -90, 90),
				Lng: wrapLng(c.Lng + rng.NormFloat64()*0.5),
			}
		}
		pts = append(pts, point{id: i, loc: loc})
	}
	return pts
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func wrapLng(v float64) float64 {
	for v > 180 {
		v -= 360
	}
	for v < -180 {
		v += 360
	}
	return v
}

func bruteForce(pts []point, center domain.Location, radiusKm float64) []int {
	var ids []int
	for _, p := range pts {
		if domain.DistanceKm(center, p.loc) <= radiusKm {
			ids = append(ids, p.id)
		}
	}
	sort.Ints(ids)
	return ids
}

func TestIndex_WithinRadius_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	pts := randomPoints(rng, 3000)

	ix := NewIndex[int]()
	for _, p := range pts {
		ix.Insert(p.loc, p.id)
	}
	require.Equal(t, len(pts), ix.Len())

	centers := []domain.Location{
		{Lat: 34.05, Lng: -118.24},
		{Lat: 0, Lng: 180},
		{Lat: 0, Lng: -179.99},
		{Lat: 90, Lng: 0},
		{Lat: -89.95, Lng: -60},
		{Lat: 65, Lng: 179.9},
		{Lat: 12.5, Lng: 45},
	}
	radii := []float64{0, 1, 10, 50, 120, 800, 5000, 21000}

	for _, c := range centers {
		for _, r := range radii {
			got := ix.WithinRadius(c, r)

			ids := make([]int, len(got))
			for i, m := range got {
				assert.LessOrEqual(t, m.DistanceKm, r)
				ids[i] = m.Item
			}
			for i := 1; i < len(got); i++ {
				assert.LessOrEqual(t, got[i-1].DistanceKm, got[i].DistanceKm)
			}
			sort.Ints(ids)

			want := bruteForce(pts, c, r)
			if len(want) == 0 {
				assert.Empty(t, ids, "center=%v radius=%v", c, r)
				continue
			}
			assert.Equal(t, want, ids, "center=%v radius=%v", c, r)
		}
	}
}

func TestIndex_WithinRadius_TiesKeepInsertionOrder(t *testing.T) {
	ix := NewIndex[string]()
	loc := domain.Location{Lat: 10, Lng: 10}
	ix.Insert(loc, "first")
	ix.Insert(loc, "second")
	ix.Insert(domain.Location{Lat: 10.001, Lng: 10}, "far")
	ix.Insert(loc, "third")

	got := ix.WithinRadius(loc, 5)
	require.Len(t, got, 4)
	assert.Equal(t, "first", got[0].Item)
	assert.Equal(t, "second", got[1].Item)
	assert.Equal(t, "third", got[2].Item)
	assert.Equal(t, "far", got[3].Item)
}

func TestIndex_WithinRadius_NegativeRadius(t *testing.T) {
	ix := NewIndex[int]()
	ix.Insert(domain.Location{Lat: 1, Lng: 1}, 1)
	assert.Empty(t, ix.WithinRadius(domain.Location{Lat: 1, Lng: 1}, -1))
}

func TestIndex_InPartition(t *testing.T) {
	ix := NewIndex[string]()
	la := domain.Location{Lat: 34.0522, Lng: -118.2437}
	key := ix.Insert(la, "la-1")
	ix.Insert(domain.Location{Lat: 34.0523, Lng: -118.2438}, "la-2")
	ix.Insert(domain.Location{Lat: 40.7128, Lng: -74.0060}, "nyc")

	assert.Equal(t, []string{"la-1", "la-2"}, ix.InPartition(key.Cell))
	assert.Equal(t, []string{"la-1", "la-2"}, ix.InPartition(key.Region))
	assert.Contains(t, ix.InPartition(key.SubCell), "la-1")
	assert.Equal(t, []string{"la-1", "la-2", "nyc"}, ix.InPartition(""))
	assert.Empty(t, ix.InPartition("zzzzz"))
}

func TestIndex_Prune(t *testing.T) {
	ix := NewIndex[int]()
	for i := range 10 {
		ix.Insert(domain.Location{Lat: 5, Lng: float64(i) * 0.001}, i)
	}

	removed := ix.Prune(func(v int) bool { return v >= 4 })
	assert.Equal(t, 4, removed)
	assert.Equal(t, 6, ix.Len())

	got := ix.WithinRadius(domain.Location{Lat: 5, Lng: 0}, 50)
	assert.Len(t, got, 6)
	assert.Len(t, ix.InPartition(""), 6)
}
