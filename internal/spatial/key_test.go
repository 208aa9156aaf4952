package spatial

import (
	"strings"
	"testing"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestKeyOf_Deterministic(t *testing.T) {
	a := KeyOf(34.052235, -118.243683)
	b := KeyOf(34.052235, -118.243683)

	assert.Equal(t, a, b)
	assert.Len(t, a.Region, RegionPrecision)
	assert.Len(t, a.Cell, CellPrecision)
	assert.Len(t, a.SubCell, SubCellPrecision)
	assert.True(t, strings.HasPrefix(a.SubCell, a.Cell))
	assert.True(t, strings.HasPrefix(a.Cell, a.Region))
	assert.Equal(t, "9q5", a.Region)
}

func TestKeyOf_NearbyPointsSharePrefix(t *testing.T) {
	a := KeyOf(34.0522, -118.2437)
	b := KeyOf(34.0525, -118.2440)
	assert.Equal(t, a.Cell, b.Cell)
}

func TestKeyOf_Edges(t *testing.T) {
	assert.Equal(t, KeyOf(10, 180), KeyOf(10, -180), "antimeridian is one meridian")
	assert.NotPanics(t, func() {
		KeyOf(90, 0)
		KeyOf(-90, 0)
	})
	assert.Len(t, KeyOf(90, 0).SubCell, SubCellPrecision)
}

func TestCellCenter(t *testing.T) {
	key := KeyOf(34.0522, -118.2437)
	c := CellCenter(key.Cell)

	assert.Equal(t, key.Cell, KeyOf(c.Lat, c.Lng).Cell)
	assert.Less(t, domain.DistanceKm(c, domain.Location{Lat: 34.0522, Lng: -118.2437}), 5.0)
	assert.Equal(t, key.Cell, CellKey(key.Cell).Cell)
}

func TestGridDims(t *testing.T) {
	rows, cols := gridDims(CellPrecision)
	assert.Equal(t, 1<<12, rows)
	assert.Equal(t, 1<<13, cols)

	rows, cols = gridDims(RegionPrecision)
	assert.Equal(t, 1<<7, rows)
	assert.Equal(t, 1<<8, cols)
}

func TestCoveringCells(t *testing.T) {
	center := domain.Location{Lat: 34.0522, Lng: -118.2437}
	hashes, ok := coveringCells(center, 10, CellPrecision, maxCellCandidates)
	assert.True(t, ok)
	assert.Contains(t, hashes, KeyOf(center.Lat, center.Lng).Cell)

	// Crossing the antimeridian keeps cells on both sides.
	hashes, ok = coveringCells(domain.Location{Lat: 0, Lng: 179.99}, 20, CellPrecision, maxCellCandidates)
	assert.True(t, ok)
	assert.Contains(t, hashes, KeyOf(0, -179.99).Cell)

	_, ok = coveringCells(center, 5000, CellPrecision, maxCellCandidates)
	assert.False(t, ok)
}
