// Package spatial assigns hierarchical partition keys and answers radius
// queries over collections of located entries.
package spatial

import (
	"math"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/mmcloughlin/geohash"
)

// Geohash precisions of the partition tiers.
const (
	RegionPrecision  = 3
	CellPrecision    = 5
	SubCellPrecision = 7
)

// maxLat keeps the north pole inside the last geohash row.
const maxLat = 90 - 1e-9

// KeyOf returns the partition key of a coordinate. It is a pure function of
// its inputs.
func KeyOf(lat, lng float64) domain.PartitionKey {
	lat, lng = normalize(lat, lng)
	sub := geohash.EncodeWithPrecision(lat, lng, SubCellPrecision)
	return domain.PartitionKey{
		Region:  sub[:RegionPrecision],
		Cell:    sub[:CellPrecision],
		SubCell: sub,
	}
}

// KeyOfLocation is KeyOf for a Location.
func KeyOfLocation(l domain.Location) domain.PartitionKey {
	return KeyOf(l.Lat, l.Lng)
}

// CellCenter returns the centre of a geohash cell.
func CellCenter(hash string) domain.Location {
	lat, lng := geohash.BoundingBox(hash).Center()
	return domain.Location{Lat: lat, Lng: lng}
}

// CellKey builds the partition key of a Cell-tier hash. SubCell is the hash of
// the cell centre.
func CellKey(cell string) domain.PartitionKey {
	c := CellCenter(cell)
	return KeyOf(c.Lat, c.Lng)
}

func normalize(lat, lng float64) (float64, float64) {
	if lat > maxLat {
		lat = maxLat
	}
	if lat < -90 {
		lat = -90
	}
	// 180 and -180 are the same meridian; geohash columns start at -180.
	lng = math.Mod(lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	return lat, lng - 180
}
