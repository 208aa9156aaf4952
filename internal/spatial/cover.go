package spatial

import (
	"math"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/mmcloughlin/geohash"
)

// gridDims returns the geohash grid size at a precision: the longitude axis
// takes the extra bit when the bit count is odd.
func gridDims(precision int) (rows, cols int) {
	bits := 5 * precision
	lngBits := (bits + 1) / 2
	latBits := bits / 2
	return 1 << latBits, 1 << lngBits
}

// coveringCells returns the geohashes at the given precision whose cells
// intersect the spherical cap around center. It returns false when more than
// limit cells would be needed.
//
// The cap's bounding box is widened to every column when it contains a pole,
// and column indices wrap so caps crossing the antimeridian keep both sides.
func coveringCells(center domain.Location, radiusKm float64, precision, limit int) ([]string, bool) {
	rows, cols := gridDims(precision)
	cellH := 180.0 / float64(rows)
	cellW := 360.0 / float64(cols)

	lat, lng := normalize(center.Lat, center.Lng)
	// Slight widening absorbs float error at cell edges.
	delta := radiusKm/domain.EarthRadiusKm*(1+1e-9) + 1e-12
	deltaDeg := delta * 180 / math.Pi

	latMin := lat - deltaDeg
	latMax := lat + deltaDeg
	allCols := delta >= math.Pi || latMax >= 90 || latMin <= -90

	var lngMin, lngMax float64
	if !allCols {
		phi := lat * math.Pi / 180
		ratio := math.Sin(delta) / math.Cos(phi)
		if ratio >= 1 {
			allCols = true
		} else {
			dLng := math.Asin(ratio) * 180 / math.Pi
			lngMin, lngMax = lng-dLng, lng+dLng
		}
	}

	rowMin := clampIndex(int(math.Floor((math.Max(latMin, -90)+90)/cellH)), rows)
	rowMax := clampIndex(int(math.Floor((math.Min(latMax, 90)+90)/cellH)), rows)

	colMin, colMax := 0, cols-1
	if !allCols {
		colMin = int(math.Floor((lngMin + 180) / cellW))
		colMax = int(math.Floor((lngMax + 180) / cellW))
		if colMax-colMin+1 >= cols {
			colMin, colMax = 0, cols-1
		}
	}

	n := (rowMax - rowMin + 1) * (colMax - colMin + 1)
	if n > limit {
		return nil, false
	}

	hashes := make([]string, 0, n)
	for r := rowMin; r <= rowMax; r++ {
		cLat := -90 + (float64(r)+0.5)*cellH
		for c := colMin; c <= colMax; c++ {
			wrapped := ((c % cols) + cols) % cols
			cLng := -180 + (float64(wrapped)+0.5)*cellW
			hashes = append(hashes, geohash.EncodeWithPrecision(cLat, cLng, uint(precision)))
		}
	}
	return hashes, true
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
