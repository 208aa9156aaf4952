package domain

import "context"

// RegionGeocoder resolves the first-level administrative region (a US state,
// a province) that contains a coordinate. An empty name with a nil error
// means the provider had no match.
type RegionGeocoder interface {
	ReverseRegion(ctx context.Context, lat, lng float64) (string, error)
}
