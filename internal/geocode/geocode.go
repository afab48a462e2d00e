// Package geocode defines the boundary to the external geocoding and POI
// providers. The engine consumes two stateless operations: reverse geocoding
// (point -> address hierarchy) and nearby POI search (point + radius ->
// candidate places). Providers are rate limited; the engine inserts a fixed
// delay between calls and never parallelizes enrichment.
package geocode

import (
	"context"

	"github.com/waymark-app/waymark/internal/model"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// POI is a nearby place candidate returned by the search provider.
type POI struct {
	Name            string
	Point           Point
	Address         *string
	City            *string
	MapboxPlaceID   *string
	FoursquareFsqID *string
	// DistanceMeters from the query point, as reported by the provider.
	DistanceMeters float64
}

// Client is the provider boundary. Implementations may fail on network
// errors; a successful call that finds nothing nearby returns an empty
// Hierarchy (or empty POI slice) and a nil error - the caller tracks that
// as a distinct no-data outcome.
type Client interface {
	ReverseGeocode(ctx context.Context, p Point) (model.Hierarchy, error)
	SearchNearby(ctx context.Context, p Point, radiusMeters float64) ([]POI, error)
}
