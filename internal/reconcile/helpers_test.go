package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/waymark-app/waymark/internal/geocode"
	"github.com/waymark-app/waymark/internal/model"
	"github.com/waymark-app/waymark/internal/store"
)

const testUser = "u1"

// metersPerDegreeLat at the 6371km earth radius the haversine uses.
const metersPerDegreeLat = earthRadiusMeters * 3.14159265358979 / 180

func newTestEngine(t *testing.T, geocoder geocode.Client) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitSchema(context.Background()))

	e := New(s, geocoder, nil, zerolog.Nop())
	e.SetGeocodeDelay(0)
	return e, s
}

var seq int

type locSpec struct {
	name    string
	address *string
	lat     float64
	lng     float64
	hier    model.Hierarchy
}

func seedLocation(t *testing.T, s *store.Store, spec locSpec) *model.Location {
	t.Helper()
	seq++
	// Spread created_at so survivorship tie-breaks are deterministic.
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Minute)
	loc := &model.Location{
		ID:             fmt.Sprintf("loc-%d", seq),
		UserID:         testUser,
		Name:           spec.name,
		Latitude:       spec.lat,
		Longitude:      spec.lng,
		Source:         model.SourceManual,
		Address:        spec.address,
		Neighborhood:   spec.hier.Neighborhood,
		PostalCode:     spec.hier.PostalCode,
		City:           spec.hier.City,
		Subdivision:    spec.hier.Subdivision,
		Region:         spec.hier.Region,
		Country:        spec.hier.Country,
		MergeIgnoreIDs: model.IDSet{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.InsertLocation(context.Background(), s.DB(), loc))
	return loc
}

type entrySpec struct {
	locationID *string
	lat, lng   *float64
	placeName  *string
	address    *string
	city       *string
	region     *string
	country    *string
	status     model.GeocodeStatus
}

func seedEntry(t *testing.T, s *store.Store, spec entrySpec) *model.Entry {
	t.Helper()
	seq++
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Minute)
	e := &model.Entry{
		ID:            fmt.Sprintf("entry-%d", seq),
		UserID:        testUser,
		LocationID:    spec.locationID,
		Latitude:      spec.lat,
		Longitude:     spec.lng,
		PlaceName:     spec.placeName,
		Address:       spec.address,
		City:          spec.city,
		Region:        spec.region,
		Country:       spec.country,
		GeocodeStatus: spec.status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.InsertEntry(context.Background(), s.DB(), e))
	return e
}

func f64(v float64) *float64 { return &v }

// countNotifier records push notifications.
type countNotifier struct {
	count int
}

func (c *countNotifier) Notify() { c.count++ }

// fakeGeocoder returns a canned hierarchy, or an error, per call.
type fakeGeocoder struct {
	hier  model.Hierarchy
	err   error
	calls int
}

func (f *fakeGeocoder) ReverseGeocode(ctx context.Context, p geocode.Point) (model.Hierarchy, error) {
	f.calls++
	if f.err != nil {
		return model.Hierarchy{}, f.err
	}
	return f.hier, nil
}

func (f *fakeGeocoder) SearchNearby(ctx context.Context, p geocode.Point, radius float64) ([]geocode.POI, error) {
	return nil, nil
}
