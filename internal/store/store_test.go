package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waymark-app/waymark/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InitSchema(context.Background()))

	for _, table := range []string{"locations", "entries"} {
		var count int
		err := s.DB().QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}
}

func TestInsertAndGetLocation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	loc := &model.Location{
		ID:             "loc-1",
		UserID:         "u1",
		Name:           "Cafe",
		Latitude:       39.1,
		Longitude:      -94.58,
		Source:         model.SourceManual,
		Address:        model.StrPtr("1 Main St"),
		MergeIgnoreIDs: model.NewIDSet("other-1"),
		CreatedAt:      now,
		UpdatedAt:      now,
		Synced:         false,
		SyncAction:     model.SyncActionCreate,
	}
	require.NoError(t, InsertLocation(ctx, s.DB(), loc))

	got, err := s.GetLocation(ctx, "u1", "loc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Cafe", got.Name)
	assert.Equal(t, "1 Main St", *got.Address)
	assert.Nil(t, got.City)
	assert.True(t, got.MergeIgnoreIDs.Contains("other-1"))
	assert.Equal(t, model.SyncActionCreate, got.SyncAction)
	assert.False(t, got.Synced)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.True(t, got.Alive())
}

func TestGetLocation_NotFound(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetLocation(context.Background(), "u1", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetLocation_WrongUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedLocation(t, s, "u1", "Cafe", nil)

	locs, err := s.ListAliveLocations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, locs, 1)

	got, err := s.GetLocation(ctx, "u2", locs[0].ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListAliveLocations_SkipsTombstones(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedLocation(t, s, "u1", "Alive", nil)
	dead := seedLocation(t, s, "u1", "Dead", nil)
	_, err := s.DB().Exec(
		`UPDATE locations SET deleted_at = ? WHERE location_id = ?`,
		time.Now().UTC().Format(time.RFC3339), dead.ID)
	require.NoError(t, err)

	locs, err := s.ListAliveLocations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "Alive", locs[0].Name)
}

func TestInsertAndGetEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lat, lng := 39.1, -94.58

	e := &model.Entry{
		ID:        "e1",
		UserID:    "u1",
		Latitude:  &lat,
		Longitude: &lng,
		PlaceName: model.StrPtr("Cafe"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, InsertEntry(ctx, s.DB(), e))

	got, err := s.GetEntry(ctx, "u1", "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.HasGPS())
	assert.Equal(t, 39.1, *got.Latitude)
	assert.Equal(t, "Cafe", *got.PlaceName)
	assert.Nil(t, got.LocationID)
	assert.Equal(t, model.GeocodeNone, got.GeocodeStatus)
}

func TestDirtyCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedLocation(t, s, "u1", "Cafe", nil)
	seedEntry(t, s, "u1", nil)

	locs, entries, err := s.DirtyCounts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, locs)
	assert.Equal(t, 1, entries)

	_, err = s.DB().Exec(`UPDATE locations SET synced = 1, sync_action = NULL`)
	require.NoError(t, err)

	locs, _, err = s.DirtyCounts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, locs)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		loc := &model.Location{
			ID: "tx-1", UserID: "u1", Name: "Rollback Me",
			Latitude: 1, Longitude: 1,
			MergeIgnoreIDs: model.IDSet{},
			CreatedAt:      time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}
		if err := InsertLocation(ctx, tx, loc); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	got, err := s.GetLocation(ctx, "u1", "tx-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

var seedCounter int

// seedLocation inserts a minimal dirty location and returns it.
func seedLocation(t *testing.T, s *Store, userID, name string, address *string) *model.Location {
	t.Helper()
	seedCounter++
	now := time.Now().UTC()
	loc := &model.Location{
		ID:             fmt.Sprintf("seed-loc-%d", seedCounter),
		UserID:         userID,
		Name:           name,
		Latitude:       39.1,
		Longitude:      -94.58,
		Source:         model.SourceManual,
		Address:        address,
		MergeIgnoreIDs: model.IDSet{},
		CreatedAt:      now,
		UpdatedAt:      now,
		SyncAction:     model.SyncActionCreate,
	}
	require.NoError(t, InsertLocation(context.Background(), s.DB(), loc))
	return loc
}

// seedEntry inserts a minimal dirty entry, optionally linked to a location.
func seedEntry(t *testing.T, s *Store, userID string, locationID *string) *model.Entry {
	t.Helper()
	seedCounter++
	now := time.Now().UTC()
	e := &model.Entry{
		ID:         fmt.Sprintf("seed-entry-%d", seedCounter),
		UserID:     userID,
		LocationID: locationID,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncAction: model.SyncActionCreate,
	}
	require.NoError(t, InsertEntry(context.Background(), s.DB(), e))
	return e
}
