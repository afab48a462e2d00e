package location

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waymark-app/waymark/internal/model"
	"github.com/waymark-app/waymark/internal/store"
)

const testUser = "u1"

func newTestRepo(t *testing.T) (*Repository, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitSchema(context.Background()))
	return NewRepository(s, nil, zerolog.Nop()), s
}

var entrySeq int

func seedEntry(t *testing.T, s *store.Store, locationID *string, placeName, address *string) *model.Entry {
	t.Helper()
	entrySeq++
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	e := &model.Entry{
		ID:         fmt.Sprintf("entry-%d", entrySeq),
		UserID:     testUser,
		LocationID: locationID,
		PlaceName:  placeName,
		Address:    address,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, store.InsertEntry(context.Background(), s.DB(), e))
	return e
}

func TestCreate_AutoMerge(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.Create(ctx, testUser, CreateInput{
		Name: "Cafe", Address: model.StrPtr("1 Main St"),
		Latitude: 39.1, Longitude: -94.58,
	})
	require.NoError(t, err)

	// Same (name, address): the existing row comes back unchanged and the
	// caller's new data is discarded.
	second, err := repo.Create(ctx, testUser, CreateInput{
		Name: "  CAFE ", Address: model.StrPtr("1 MAIN ST"),
		Latitude: 0, Longitude: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 39.1, second.Latitude)

	// Different address: a new location.
	third, err := repo.Create(ctx, testUser, CreateInput{
		Name: "Cafe", Address: model.StrPtr("2 Oak Ave"),
		Latitude: 39.2, Longitude: -94.59,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCreate_AutoMergeNonASCII(t *testing.T) {
	repo, s := newTestRepo(t)
	ctx := context.Background()

	// É folds to é only under Unicode-aware lowering; SQLite's lower()
	// would leave it uppercase and miss the match.
	first, err := repo.Create(ctx, testUser, CreateInput{
		Name: "CAFÉ", Address: model.StrPtr("1 Main St"),
		Latitude: 39.1, Longitude: -94.58,
	})
	require.NoError(t, err)

	second, err := repo.Create(ctx, testUser, CreateInput{
		Name: "café", Address: model.StrPtr("1 MAIN ST"),
		Latitude: 0, Longitude: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	third, err := repo.Create(ctx, testUser, CreateInput{
		Name: "CAFÉ", Address: model.StrPtr("1 Main St"),
		Latitude: 39.1, Longitude: -94.58,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)

	locs, err := s.ListAliveLocations(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, locs, 1)
}

func TestCreate_MarksDirtyCreate(t *testing.T) {
	repo, s := newTestRepo(t)
	ctx := context.Background()

	loc, err := repo.Create(ctx, testUser, CreateInput{Name: "Cafe", Latitude: 1, Longitude: 1})
	require.NoError(t, err)

	got, err := s.GetLocation(ctx, testUser, loc.ID)
	require.NoError(t, err)
	assert.False(t, got.Synced)
	assert.Equal(t, model.SyncActionCreate, got.SyncAction)
	assert.Equal(t, model.SourceManual, got.Source)
}

func TestFindDuplicate_AddressPresenceMismatch(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, testUser, CreateInput{
		Name: "Cafe", Address: model.StrPtr("1 Main St"),
		Latitude: 1, Longitude: 1,
	})
	require.NoError(t, err)

	// Absent address never matches a present one.
	dup, err := repo.FindDuplicate(ctx, testUser, "Cafe", nil)
	require.NoError(t, err)
	assert.Nil(t, dup)

	dup, err = repo.FindDuplicate(ctx, testUser, "cafe", model.StrPtr(" 1 Main St "))
	require.NoError(t, err)
	assert.NotNil(t, dup)
}

func TestFindDuplicate_BothAbsent(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, testUser, CreateInput{Name: "Park", Latitude: 1, Longitude: 1})
	require.NoError(t, err)

	dup, err := repo.FindDuplicate(ctx, testUser, "park", nil)
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, created.ID, dup.ID)
}

func TestApplyUpdate_NameChangePropagates(t *testing.T) {
	repo, s := newTestRepo(t)
	ctx := context.Background()

	loc, err := repo.Create(ctx, testUser, CreateInput{Name: "Old Name", Latitude: 1, Longitude: 1})
	require.NoError(t, err)

	e1 := seedEntry(t, s, &loc.ID, model.StrPtr("Old Name"), nil)
	e2 := seedEntry(t, s, &loc.ID, model.StrPtr("Old Name"), nil)
	unlinked := seedEntry(t, s, nil, model.StrPtr("Old Name"), nil)

	updated, propagated, err := repo.ApplyUpdate(ctx, testUser, loc.ID, Update{
		Name: model.StrPtr("New Name"),
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "New Name", updated.Name)
	assert.EqualValues(t, 2, propagated)

	for _, id := range []string{e1.ID, e2.ID} {
		got, err := s.GetEntry(ctx, testUser, id)
		require.NoError(t, err)
		assert.Equal(t, "New Name", *got.PlaceName)
		assert.False(t, got.Synced)
		// A denormalization sync is not a content edit.
		assert.True(t, got.UpdatedAt.Equal(e1.UpdatedAt))
	}

	got, err := s.GetEntry(ctx, testUser, unlinked.ID)
	require.NoError(t, err)
	assert.Equal(t, "Old Name", *got.PlaceName)
}

func TestApplyUpdate_AddressChangeCascadesHierarchy(t *testing.T) {
	repo, s := newTestRepo(t)
	ctx := context.Background()

	loc, err := repo.Create(ctx, testUser, CreateInput{
		Name: "Cafe", Address: model.StrPtr("1 Main St"),
		City: model.StrPtr("Kansas City"), Latitude: 1, Longitude: 1,
	})
	require.NoError(t, err)

	e := seedEntry(t, s, &loc.ID, model.StrPtr("Cafe"), model.StrPtr("1 Main St"))
	// Stale hierarchy on the entry that the cascade must clear.
	_, err = s.DB().Exec(`UPDATE entries SET neighborhood = 'Stale Hood' WHERE entry_id = ?`, e.ID)
	require.NoError(t, err)

	_, propagated, err := repo.ApplyUpdate(ctx, testUser, loc.ID, Update{
		Address: model.StrPtr("2 Oak Ave"),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, propagated)

	got, err := s.GetEntry(ctx, testUser, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "2 Oak Ave", *got.Address)
	assert.Equal(t, "Kansas City", *got.City)
	// An address edit invalidates the whole hierarchy.
	assert.Nil(t, got.Neighborhood)
}

func TestApplyUpdate_NotFoundIsNoOp(t *testing.T) {
	repo, _ := newTestRepo(t)

	updated, propagated, err := repo.ApplyUpdate(context.Background(), testUser, "missing", Update{
		Name: model.StrPtr("X"),
	})
	require.NoError(t, err)
	assert.Nil(t, updated)
	assert.Zero(t, propagated)
}

func TestApplyUpdate_TransportWriteBack(t *testing.T) {
	repo, s := newTestRepo(t)
	ctx := context.Background()

	loc, err := repo.Create(ctx, testUser, CreateInput{Name: "Cafe", Latitude: 1, Longitude: 1})
	require.NoError(t, err)

	// The sync transport acknowledges the row: explicitly supplied action
	// overrides the default dirty marking.
	none := model.SyncActionNone
	synced := true
	_, _, err = repo.ApplyUpdate(ctx, testUser, loc.ID, Update{
		SyncAction: &none,
		Synced:     &synced,
	})
	require.NoError(t, err)

	got, err := s.GetLocation(ctx, testUser, loc.ID)
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, model.SyncActionNone, got.SyncAction)
}

func TestSoftDelete_UnlinksButPreservesDisplayFields(t *testing.T) {
	repo, s := newTestRepo(t)
	ctx := context.Background()

	loc, err := repo.Create(ctx, testUser, CreateInput{
		Name: "Cafe", Address: model.StrPtr("1 Main St"),
		Latitude: 1, Longitude: 1,
	})
	require.NoError(t, err)

	e := seedEntry(t, s, &loc.ID, model.StrPtr("Cafe"), model.StrPtr("1 Main St"))

	require.NoError(t, repo.SoftDelete(ctx, testUser, loc.ID))

	gotLoc, err := s.GetLocation(ctx, testUser, loc.ID)
	require.NoError(t, err)
	require.NotNil(t, gotLoc)
	assert.False(t, gotLoc.Alive())
	assert.Equal(t, model.SyncActionDelete, gotLoc.SyncAction)

	gotEntry, err := s.GetEntry(ctx, testUser, e.ID)
	require.NoError(t, err)
	assert.Nil(t, gotEntry.LocationID)
	assert.Equal(t, "Cafe", *gotEntry.PlaceName)
	assert.Equal(t, "1 Main St", *gotEntry.Address)
	assert.False(t, gotEntry.Synced)
}

func TestSoftDelete_UnknownIDIsNoOp(t *testing.T) {
	repo, _ := newTestRepo(t)
	assert.NoError(t, repo.SoftDelete(context.Background(), testUser, "missing"))
}

func TestSoftDelete_Twice(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	loc, err := repo.Create(ctx, testUser, CreateInput{Name: "Cafe", Latitude: 1, Longitude: 1})
	require.NoError(t, err)

	require.NoError(t, repo.SoftDelete(ctx, testUser, loc.ID))
	assert.NoError(t, repo.SoftDelete(ctx, testUser, loc.ID))
}

func TestCountLinkedEntries(t *testing.T) {
	repo, s := newTestRepo(t)
	ctx := context.Background()

	loc, err := repo.Create(ctx, testUser, CreateInput{Name: "Cafe", Latitude: 1, Longitude: 1})
	require.NoError(t, err)
	seedEntry(t, s, &loc.ID, nil, nil)
	seedEntry(t, s, &loc.ID, nil, nil)

	n, err := CountLinkedEntries(ctx, s.DB(), testUser, loc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
