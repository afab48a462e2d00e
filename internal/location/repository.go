// Package location provides typed CRUD over saved locations plus the
// denormalization writes that keep referencing entries in step.
//
// Creation auto-merges: at most one alive location may exist per normalized
// (name, address) pair per user. The pair is matched in application logic
// rather than a uniqueness constraint because address may be absent.
package location

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/waymark-app/waymark/internal/model"
	"github.com/waymark-app/waymark/internal/store"
)

// Notifier schedules a background push after a committed mutation.
// Satisfied by push.Trigger; must never block.
type Notifier interface {
	Notify()
}

// nopNotifier lets the repository run without a push worker (tests, one-shot
// CLI invocations that push explicitly).
type nopNotifier struct{}

func (nopNotifier) Notify() {}

// Repository is the typed access layer over the locations table.
type Repository struct {
	store   *store.Store
	trigger Notifier
	log     zerolog.Logger
	now     func() time.Time
}

// NewRepository creates a repository. trigger may be nil.
func NewRepository(s *store.Store, trigger Notifier, log zerolog.Logger) *Repository {
	if trigger == nil {
		trigger = nopNotifier{}
	}
	return &Repository{
		store:   s,
		trigger: trigger,
		log:     log,
		now:     time.Now,
	}
}

// CreateInput carries the user-supplied fields for a new saved location.
type CreateInput struct {
	Name      string
	Latitude  float64
	Longitude float64
	Source    string // defaults to manual

	Address      *string
	Neighborhood *string
	PostalCode   *string
	City         *string
	Subdivision  *string
	Region       *string
	Country      *string

	MapboxPlaceID   *string
	FoursquareFsqID *string
}

// FindDuplicate returns the alive location matching the normalized
// (name, address) pair, or nil. Name and address are trimmed and
// lowercased; address matches only when both sides are present and equal
// or both absent - a present/absent mismatch is never a duplicate.
func (r *Repository) FindDuplicate(ctx context.Context, userID, name string, address *string) (*model.Location, error) {
	return FindDuplicateIn(ctx, r.store.DB(), userID, name, address)
}

// FindDuplicateIn is the DBTX variant used inside merge/promote transactions.
//
// Matching loads the user's alive rows and compares normalized keys in Go:
// SQLite's lower() folds ASCII only, so pushing the comparison into SQL
// would miss duplicates whose names differ in non-ASCII case.
func FindDuplicateIn(ctx context.Context, db store.DBTX, userID, name string, address *string) (*model.Location, error) {
	query := `SELECT ` + store.LocationCols + `
	FROM locations
	WHERE user_id = ? AND deleted_at IS NULL
	ORDER BY created_at ASC`

	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate: %w", err)
	}
	defer rows.Close()

	locs, err := store.ScanLocations(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate: %w", err)
	}

	nameKey := model.NormalizeKey(name)
	for _, loc := range locs {
		if model.NormalizeKey(loc.Name) != nameKey {
			continue
		}
		if (address == nil) != (loc.Address == nil) {
			continue
		}
		if address != nil && model.NormalizeKey(*address) != model.NormalizeKey(*loc.Address) {
			continue
		}
		return loc, nil
	}
	return nil, nil
}

// Create persists a new saved location, or returns the existing duplicate
// unchanged. Auto-merge discards the caller's new data on a duplicate hit
// so a second save of "Cafe, 1 Main St" never produces a second row.
func (r *Repository) Create(ctx context.Context, userID string, input CreateInput) (*model.Location, error) {
	existing, err := r.FindDuplicate(ctx, userID, input.Name, input.Address)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		r.log.Debug().
			Str("location_id", existing.ID).
			Str("name", existing.Name).
			Msg("create auto-merged into existing location")
		return existing, nil
	}

	source := input.Source
	if source == "" {
		source = model.SourceManual
	}

	now := r.now().UTC()
	loc := &model.Location{
		ID:              uuid.NewString(),
		UserID:          userID,
		Name:            input.Name,
		Latitude:        input.Latitude,
		Longitude:       input.Longitude,
		Source:          source,
		Address:         input.Address,
		Neighborhood:    input.Neighborhood,
		PostalCode:      input.PostalCode,
		City:            input.City,
		Subdivision:     input.Subdivision,
		Region:          input.Region,
		Country:         input.Country,
		MapboxPlaceID:   input.MapboxPlaceID,
		FoursquareFsqID: input.FoursquareFsqID,
		MergeIgnoreIDs:  model.IDSet{},
		CreatedAt:       now,
		UpdatedAt:       now,
		Synced:          false,
		SyncAction:      model.SyncActionCreate,
	}

	if err := store.InsertLocation(ctx, r.store.DB(), loc); err != nil {
		return nil, err
	}

	r.trigger.Notify()
	return loc, nil
}

// Update carries partial edits. Nil fields are left unchanged.
type Update struct {
	Name      *string
	Latitude  *float64
	Longitude *float64

	Address      *string
	Neighborhood *string
	PostalCode   *string
	City         *string
	Subdivision  *string
	Region       *string
	Country      *string

	MergeIgnoreIDs model.IDSet

	// SyncAction overrides the default dirty-update marking. Used by the
	// sync transport when writing back acknowledged server state.
	SyncAction *model.SyncAction
	Synced     *bool
}

// ApplyUpdate merges an update and propagates denormalized fields inside a
// single transaction: a name edit rewrites place_name on linked entries, an
// address edit cascades the full hierarchy. Returns the updated location and
// the number of entries touched. An unknown or tombstoned ID is a no-op
// returning (nil, 0, nil).
func (r *Repository) ApplyUpdate(ctx context.Context, userID, id string, upd Update) (*model.Location, int64, error) {
	var (
		updated    *model.Location
		propagated int64
	)

	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		loc, err := store.GetLocation(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if loc == nil || !loc.Alive() {
			return nil
		}

		nameChanged := upd.Name != nil && *upd.Name != loc.Name
		addressChanged := upd.Address != nil &&
			(loc.Address == nil || *upd.Address != *loc.Address)

		applyFields(loc, upd)
		loc.UpdatedAt = r.now().UTC()

		if upd.SyncAction != nil {
			loc.SyncAction = *upd.SyncAction
			if upd.Synced != nil {
				loc.Synced = *upd.Synced
			}
		} else {
			loc.Synced = false
			// A row the remote has never seen stays a create.
			if loc.SyncAction != model.SyncActionCreate {
				loc.SyncAction = model.SyncActionUpdate
			}
		}

		if err := updateLocationRow(ctx, tx, loc); err != nil {
			return err
		}

		switch {
		case addressChanged:
			propagated, err = PropagateFullDetails(ctx, tx, loc)
		case nameChanged:
			propagated, err = PropagateNameChange(ctx, tx, loc.UserID, loc.ID, loc.Name)
		}
		if err != nil {
			return err
		}

		updated = loc
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if updated != nil {
		r.trigger.Notify()
	}
	return updated, propagated, nil
}

// applyFields merges non-nil update fields onto the location.
func applyFields(loc *model.Location, upd Update) {
	if upd.Name != nil {
		loc.Name = *upd.Name
	}
	if upd.Latitude != nil {
		loc.Latitude = *upd.Latitude
	}
	if upd.Longitude != nil {
		loc.Longitude = *upd.Longitude
	}
	if upd.Address != nil {
		loc.Address = upd.Address
	}
	if upd.Neighborhood != nil {
		loc.Neighborhood = upd.Neighborhood
	}
	if upd.PostalCode != nil {
		loc.PostalCode = upd.PostalCode
	}
	if upd.City != nil {
		loc.City = upd.City
	}
	if upd.Subdivision != nil {
		loc.Subdivision = upd.Subdivision
	}
	if upd.Region != nil {
		loc.Region = upd.Region
	}
	if upd.Country != nil {
		loc.Country = upd.Country
	}
	if upd.MergeIgnoreIDs != nil {
		loc.MergeIgnoreIDs = upd.MergeIgnoreIDs
	}
}

// updateLocationRow writes every mutable column of an in-memory location.
func updateLocationRow(ctx context.Context, db store.DBTX, loc *model.Location) error {
	ignoreJSON, err := model.EncodeIDSet(loc.MergeIgnoreIDs)
	if err != nil {
		return err
	}

	query := `
	UPDATE locations SET
		name = ?, latitude = ?, longitude = ?, source = ?,
		address = ?, neighborhood = ?, postal_code = ?, city = ?,
		subdivision = ?, region = ?, country = ?,
		mapbox_place_id = ?, foursquare_fsq_id = ?, merge_ignore_ids = ?,
		updated_at = ?, deleted_at = ?, synced = ?, sync_action = ?
	WHERE user_id = ? AND location_id = ?`

	_, err = db.ExecContext(ctx, query,
		loc.Name, loc.Latitude, loc.Longitude, loc.Source,
		nullable(loc.Address), nullable(loc.Neighborhood), nullable(loc.PostalCode),
		nullable(loc.City), nullable(loc.Subdivision), nullable(loc.Region),
		nullable(loc.Country), nullable(loc.MapboxPlaceID), nullable(loc.FoursquareFsqID),
		ignoreJSON,
		loc.UpdatedAt.Format(time.RFC3339), nullableTime(loc.DeletedAt),
		boolAsInt(loc.Synced), nullableAction(loc.SyncAction),
		loc.UserID, loc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update location %s: %w", loc.ID, err)
	}
	return nil
}

// SoftDelete tombstones a location and unlinks its alive entries in one
// transaction. Entries keep their denormalized display fields, so the entry
// still shows where it happened, now as an unlinked dropped pin. Deleting
// an unknown or already-deleted ID is a no-op.
func (r *Repository) SoftDelete(ctx context.Context, userID, id string) error {
	deleted := false
	now := r.now().UTC().Format(time.RFC3339)

	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
		UPDATE locations
		SET deleted_at = ?, updated_at = ?, synced = 0, sync_action = 'delete'
		WHERE user_id = ? AND location_id = ? AND deleted_at IS NULL`,
			now, now, userID, id)
		if err != nil {
			return fmt.Errorf("failed to tombstone location %s: %w", id, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return nil
		}
		deleted = true

		_, err = tx.ExecContext(ctx, `
		UPDATE entries
		SET location_id = NULL, synced = 0,
		    sync_action = COALESCE(sync_action, 'update')
		WHERE user_id = ? AND location_id = ? AND deleted_at IS NULL`,
			userID, id)
		if err != nil {
			return fmt.Errorf("failed to unlink entries for location %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if deleted {
		r.log.Info().Str("location_id", id).Msg("location soft-deleted")
		r.trigger.Notify()
	}
	return nil
}

// nullable and friends mirror the store's converters for this package's
// UPDATE statements.
func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func boolAsInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableAction(a model.SyncAction) sql.NullString {
	if a == model.SyncActionNone {
		return sql.NullString{}
	}
	return sql.NullString{String: string(a), Valid: true}
}
