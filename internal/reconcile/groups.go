package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/waymark-app/waymark/internal/location"
	"github.com/waymark-app/waymark/internal/model"
	"github.com/waymark-app/waymark/internal/store"
)

// fallbackPlaceName names a promoted group when neither place_name nor city
// is present.
const fallbackPlaceName = "Unknown Place"

// EntryGroup identifies an entry-derived place group: unlinked entries
// sharing exact denormalized place fields. Matching coalesces NULL to the
// empty string and is deliberately unnormalized - no trim, no case fold -
// because tightening the match would silently stop grouping entries that
// grouped before.
type EntryGroup struct {
	PlaceName *string
	Address   *string
	City      *string
	Region    *string
	Country   *string
}

// whereClause returns the SQL fragment and args matching alive, unlinked
// entries belonging to this group.
func (g EntryGroup) whereClause() (string, []any) {
	clause := `user_id = ? AND deleted_at IS NULL AND location_id IS NULL
	  AND COALESCE(place_name, '') = ?
	  AND COALESCE(address, '') = ?
	  AND COALESCE(city, '') = ?
	  AND COALESCE(region, '') = ?
	  AND COALESCE(country, '') = ?`
	args := []any{coalesce(g.PlaceName), coalesce(g.Address), coalesce(g.City),
		coalesce(g.Region), coalesce(g.Country)}
	return clause, args
}

// displayName picks the promoted location's name: place_name, then city,
// then a fixed fallback.
func (g EntryGroup) displayName() string {
	if g.PlaceName != nil && *g.PlaceName != "" {
		return *g.PlaceName
	}
	if g.City != nil && *g.City != "" {
		return *g.City
	}
	return fallbackPlaceName
}

func coalesce(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// PromoteToLocation converts an entry-derived place group into a saved
// location. If an alive location already matches the group's (name,
// address) pair, the group's entries are linked to it instead of creating a
// new row (merge-on-promote). Otherwise a new location is created at the
// group's averaged coordinates with the group's descriptive fields.
// All matching entries end up linked with geocode_status 'snapped'.
func (e *Engine) PromoteToLocation(ctx context.Context, userID string, group EntryGroup) (*model.Location, error) {
	var promoted *model.Location

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		name := group.displayName()

		existing, err := location.FindDuplicateIn(ctx, tx, userID, name, group.Address)
		if err != nil {
			return err
		}
		if existing != nil {
			if _, err := linkGroupEntries(ctx, tx, userID, group, existing.ID); err != nil {
				return err
			}
			promoted = existing
			return nil
		}

		lat, lng, err := groupCentroid(ctx, tx, userID, group)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		loc := &model.Location{
			ID:             uuid.NewString(),
			UserID:         userID,
			Name:           name,
			Latitude:       lat,
			Longitude:      lng,
			Source:         model.SourcePromoted,
			Address:        group.Address,
			City:           group.City,
			Region:         group.Region,
			Country:        group.Country,
			MergeIgnoreIDs: model.IDSet{},
			CreatedAt:      now,
			UpdatedAt:      now,
			Synced:         false,
			SyncAction:     model.SyncActionCreate,
		}
		if err := store.InsertLocation(ctx, tx, loc); err != nil {
			return err
		}

		if _, err := linkGroupEntries(ctx, tx, userID, group, loc.ID); err != nil {
			return err
		}
		promoted = loc
		return nil
	})
	if err != nil {
		return nil, err
	}

	if promoted != nil {
		e.log.Info().
			Str("location_id", promoted.ID).
			Str("name", promoted.Name).
			Msg("entry group promoted")
		e.trigger.Notify()
	}
	return promoted, nil
}

// groupCentroid averages the GPS captures of the group's entries. Entries
// without GPS don't contribute; a group with no GPS at all promotes at the
// origin, which the UI treats as "no pin".
func groupCentroid(ctx context.Context, db store.DBTX, userID string, group EntryGroup) (float64, float64, error) {
	clause, args := group.whereClause()
	query := `
	SELECT COALESCE(AVG(entry_latitude), 0), COALESCE(AVG(entry_longitude), 0)
	FROM entries
	WHERE ` + clause + ` AND entry_latitude IS NOT NULL AND entry_longitude IS NOT NULL`

	var lat, lng float64
	err := db.QueryRowContext(ctx, query, append([]any{userID}, args...)...).Scan(&lat, &lng)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to average group coordinates: %w", err)
	}
	return lat, lng, nil
}

// linkGroupEntries links the group's entries to a location without touching
// their display fields, marking them snapped and dirty.
func linkGroupEntries(ctx context.Context, db store.DBTX, userID string, group EntryGroup, locationID string) (int64, error) {
	clause, args := group.whereClause()
	query := `
	UPDATE entries
	SET location_id = ?, geocode_status = 'snapped',
	    synced = 0, sync_action = COALESCE(sync_action, 'update')
	WHERE ` + clause

	res, err := db.ExecContext(ctx, query, append([]any{locationID, userID}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to link group entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// MergeGroupIntoLocation links an entry group into an existing saved
// location, overwriting the entries' denormalized fields with the
// location's current name and hierarchy. The link target is explicit
// rather than discovered. Unknown or tombstoned IDs are a zero-count no-op.
func (e *Engine) MergeGroupIntoLocation(ctx context.Context, userID, locationID string, group EntryGroup) (int64, error) {
	var linked int64

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		loc, err := store.GetLocation(ctx, tx, userID, locationID)
		if err != nil {
			return err
		}
		if loc == nil || !loc.Alive() {
			return nil
		}

		clause, args := group.whereClause()
		query := `
		UPDATE entries
		SET location_id = ?, place_name = ?,
		    address = ?, neighborhood = ?, postal_code = ?, city = ?,
		    subdivision = ?, region = ?, country = ?,
		    geocode_status = 'snapped',
		    synced = 0, sync_action = COALESCE(sync_action, 'update')
		WHERE ` + clause

		res, err := tx.ExecContext(ctx, query, append([]any{
			loc.ID, loc.Name,
			optStr(loc.Address), optStr(loc.Neighborhood), optStr(loc.PostalCode),
			optStr(loc.City), optStr(loc.Subdivision), optStr(loc.Region),
			optStr(loc.Country),
			userID}, args...)...)
		if err != nil {
			return fmt.Errorf("failed to merge group into %s: %w", locationID, err)
		}
		linked, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if linked > 0 {
		e.trigger.Notify()
	}
	return linked, nil
}

// GroupUpdate carries edits to a group's denormalized fields. Nil fields
// are left unchanged.
type GroupUpdate struct {
	PlaceName    *string
	Address      *string
	Neighborhood *string
	PostalCode   *string
	City         *string
	Subdivision  *string
	Region       *string
	Country      *string
}

// UpdateGroupFields edits denormalized fields directly on the group's
// unlinked entries without creating a location - for when the user doesn't
// want to save the place as reusable. Returns the affected row count.
func (e *Engine) UpdateGroupFields(ctx context.Context, userID string, group EntryGroup, upd GroupUpdate) (int64, error) {
	var sets []string
	var setArgs []any

	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			setArgs = append(setArgs, *v)
		}
	}
	add("place_name", upd.PlaceName)
	add("address", upd.Address)
	add("neighborhood", upd.Neighborhood)
	add("postal_code", upd.PostalCode)
	add("city", upd.City)
	add("subdivision", upd.Subdivision)
	add("region", upd.Region)
	add("country", upd.Country)

	if len(sets) == 0 {
		return 0, nil
	}
	sets = append(sets, "synced = 0", "sync_action = COALESCE(sync_action, 'update')")

	clause, args := group.whereClause()
	query := `UPDATE entries SET ` + strings.Join(sets, ", ") + ` WHERE ` + clause

	res, err := e.store.DB().ExecContext(ctx, query, append(append(setArgs, userID), args...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to update group fields: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if n > 0 {
		e.trigger.Notify()
	}
	return n, nil
}
