package location

import (
	"context"
	"fmt"

	"github.com/waymark-app/waymark/internal/model"
	"github.com/waymark-app/waymark/internal/store"
)

// Entry propagation keeps the denormalized display fields on entries in
// step with the location they reference. These run inside the caller's
// transaction so a location write and its cascade commit or roll back as
// one unit. Entry updated_at is deliberately untouched: a denormalization
// sync is not a content edit.

// PropagateNameChange rewrites place_name on all alive entries linked to
// the location and marks them dirty. Returns the affected row count so the
// UI can confirm "this will update N entries".
func PropagateNameChange(ctx context.Context, db store.DBTX, userID, locationID, newName string) (int64, error) {
	res, err := db.ExecContext(ctx, `
	UPDATE entries
	SET place_name = ?, synced = 0,
	    sync_action = COALESCE(sync_action, 'update')
	WHERE user_id = ? AND location_id = ? AND deleted_at IS NULL`,
		newName, userID, locationID)
	if err != nil {
		return 0, fmt.Errorf("failed to propagate name change for %s: %w", locationID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// PropagateFullDetails pushes the location's name and entire hierarchy down
// to its alive entries. An address edit invalidates the whole hierarchy, so
// every field is overwritten, including back to NULL where the location has
// no value.
func PropagateFullDetails(ctx context.Context, db store.DBTX, loc *model.Location) (int64, error) {
	res, err := db.ExecContext(ctx, `
	UPDATE entries
	SET place_name = ?, address = ?, neighborhood = ?, postal_code = ?,
	    city = ?, subdivision = ?, region = ?, country = ?,
	    synced = 0, sync_action = COALESCE(sync_action, 'update')
	WHERE user_id = ? AND location_id = ? AND deleted_at IS NULL`,
		loc.Name,
		nullable(loc.Address), nullable(loc.Neighborhood), nullable(loc.PostalCode),
		nullable(loc.City), nullable(loc.Subdivision), nullable(loc.Region),
		nullable(loc.Country),
		loc.UserID, loc.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to propagate details for %s: %w", loc.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// CountLinkedEntries returns the number of alive entries referencing a
// location, for user-facing confirmation before a propagating edit.
func CountLinkedEntries(ctx context.Context, db store.DBTX, userID, locationID string) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM entries
	WHERE user_id = ? AND location_id = ? AND deleted_at IS NULL`,
		userID, locationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries for %s: %w", locationID, err)
	}
	return n, nil
}
