package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/waymark-app/waymark/internal/model"
)

// LocationCols is the canonical column list for location SELECTs, matching
// the scan order in ScanLocation.
const LocationCols = `location_id, user_id, name, latitude, longitude, source,
	address, neighborhood, postal_code, city, subdivision, region, country,
	mapbox_place_id, foursquare_fsq_id, merge_ignore_ids,
	created_at, updated_at, deleted_at, synced, sync_action`

// Scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanLocation scans one row in LocationCols order.
func ScanLocation(row Scanner) (*model.Location, error) {
	var (
		loc                     model.Location
		createdAt, updatedAt    string
		deletedAt, syncAction   sql.NullString
		ignoreJSON              string
		synced                  int
		addr, hood, postal      sql.NullString
		city, subdiv, region    sql.NullString
		country, mapbox, foursq sql.NullString
	)

	err := row.Scan(
		&loc.ID, &loc.UserID, &loc.Name, &loc.Latitude, &loc.Longitude, &loc.Source,
		&addr, &hood, &postal, &city, &subdiv, &region, &country,
		&mapbox, &foursq, &ignoreJSON,
		&createdAt, &updatedAt, &deletedAt, &synced, &syncAction,
	)
	if err != nil {
		return nil, err
	}

	loc.Address = nullToPtr(addr)
	loc.Neighborhood = nullToPtr(hood)
	loc.PostalCode = nullToPtr(postal)
	loc.City = nullToPtr(city)
	loc.Subdivision = nullToPtr(subdiv)
	loc.Region = nullToPtr(region)
	loc.Country = nullToPtr(country)
	loc.MapboxPlaceID = nullToPtr(mapbox)
	loc.FoursquareFsqID = nullToPtr(foursq)

	ignore, err := model.DecodeIDSet(ignoreJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode merge_ignore_ids: %w", err)
	}
	loc.MergeIgnoreIDs = ignore

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		loc.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		loc.UpdatedAt = t
	}
	loc.DeletedAt = nullToTime(deletedAt)
	loc.Synced = synced != 0
	loc.SyncAction = model.SyncAction(syncAction.String)

	return &loc, nil
}

// ScanLocations collects all rows from a location query.
func ScanLocations(rows *sql.Rows) ([]*model.Location, error) {
	var locs []*model.Location
	for rows.Next() {
		loc, err := ScanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locs = append(locs, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locations: %w", err)
	}
	return locs, nil
}

// InsertLocation persists a new location row. The caller is responsible for
// ID generation, timestamps and sync bookkeeping.
func InsertLocation(ctx context.Context, db DBTX, loc *model.Location) error {
	if err := loc.Validate(); err != nil {
		return fmt.Errorf("invalid location: %w", err)
	}

	ignoreJSON, err := model.EncodeIDSet(loc.MergeIgnoreIDs)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO locations (
		location_id, user_id, name, latitude, longitude, source,
		address, neighborhood, postal_code, city, subdivision, region, country,
		mapbox_place_id, foursquare_fsq_id, merge_ignore_ids,
		created_at, updated_at, deleted_at, synced, sync_action
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.ExecContext(ctx, query,
		loc.ID, loc.UserID, loc.Name, loc.Latitude, loc.Longitude, loc.Source,
		ptrToNull(loc.Address), ptrToNull(loc.Neighborhood), ptrToNull(loc.PostalCode),
		ptrToNull(loc.City), ptrToNull(loc.Subdivision), ptrToNull(loc.Region),
		ptrToNull(loc.Country), ptrToNull(loc.MapboxPlaceID), ptrToNull(loc.FoursquareFsqID),
		ignoreJSON,
		loc.CreatedAt.Format(time.RFC3339), loc.UpdatedAt.Format(time.RFC3339),
		timeToNull(loc.DeletedAt), boolToInt(loc.Synced), actionToNull(loc.SyncAction),
	)
	if err != nil {
		return fmt.Errorf("failed to insert location: %w", err)
	}
	return nil
}

// GetLocation retrieves a location by ID scoped to a user.
// Returns (nil, nil) if no such row exists; tombstoned rows ARE returned
// so stale callers can observe the deletion.
func (s *Store) GetLocation(ctx context.Context, userID, id string) (*model.Location, error) {
	return GetLocation(ctx, s.conn, userID, id)
}

// GetLocation is the DBTX variant of Store.GetLocation for use in transactions.
func GetLocation(ctx context.Context, db DBTX, userID, id string) (*model.Location, error) {
	query := `SELECT ` + LocationCols + ` FROM locations WHERE user_id = ? AND location_id = ?`
	loc, err := ScanLocation(db.QueryRowContext(ctx, query, userID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location %s: %w", id, err)
	}
	return loc, nil
}

// ListAliveLocations returns all non-tombstoned locations for a user.
func (s *Store) ListAliveLocations(ctx context.Context, userID string) ([]*model.Location, error) {
	query := `SELECT ` + LocationCols + `
	FROM locations
	WHERE user_id = ? AND deleted_at IS NULL
	ORDER BY created_at ASC`

	rows, err := s.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	return ScanLocations(rows)
}

// nullToPtr converts a nullable SQL string to a string pointer.
func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// ptrToNull converts a string pointer to a nullable SQL string.
func ptrToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// timeToNull converts a time pointer to a nullable RFC3339 string.
func timeToNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

// nullToTime converts a nullable RFC3339 string to a time pointer.
func nullToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// actionToNull stores the empty sync action as SQL NULL.
func actionToNull(a model.SyncAction) sql.NullString {
	if a == model.SyncActionNone {
		return sql.NullString{}
	}
	return sql.NullString{String: string(a), Valid: true}
}
