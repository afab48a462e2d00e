package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/waymark-app/waymark/internal/model"
)

// EntryCols is the canonical column list for entry SELECTs, matching the
// scan order in ScanEntry.
const EntryCols = `entry_id, user_id, entry_latitude, entry_longitude,
	place_name, address, neighborhood, postal_code, city, subdivision, region, country,
	location_id, geocode_status, created_at, updated_at, deleted_at, synced, sync_action`

// ScanEntry scans one row in EntryCols order.
func ScanEntry(row Scanner) (*model.Entry, error) {
	var (
		e                     model.Entry
		lat, lng              sql.NullFloat64
		placeName, addr, hood sql.NullString
		postal, city, subdiv  sql.NullString
		region, country       sql.NullString
		locationID, status    sql.NullString
		createdAt, updatedAt  string
		deletedAt, syncAction sql.NullString
		synced                int
	)

	err := row.Scan(
		&e.ID, &e.UserID, &lat, &lng,
		&placeName, &addr, &hood, &postal, &city, &subdiv, &region, &country,
		&locationID, &status, &createdAt, &updatedAt, &deletedAt, &synced, &syncAction,
	)
	if err != nil {
		return nil, err
	}

	if lat.Valid && lng.Valid {
		e.Latitude = &lat.Float64
		e.Longitude = &lng.Float64
	}
	e.PlaceName = nullToPtr(placeName)
	e.Address = nullToPtr(addr)
	e.Neighborhood = nullToPtr(hood)
	e.PostalCode = nullToPtr(postal)
	e.City = nullToPtr(city)
	e.Subdivision = nullToPtr(subdiv)
	e.Region = nullToPtr(region)
	e.Country = nullToPtr(country)
	e.LocationID = nullToPtr(locationID)
	e.GeocodeStatus = model.GeocodeStatus(status.String)

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		e.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		e.UpdatedAt = t
	}
	e.DeletedAt = nullToTime(deletedAt)
	e.Synced = synced != 0
	e.SyncAction = model.SyncAction(syncAction.String)

	return &e, nil
}

// ScanEntries collects all rows from an entry query.
func ScanEntries(rows *sql.Rows) ([]*model.Entry, error) {
	var entries []*model.Entry
	for rows.Next() {
		e, err := ScanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

// InsertEntry persists an entry row. Entries are normally created by the
// journaling UI outside this core; this exists for the CLI and tests.
func InsertEntry(ctx context.Context, db DBTX, e *model.Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	query := `
	INSERT INTO entries (
		entry_id, user_id, entry_latitude, entry_longitude,
		place_name, address, neighborhood, postal_code, city, subdivision, region, country,
		location_id, geocode_status, created_at, updated_at, deleted_at, synced, sync_action
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		e.ID, e.UserID, floatToNull(e.Latitude), floatToNull(e.Longitude),
		ptrToNull(e.PlaceName), ptrToNull(e.Address), ptrToNull(e.Neighborhood),
		ptrToNull(e.PostalCode), ptrToNull(e.City), ptrToNull(e.Subdivision),
		ptrToNull(e.Region), ptrToNull(e.Country),
		ptrToNull(e.LocationID), statusToNull(e.GeocodeStatus),
		e.CreatedAt.Format(time.RFC3339), e.UpdatedAt.Format(time.RFC3339),
		timeToNull(e.DeletedAt), boolToInt(e.Synced), actionToNull(e.SyncAction),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry by ID scoped to a user.
// Returns (nil, nil) if no such row exists.
func (s *Store) GetEntry(ctx context.Context, userID, id string) (*model.Entry, error) {
	query := `SELECT ` + EntryCols + ` FROM entries WHERE user_id = ? AND entry_id = ?`
	e, err := ScanEntry(s.conn.QueryRowContext(ctx, query, userID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	return e, nil
}

// ListEntriesByLocation returns all alive entries linked to a location.
func (s *Store) ListEntriesByLocation(ctx context.Context, userID, locationID string) ([]*model.Entry, error) {
	query := `SELECT ` + EntryCols + `
	FROM entries
	WHERE user_id = ? AND location_id = ? AND deleted_at IS NULL
	ORDER BY created_at ASC`

	rows, err := s.conn.QueryContext(ctx, query, userID, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries for location %s: %w", locationID, err)
	}
	defer rows.Close()

	return ScanEntries(rows)
}

// floatToNull converts a float pointer to a nullable SQL float.
func floatToNull(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// statusToNull stores the empty geocode status as SQL NULL so the sweep's
// "never attempted" query stays a plain IS NULL check.
func statusToNull(gs model.GeocodeStatus) sql.NullString {
	if gs == model.GeocodeNone {
		return sql.NullString{}
	}
	return sql.NullString{String: string(gs), Valid: true}
}
