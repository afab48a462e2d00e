package reconcile

import (
	"context"
	"fmt"
	"math"

	"github.com/waymark-app/waymark/internal/model"
	"github.com/waymark-app/waymark/internal/store"
)

// DefaultSnapThresholdMeters is how close a loose GPS entry must be to a
// saved location to be linked automatically.
const DefaultSnapThresholdMeters = 30.0

const earthRadiusMeters = 6371000.0

// haversineMeters computes the great-circle distance between two WGS84
// points.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// SnapEntriesToLocations links every alive GPS-only entry to the nearest
// alive saved location within thresholdMeters, copying the location's
// display fields onto the entry. Purely local - no network calls. Ties
// keep iteration order: the first location at the minimum distance wins.
//
// Per-entry failures are counted and the pass continues; the sweep never
// aborts as a whole.
func (e *Engine) SnapEntriesToLocations(ctx context.Context, userID string, thresholdMeters float64, progress Progress) (Summary, error) {
	var sum Summary

	if thresholdMeters <= 0 {
		thresholdMeters = DefaultSnapThresholdMeters
	}

	locs, err := e.store.ListAliveLocations(ctx, userID)
	if err != nil {
		return sum, err
	}
	if len(locs) == 0 {
		return sum, nil
	}

	entries, err := e.listSnapCandidates(ctx, userID)
	if err != nil {
		return sum, err
	}

	for i, entry := range entries {
		target := nearestWithin(entry, locs, thresholdMeters)
		if target != nil {
			if err := e.snapEntry(ctx, entry, target); err != nil {
				e.log.Warn().Err(err).
					Str("entry_id", entry.ID).
					Str("location_id", target.ID).
					Msg("failed to snap entry")
				sum.Errors++
			} else {
				sum.Processed++
			}
		}
		if progress != nil {
			progress(i+1, len(entries))
		}
	}

	if sum.Processed > 0 {
		e.log.Info().Int("snapped", sum.Processed).Msg("snap pass complete")
		e.trigger.Notify()
	}
	return sum, nil
}

// listSnapCandidates returns alive entries with a GPS capture but no
// location link.
func (e *Engine) listSnapCandidates(ctx context.Context, userID string) ([]*model.Entry, error) {
	query := `SELECT ` + store.EntryCols + `
	FROM entries
	WHERE user_id = ? AND deleted_at IS NULL AND location_id IS NULL
	  AND entry_latitude IS NOT NULL AND entry_longitude IS NOT NULL
	ORDER BY created_at ASC`

	rows, err := e.store.DB().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snap candidates: %w", err)
	}
	defer rows.Close()

	return store.ScanEntries(rows)
}

// nearestWithin finds the closest location to the entry's capture point
// within the threshold, or nil.
func nearestWithin(entry *model.Entry, locs []*model.Location, threshold float64) *model.Location {
	var best *model.Location
	bestDist := threshold

	for _, loc := range locs {
		d := haversineMeters(*entry.Latitude, *entry.Longitude, loc.Latitude, loc.Longitude)
		if d <= bestDist && (best == nil || d < bestDist) {
			best = loc
			bestDist = d
		}
	}
	return best
}

// snapEntry links one entry to a location, mirroring the location's display
// fields so the pair starts out consistent.
func (e *Engine) snapEntry(ctx context.Context, entry *model.Entry, loc *model.Location) error {
	_, err := e.store.DB().ExecContext(ctx, `
	UPDATE entries
	SET location_id = ?, place_name = ?,
	    address = ?, neighborhood = ?, postal_code = ?, city = ?,
	    subdivision = ?, region = ?, country = ?,
	    geocode_status = 'snapped',
	    synced = 0, sync_action = COALESCE(sync_action, 'update')
	WHERE user_id = ? AND entry_id = ? AND deleted_at IS NULL`,
		loc.ID, loc.Name,
		optStr(loc.Address), optStr(loc.Neighborhood), optStr(loc.PostalCode),
		optStr(loc.City), optStr(loc.Subdivision), optStr(loc.Region),
		optStr(loc.Country),
		entry.UserID, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to link entry %s to %s: %w", entry.ID, loc.ID, err)
	}
	return nil
}
