package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/waymark-app/waymark/internal/geocode"
	"github.com/waymark-app/waymark/internal/model"
	"github.com/waymark-app/waymark/internal/store"
)

// Hierarchy enrichment and entry geocoding call the external reverse
// geocoder, so unlike the local sweeps these may block on network I/O.
// Calls are sequential with a fixed inter-call delay for provider rate
// limits. Per-item failures are logged and counted; the sweep continues.

// EnrichLocationHierarchy fills missing hierarchy fields on every alive
// location from the reverse geocoder. Only currently-null fields are
// written - a field the user set or a previous pass filled is never
// overwritten.
func (e *Engine) EnrichLocationHierarchy(ctx context.Context, userID string, progress Progress) (Summary, error) {
	var sum Summary

	locs, err := e.listEnrichCandidates(ctx, userID)
	if err != nil {
		return sum, err
	}

	for i, loc := range locs {
		if i > 0 {
			if err := e.pause(ctx); err != nil {
				return sum, err
			}
		}

		if err := e.enrichOne(ctx, loc); err != nil {
			e.log.Warn().Err(err).
				Str("location_id", loc.ID).
				Msg("failed to enrich location")
			sum.Errors++
		} else {
			sum.Processed++
		}
		if progress != nil {
			progress(i+1, len(locs))
		}
	}

	if sum.Processed > 0 {
		e.trigger.Notify()
	}
	return sum, nil
}

// EnrichSingleLocation enriches one location by ID. Unknown or tombstoned
// IDs are a no-op.
func (e *Engine) EnrichSingleLocation(ctx context.Context, userID, id string) error {
	loc, err := e.store.GetLocation(ctx, userID, id)
	if err != nil {
		return err
	}
	if loc == nil || !loc.Alive() {
		return nil
	}
	if !loc.MissingHierarchy() {
		return nil
	}

	if err := e.enrichOne(ctx, loc); err != nil {
		return err
	}
	e.trigger.Notify()
	return nil
}

// listEnrichCandidates returns alive locations with at least one unknown
// hierarchy field.
func (e *Engine) listEnrichCandidates(ctx context.Context, userID string) ([]*model.Location, error) {
	query := `SELECT ` + store.LocationCols + `
	FROM locations
	WHERE user_id = ? AND deleted_at IS NULL
	  AND (address IS NULL OR neighborhood IS NULL OR postal_code IS NULL
	       OR city IS NULL OR subdivision IS NULL OR region IS NULL
	       OR country IS NULL)
	ORDER BY created_at ASC`

	rows, err := e.store.DB().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrichment candidates: %w", err)
	}
	defer rows.Close()

	return store.ScanLocations(rows)
}

// enrichOne reverse-geocodes a location and writes only the fields that
// were null before the call.
func (e *Engine) enrichOne(ctx context.Context, loc *model.Location) error {
	if e.geocoder == nil {
		return fmt.Errorf("no geocoder configured")
	}

	result, err := e.geocoder.ReverseGeocode(ctx, geocode.Point{Lat: loc.Latitude, Lng: loc.Longitude})
	if err != nil {
		return err
	}

	hier := loc.Hierarchy()
	if !hier.FillFrom(result) {
		return nil
	}

	_, err = e.store.DB().ExecContext(ctx, `
	UPDATE locations
	SET address = ?, neighborhood = ?, postal_code = ?, city = ?,
	    subdivision = ?, region = ?, country = ?,
	    updated_at = ?, synced = 0,
	    sync_action = COALESCE(sync_action, 'update')
	WHERE user_id = ? AND location_id = ? AND deleted_at IS NULL`,
		optStr(hier.Address), optStr(hier.Neighborhood), optStr(hier.PostalCode),
		optStr(hier.City), optStr(hier.Subdivision), optStr(hier.Region),
		optStr(hier.Country),
		e.now().UTC().Format(time.RFC3339),
		loc.UserID, loc.ID)
	if err != nil {
		return fmt.Errorf("failed to write enriched hierarchy for %s: %w", loc.ID, err)
	}
	return nil
}

// GeocodeEntries reverse-geocodes alive GPS entries whose status is null,
// pending, or error, filling null display fields and recording the outcome
// in geocode_status. A call that succeeds but returns no data is tracked
// separately from a failed call.
func (e *Engine) GeocodeEntries(ctx context.Context, userID string, progress Progress) (GeocodeSummary, error) {
	var sum GeocodeSummary

	entries, err := e.listGeocodeCandidates(ctx, userID)
	if err != nil {
		return sum, err
	}

	for i, entry := range entries {
		if i > 0 {
			if err := e.pause(ctx); err != nil {
				return sum, err
			}
		}

		outcome, err := e.geocodeEntry(ctx, entry)
		switch {
		case err != nil:
			e.log.Warn().Err(err).
				Str("entry_id", entry.ID).
				Msg("failed to geocode entry")
			sum.Errors++
		case outcome == geocodeNoData:
			sum.NoData++
		default:
			sum.Processed++
		}
		if progress != nil {
			progress(i+1, len(entries))
		}
	}

	if sum.Processed > 0 || sum.Errors > 0 || sum.NoData > 0 {
		e.trigger.Notify()
	}
	return sum, nil
}

type geocodeOutcome int

const (
	geocodeFilled geocodeOutcome = iota
	geocodeNoData
)

// listGeocodeCandidates returns alive GPS entries pending (re)geocoding.
func (e *Engine) listGeocodeCandidates(ctx context.Context, userID string) ([]*model.Entry, error) {
	query := `SELECT ` + store.EntryCols + `
	FROM entries
	WHERE user_id = ? AND deleted_at IS NULL
	  AND entry_latitude IS NOT NULL AND entry_longitude IS NOT NULL
	  AND (geocode_status IS NULL OR geocode_status IN ('pending', 'error'))
	ORDER BY created_at ASC`

	rows, err := e.store.DB().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list geocode candidates: %w", err)
	}
	defer rows.Close()

	return store.ScanEntries(rows)
}

// geocodeEntry reverse-geocodes one entry. On provider failure the entry is
// marked error (so the next sweep retries it) and the error is returned for
// counting. On success null display fields are filled and the entry is
// marked success, even when the provider found nothing nearby.
func (e *Engine) geocodeEntry(ctx context.Context, entry *model.Entry) (geocodeOutcome, error) {
	if e.geocoder == nil {
		return geocodeNoData, fmt.Errorf("no geocoder configured")
	}

	result, err := e.geocoder.ReverseGeocode(ctx, geocode.Point{Lat: *entry.Latitude, Lng: *entry.Longitude})
	if err != nil {
		if _, markErr := e.store.DB().ExecContext(ctx, `
		UPDATE entries SET geocode_status = 'error', synced = 0,
		    sync_action = COALESCE(sync_action, 'update')
		WHERE user_id = ? AND entry_id = ?`, entry.UserID, entry.ID); markErr != nil {
			e.log.Warn().Err(markErr).Str("entry_id", entry.ID).Msg("failed to mark geocode error")
		}
		return geocodeNoData, err
	}

	outcome := geocodeFilled
	if result.Empty() {
		outcome = geocodeNoData
	}

	hier := entry.Hierarchy()
	hier.FillFrom(result)

	_, err = e.store.DB().ExecContext(ctx, `
	UPDATE entries
	SET address = ?, neighborhood = ?, postal_code = ?, city = ?,
	    subdivision = ?, region = ?, country = ?,
	    geocode_status = 'success',
	    synced = 0, sync_action = COALESCE(sync_action, 'update')
	WHERE user_id = ? AND entry_id = ? AND deleted_at IS NULL`,
		optStr(hier.Address), optStr(hier.Neighborhood), optStr(hier.PostalCode),
		optStr(hier.City), optStr(hier.Subdivision), optStr(hier.Region),
		optStr(hier.Country),
		entry.UserID, entry.ID)
	if err != nil {
		return outcome, fmt.Errorf("failed to write geocoded fields for %s: %w", entry.ID, err)
	}
	return outcome, nil
}

// pause waits the configured inter-call delay, honoring cancellation.
func (e *Engine) pause(ctx context.Context) error {
	if e.geocodeDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(e.geocodeDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
