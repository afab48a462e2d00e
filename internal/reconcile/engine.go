// Package reconcile implements the reconciliation engine: the sweeps and
// merges that keep the denormalized locations/entries pair convergent.
//
// Sweeps are idempotent and resumable. Each multi-row mutation commits in
// its own transaction, so a crash mid-sweep leaves prior merges intact and
// re-running converges on the same end state. Batch operations return
// {processed, errors} summaries instead of opaque failures so the UI can
// report partial outcomes.
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/waymark-app/waymark/internal/geocode"
	"github.com/waymark-app/waymark/internal/location"
	"github.com/waymark-app/waymark/internal/model"
	"github.com/waymark-app/waymark/internal/store"
)

// DefaultGeocodeDelay spaces out external geocoder calls to respect
// provider rate limits. Enrichment loops are sequential, never parallel.
const DefaultGeocodeDelay = 200 * time.Millisecond

// Summary is the user-facing outcome of a batch sweep.
type Summary struct {
	Processed int
	Errors    int
}

// GeocodeSummary additionally tracks geocoder calls that succeeded but
// found nothing nearby, which is a distinct outcome from a failed call.
type GeocodeSummary struct {
	Processed int
	NoData    int
	Errors    int
}

// Progress reports sweep advancement for UI responsiveness. Sweeps have no
// hard cancellation contract beyond their context; they run to completion
// or first unrecoverable error.
type Progress func(current, total int)

// Engine runs reconciliation over a user's locations and entries.
type Engine struct {
	store    *store.Store
	geocoder geocode.Client
	trigger  location.Notifier
	log      zerolog.Logger

	geocodeDelay time.Duration
	now          func() time.Time
}

// New creates an engine. geocoder may be nil if only local sweeps are used;
// trigger may be nil.
func New(s *store.Store, geocoder geocode.Client, trigger location.Notifier, log zerolog.Logger) *Engine {
	if trigger == nil {
		trigger = nopNotifier{}
	}
	return &Engine{
		store:        s,
		geocoder:     geocoder,
		trigger:      trigger,
		log:          log,
		geocodeDelay: DefaultGeocodeDelay,
		now:          time.Now,
	}
}

// SetGeocodeDelay overrides the inter-call delay (tests use zero).
func (e *Engine) SetGeocodeDelay(d time.Duration) {
	e.geocodeDelay = d
}

type nopNotifier struct{}

func (nopNotifier) Notify() {}

// MergeDuplicateLocations sweeps alive locations for groups sharing a
// normalized (name, address) pair and collapses each group into its
// most-used member. Survivorship by entry count keeps the row with the
// richest history. The duplicate query runs fresh each iteration so chains
// created by the re-pointing itself are picked up, and concurrent external
// edits are tolerated.
//
// Each loser is merged in its own transaction. On any failure the sweep
// aborts with the counts committed so far; re-running resumes safely.
func (e *Engine) MergeDuplicateLocations(ctx context.Context, userID string, progress Progress) (Summary, error) {
	var sum Summary

	total, err := e.countDuplicateGroups(ctx, userID)
	if err != nil {
		return sum, err
	}

	groupsDone := 0
	for {
		ids, err := e.nextDuplicateGroup(ctx, userID)
		if err != nil {
			sum.Errors++
			return sum, err
		}
		if ids == nil {
			break
		}
		if len(ids) < 2 {
			// The group query just found duplicates; fewer than two rows
			// means the sweep's own invariant is broken.
			sum.Errors++
			return sum, fmt.Errorf("duplicate group collapsed to %d rows", len(ids))
		}

		winnerID := ids[0]
		for _, loserID := range ids[1:] {
			if err := e.mergeLoser(ctx, userID, winnerID, loserID); err != nil {
				sum.Errors++
				return sum, fmt.Errorf("failed to merge %s into %s: %w", loserID, winnerID, err)
			}
			sum.Processed++
		}

		groupsDone++
		if progress != nil {
			progress(groupsDone, total)
		}
	}

	if sum.Processed > 0 {
		e.log.Info().Int("merged", sum.Processed).Msg("duplicate sweep complete")
		e.trigger.Notify()
	}
	return sum, nil
}

// countDuplicateGroups sizes the sweep for progress reporting. The count is
// advisory: re-pointing can create or collapse groups mid-sweep.
func (e *Engine) countDuplicateGroups(ctx context.Context, userID string) (int, error) {
	groups, err := e.duplicateGroups(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(groups), nil
}

// duplicateGroups buckets alive locations by normalized (name, address),
// absent address treated as empty. Normalization happens in Go with the same
// key FindDuplicateIn uses: SQLite's lower() folds ASCII only, and the sweep
// must file "CAFÉ" and "café" under one key.
func (e *Engine) duplicateGroups(ctx context.Context, userID string) ([][]*model.Location, error) {
	locs, err := e.store.ListAliveLocations(ctx, userID)
	if err != nil {
		return nil, err
	}

	type dupKey struct{ name, addr string }
	buckets := make(map[dupKey][]*model.Location)
	var order []dupKey
	for _, loc := range locs {
		k := dupKey{name: model.NormalizeKey(loc.Name)}
		if loc.Address != nil {
			k.addr = model.NormalizeKey(*loc.Address)
		}
		if len(buckets[k]) == 0 {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], loc)
	}

	var groups [][]*model.Location
	for _, k := range order {
		if len(buckets[k]) > 1 {
			groups = append(groups, buckets[k])
		}
	}
	return groups, nil
}

// nextDuplicateGroup returns the member IDs of one duplicate group, ranked
// by alive referencing entries descending (the winner first), or nil when
// no duplicate group remains.
func (e *Engine) nextDuplicateGroup(ctx context.Context, userID string) ([]string, error) {
	groups, err := e.duplicateGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}

	members := groups[0]
	counts := make(map[string]int64, len(members))
	for _, loc := range members {
		n, err := location.CountLinkedEntries(ctx, e.store.DB(), userID, loc.ID)
		if err != nil {
			return nil, err
		}
		counts[loc.ID] = n
	}
	sort.SliceStable(members, func(i, j int) bool {
		if counts[members[i].ID] != counts[members[j].ID] {
			return counts[members[i].ID] > counts[members[j].ID]
		}
		return members[i].CreatedAt.Before(members[j].CreatedAt)
	})

	ids := make([]string, len(members))
	for i, loc := range members {
		ids[i] = loc.ID
	}
	return ids, nil
}

// mergeLoser re-points the loser's alive entries to the winner and
// tombstones the loser in one transaction.
func (e *Engine) mergeLoser(ctx context.Context, userID, winnerID, loserID string) error {
	now := e.now().UTC().Format(time.RFC3339)

	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		UPDATE entries
		SET location_id = ?, synced = 0,
		    sync_action = COALESCE(sync_action, 'update')
		WHERE user_id = ? AND location_id = ? AND deleted_at IS NULL`,
			winnerID, userID, loserID)
		if err != nil {
			return fmt.Errorf("failed to re-point entries: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
		UPDATE locations
		SET deleted_at = ?, updated_at = ?, synced = 0, sync_action = 'delete'
		WHERE user_id = ? AND location_id = ? AND deleted_at IS NULL`,
			now, now, userID, loserID)
		if err != nil {
			return fmt.Errorf("failed to tombstone loser: %w", err)
		}
		return nil
	})
}

// MergeTwoSavedLocations merges the loser into the caller-chosen winner:
// the user picks which name survives. All loser entries move to the winner
// and take on the winner's current name and hierarchy, then the loser is
// tombstoned, all in one transaction. Unknown or tombstoned IDs are a
// zero-count no-op. Returns the number of entries moved.
func (e *Engine) MergeTwoSavedLocations(ctx context.Context, userID, winnerID, loserID string) (int64, error) {
	var moved int64

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		winner, err := store.GetLocation(ctx, tx, userID, winnerID)
		if err != nil {
			return err
		}
		loser, err := store.GetLocation(ctx, tx, userID, loserID)
		if err != nil {
			return err
		}
		if winner == nil || loser == nil || !winner.Alive() || !loser.Alive() {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
		UPDATE entries
		SET location_id = ?, place_name = ?,
		    address = ?, neighborhood = ?, postal_code = ?, city = ?,
		    subdivision = ?, region = ?, country = ?,
		    synced = 0, sync_action = COALESCE(sync_action, 'update')
		WHERE user_id = ? AND location_id = ? AND deleted_at IS NULL`,
			winner.ID, winner.Name,
			optStr(winner.Address), optStr(winner.Neighborhood), optStr(winner.PostalCode),
			optStr(winner.City), optStr(winner.Subdivision), optStr(winner.Region),
			optStr(winner.Country),
			userID, loser.ID)
		if err != nil {
			return fmt.Errorf("failed to move entries: %w", err)
		}
		moved, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}

		now := e.now().UTC().Format(time.RFC3339)
		_, err = tx.ExecContext(ctx, `
		UPDATE locations
		SET deleted_at = ?, updated_at = ?, synced = 0, sync_action = 'delete'
		WHERE user_id = ? AND location_id = ?`,
			now, now, userID, loser.ID)
		if err != nil {
			return fmt.Errorf("failed to tombstone loser: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if moved > 0 {
		e.trigger.Notify()
	}
	return moved, nil
}

// DismissMergeSuggestion records that the user declined to merge the pair.
// Each ID lands in the other's merge_ignore_ids so a future similarity scan
// skips the pair in either direction. Advisory only: a manual merge can
// still cross it. Unknown IDs are a no-op.
func (e *Engine) DismissMergeSuggestion(ctx context.Context, userID, idA, idB string) error {
	dismissed := false
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		a, err := store.GetLocation(ctx, tx, userID, idA)
		if err != nil {
			return err
		}
		b, err := store.GetLocation(ctx, tx, userID, idB)
		if err != nil {
			return err
		}
		if a == nil || b == nil || !a.Alive() || !b.Alive() {
			return nil
		}

		a.MergeIgnoreIDs.Add(b.ID)
		b.MergeIgnoreIDs.Add(a.ID)

		for _, loc := range []*model.Location{a, b} {
			ignoreJSON, err := model.EncodeIDSet(loc.MergeIgnoreIDs)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
			UPDATE locations
			SET merge_ignore_ids = ?, updated_at = ?, synced = 0,
			    sync_action = COALESCE(sync_action, 'update')
			WHERE user_id = ? AND location_id = ?`,
				ignoreJSON, e.now().UTC().Format(time.RFC3339), userID, loc.ID)
			if err != nil {
				return fmt.Errorf("failed to record dismissal on %s: %w", loc.ID, err)
			}
		}
		dismissed = true
		return nil
	})
	if err != nil {
		return err
	}

	if dismissed {
		e.trigger.Notify()
	}
	return nil
}

// Pair is a merge suggestion produced by SimilarPairs.
type Pair struct {
	A              *model.Location
	B              *model.Location
	DistanceMeters float64
}

// SimilarPairs scans alive locations for pairs within radiusMeters of each
// other that the user has not mutually dismissed, for the UI's merge
// suggestions.
func (e *Engine) SimilarPairs(ctx context.Context, userID string, radiusMeters float64) ([]Pair, error) {
	locs, err := e.store.ListAliveLocations(ctx, userID)
	if err != nil {
		return nil, err
	}

	var pairs []Pair
	for i := 0; i < len(locs); i++ {
		for j := i + 1; j < len(locs); j++ {
			a, b := locs[i], locs[j]
			if a.MergeIgnoreIDs.Contains(b.ID) || b.MergeIgnoreIDs.Contains(a.ID) {
				continue
			}
			d := haversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
			if d <= radiusMeters {
				pairs = append(pairs, Pair{A: a, B: b, DistanceMeters: d})
			}
		}
	}
	return pairs, nil
}

// optStr converts an optional string for SQL parameters.
func optStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
