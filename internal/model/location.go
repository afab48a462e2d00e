// Package model defines the records the reconciliation engine works on:
// saved locations, journal entries, and their sync bookkeeping.
//
// Both record types are flat and field-updatable so the push transport can
// ship them as independent last-write-wins rows. Timestamps are stored as
// RFC3339 strings at the SQLite boundary.
package model

import (
	"fmt"
	"strings"
	"time"
)

// SyncAction marks what the push transport should do with a dirty row.
type SyncAction string

const (
	SyncActionNone   SyncAction = ""
	SyncActionCreate SyncAction = "create"
	SyncActionUpdate SyncAction = "update"
	SyncActionDelete SyncAction = "delete"
)

// Location source provenance tags.
const (
	SourceManual   = "manual"
	SourcePOI      = "poi-provider"
	SourcePromoted = "promoted"
)

// Location is a named, user-owned geographic point reusable across entries.
type Location struct {
	// ===== Identity =====
	ID     string `json:"location_id"`
	UserID string `json:"user_id"`

	// ===== Geometry =====
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// ===== Descriptive =====
	Name   string `json:"name"`
	Source string `json:"source"` // manual, poi-provider, promoted

	// Hierarchy fields are independently fillable; nil means "not known yet"
	// and is the only state enrichment is allowed to overwrite.
	Address      *string `json:"address,omitempty"`
	Neighborhood *string `json:"neighborhood,omitempty"`
	PostalCode   *string `json:"postal_code,omitempty"`
	City         *string `json:"city,omitempty"`
	Subdivision  *string `json:"subdivision,omitempty"`
	Region       *string `json:"region,omitempty"`
	Country      *string `json:"country,omitempty"`

	// ===== External references =====
	MapboxPlaceID   *string `json:"mapbox_place_id,omitempty"`
	FoursquareFsqID *string `json:"foursquare_fsq_id,omitempty"`

	// MergeIgnoreIDs holds location IDs the user declined to merge with.
	// Advisory only: manual merges may still cross it.
	MergeIgnoreIDs IDSet `json:"merge_ignore_ids,omitempty"`

	// ===== Lifecycle =====
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// ===== Sync bookkeeping =====
	Synced     bool       `json:"synced"`
	SyncAction SyncAction `json:"sync_action,omitempty"`
}

// Validate checks required fields before a location is persisted.
func (l *Location) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("location_id is required")
	}
	if l.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if l.Name == "" {
		return fmt.Errorf("name is required")
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %f", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %f", l.Longitude)
	}
	return nil
}

// Alive reports whether the location has not been tombstoned.
func (l *Location) Alive() bool {
	return l.DeletedAt == nil
}

// Hierarchy returns the location's display fields as a single value,
// used when propagating to entries or overwriting merged entries.
func (l *Location) Hierarchy() Hierarchy {
	return Hierarchy{
		Address:      l.Address,
		Neighborhood: l.Neighborhood,
		PostalCode:   l.PostalCode,
		City:         l.City,
		Subdivision:  l.Subdivision,
		Region:       l.Region,
		Country:      l.Country,
	}
}

// MissingHierarchy reports whether any hierarchy field is still unknown,
// i.e. the location is a candidate for geocoder enrichment.
func (l *Location) MissingHierarchy() bool {
	return l.Address == nil || l.Neighborhood == nil || l.PostalCode == nil ||
		l.City == nil || l.Subdivision == nil || l.Region == nil || l.Country == nil
}

// Hierarchy is the geographic display hierarchy shared by locations,
// entries, and reverse-geocode results. All fields are optional.
type Hierarchy struct {
	Address      *string
	Neighborhood *string
	PostalCode   *string
	City         *string
	Subdivision  *string
	Region       *string
	Country      *string
}

// Empty reports whether no field is set.
func (h Hierarchy) Empty() bool {
	return h.Address == nil && h.Neighborhood == nil && h.PostalCode == nil &&
		h.City == nil && h.Subdivision == nil && h.Region == nil && h.Country == nil
}

// FillFrom copies fields from other into h where h's field is nil.
// Non-nil fields are never overwritten. Returns true if anything changed.
func (h *Hierarchy) FillFrom(other Hierarchy) bool {
	changed := false
	fill := func(dst **string, src *string) {
		if *dst == nil && src != nil {
			*dst = src
			changed = true
		}
	}
	fill(&h.Address, other.Address)
	fill(&h.Neighborhood, other.Neighborhood)
	fill(&h.PostalCode, other.PostalCode)
	fill(&h.City, other.City)
	fill(&h.Subdivision, other.Subdivision)
	fill(&h.Region, other.Region)
	fill(&h.Country, other.Country)
	return changed
}

// NormalizeKey lowercases and trims a name or address for duplicate
// matching. Nil stays distinct from empty: a present/absent address
// mismatch is never a duplicate.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// StrPtr returns a pointer to s. Convenience for optional fields.
func StrPtr(s string) *string {
	return &s
}
