package model

import (
	"fmt"
	"time"
)

// GeocodeStatus tracks the outcome of the last geocoding attempt on an entry.
type GeocodeStatus string

const (
	// GeocodeNone means the entry has never been through a geocode sweep.
	// Stored as NULL.
	GeocodeNone GeocodeStatus = ""
	// GeocodePending marks an entry the UI has queued for geocoding.
	GeocodePending GeocodeStatus = "pending"
	// GeocodeSuccess means reverse geocoding completed.
	GeocodeSuccess GeocodeStatus = "success"
	// GeocodeError means the last attempt failed; the sweep retries these.
	GeocodeError GeocodeStatus = "error"
	// GeocodeSnapped means the entry was linked to a saved location instead
	// of being geocoded on its own.
	GeocodeSnapped GeocodeStatus = "snapped"
)

// Entry is the location-relevant slice of a journal item. The GPS capture
// is exact and set once; the display fields mirror a Location's hierarchy
// and are eventually consistent with the linked location, never strictly.
type Entry struct {
	// ===== Identity =====
	ID     string `json:"entry_id"`
	UserID string `json:"user_id"`

	// ===== GPS capture (private, immutable) =====
	Latitude  *float64 `json:"entry_latitude,omitempty"`
	Longitude *float64 `json:"entry_longitude,omitempty"`

	// ===== Denormalized display fields =====
	PlaceName    *string `json:"place_name,omitempty"`
	Address      *string `json:"address,omitempty"`
	Neighborhood *string `json:"neighborhood,omitempty"`
	PostalCode   *string `json:"postal_code,omitempty"`
	City         *string `json:"city,omitempty"`
	Subdivision  *string `json:"subdivision,omitempty"`
	Region       *string `json:"region,omitempty"`
	Country      *string `json:"country,omitempty"`

	// ===== Link =====
	LocationID    *string       `json:"location_id,omitempty"`
	GeocodeStatus GeocodeStatus `json:"geocode_status,omitempty"`

	// ===== Lifecycle =====
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// ===== Sync bookkeeping =====
	Synced     bool       `json:"synced"`
	SyncAction SyncAction `json:"sync_action,omitempty"`
}

// Validate checks required fields before an entry is persisted.
func (e *Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entry_id is required")
	}
	if e.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if (e.Latitude == nil) != (e.Longitude == nil) {
		return fmt.Errorf("entry coordinates must be set together")
	}
	return nil
}

// Alive reports whether the entry has not been tombstoned.
func (e *Entry) Alive() bool {
	return e.DeletedAt == nil
}

// HasGPS reports whether the entry carries an exact capture point.
func (e *Entry) HasGPS() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// Hierarchy returns the entry's denormalized display fields.
func (e *Entry) Hierarchy() Hierarchy {
	return Hierarchy{
		Address:      e.Address,
		Neighborhood: e.Neighborhood,
		PostalCode:   e.PostalCode,
		City:         e.City,
		Subdivision:  e.Subdivision,
		Region:       e.Region,
		Country:      e.Country,
	}
}
