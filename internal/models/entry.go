// Package models provides data model definitions for the sitepatrol backend.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Coordinate is a captured geographic position. Immutable once captured.
type Coordinate struct {
	Latitude  float64 `db:"latitude" json:"latitude"`
	Longitude float64 `db:"longitude" json:"longitude"`
}

// Valid reports whether the coordinate lies in the WGS84 range.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// GeoAddress is a resolved human-readable address. Always fully populated;
// on lookup failure Formatted degrades to the raw coordinate string.
type GeoAddress struct {
	Address   string `json:"address"`
	City      string `json:"city"`
	Country   string `json:"country"`
	Formatted string `json:"formatted"`
}

// DeviceAuditVersion is the current DeviceAudit schema version. Bump when
// fields are added so stored blobs remain interpretable.
const DeviceAuditVersion = 1

// DeviceAudit is the client device fingerprint captured at submission time.
// It exists purely for audit; nothing validates against it.
type DeviceAudit struct {
	SchemaVersion int    `json:"schema_version"`
	Platform      string `json:"platform,omitempty"`
	Locale        string `json:"locale,omitempty"`
	Screen        string `json:"screen,omitempty"`
	ClientTime    string `json:"client_time,omitempty"`
}

// ChecklistEntry represents one persisted inspection submission.
// The tuple (Location, Day, Month, Year) is the unique logical slot:
// resubmitting for the same slot replaces the prior record.
type ChecklistEntry struct {
	ID             UUID     `db:"id" json:"id"`
	Location       string   `db:"location" json:"location"`
	Day            int      `db:"day" json:"day"`
	Month          int      `db:"month" json:"month"`
	Year           int      `db:"year" json:"year"`
	Score          int      `db:"score" json:"score"`
	PhotoURL       string   `db:"photo_url" json:"photo_url"`
	UploadedBy     string   `db:"uploaded_by" json:"uploaded_by"`
	Latitude       *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude      *float64 `db:"longitude" json:"longitude,omitempty"`
	GPSAddress     *string  `db:"gps_address" json:"gps_address,omitempty"`
	PhotoTimestamp *int64   `db:"photo_timestamp" json:"photo_timestamp,omitempty"`
	// IsGpsValid is nil when no expected-location reference was configured
	// ("not evaluated"), distinct from false ("evaluated and failed").
	IsGpsValid *bool   `db:"is_gps_valid" json:"is_gps_valid,omitempty"`
	DeviceInfo *string `db:"device_info" json:"device_info,omitempty"`
	CreatedAt  int64   `db:"created_at" json:"created_at"`
	UpdatedAt  int64   `db:"updated_at" json:"updated_at"`
	ApprovedBy *string `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt *int64  `db:"approved_at" json:"approved_at,omitempty"`
}

// TableName returns the table name for ChecklistEntry.
func (ChecklistEntry) TableName() string {
	return "checklist_entries"
}

// HasGPS reports whether both coordinates are present.
func (e *ChecklistEntry) HasGPS() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// Coordinate returns the entry's coordinate; ok is false when GPS is absent.
func (e *ChecklistEntry) Coordinate() (Coordinate, bool) {
	if !e.HasGPS() {
		return Coordinate{}, false
	}
	return Coordinate{Latitude: *e.Latitude, Longitude: *e.Longitude}, true
}

// CreatedAtTime returns CreatedAt as time.Time.
func (e *ChecklistEntry) CreatedAtTime() time.Time {
	return time.Unix(e.CreatedAt, 0)
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (e *ChecklistEntry) UpdatedAtTime() time.Time {
	return time.Unix(e.UpdatedAt, 0)
}

// Touch updates the UpdatedAt timestamp.
func (e *ChecklistEntry) Touch() {
	e.UpdatedAt = time.Now().Unix()
}

// LocationRef is the expected capture coordinate configured for a location.
// Entries submitted for locations without a ref are not proximity-evaluated.
type LocationRef struct {
	Location  string  `db:"location" json:"location"`
	Latitude  float64 `db:"latitude" json:"latitude"`
	Longitude float64 `db:"longitude" json:"longitude"`
	UpdatedAt int64   `db:"updated_at" json:"updated_at"`
}

// Coordinate returns the reference coordinate.
func (r *LocationRef) Coordinate() Coordinate {
	return Coordinate{Latitude: r.Latitude, Longitude: r.Longitude}
}
