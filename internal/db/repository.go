// Package db provides repository operations for checklist entries.
package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitepatrol/backend/internal/models"
)

// Repository provides persistence operations for submissions and location
// references.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries. Statements are
	// prepared on first use and reused.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from the cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

const entryColumns = `id, location, day, month, year, score, photo_url, uploaded_by,
	latitude, longitude, gps_address, photo_timestamp, is_gps_valid, device_info,
	created_at, updated_at, approved_by, approved_at`

// UpsertEntry persists an entry keyed on its (location, day, month, year)
// slot in a single atomic statement. A second submission for the same slot
// replaces the prior photo, score, GPS, and audit fields; the row id stays
// stable so external references survive corrections. The entry is updated in
// place with the persisted row.
func (r *Repository) UpsertEntry(entry *models.ChecklistEntry) error {
	now := time.Now().Unix()
	if entry.ID == "" {
		entry.ID = models.UUID(uuid.New().String())
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	query := `
	INSERT INTO checklist_entries (id, location, day, month, year, score, photo_url, uploaded_by,
		latitude, longitude, gps_address, photo_timestamp, is_gps_valid, device_info,
		created_at, updated_at, approved_by, approved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
	ON CONFLICT(location, day, month, year) DO UPDATE SET
		score = excluded.score,
		photo_url = excluded.photo_url,
		uploaded_by = excluded.uploaded_by,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		gps_address = excluded.gps_address,
		photo_timestamp = excluded.photo_timestamp,
		is_gps_valid = excluded.is_gps_valid,
		device_info = excluded.device_info,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		approved_by = NULL,
		approved_at = NULL
	`
	_, err := r.db.Exec(query,
		entry.ID, entry.Location, entry.Day, entry.Month, entry.Year, entry.Score,
		entry.PhotoURL, entry.UploadedBy,
		entry.Latitude, entry.Longitude, entry.GPSAddress, entry.PhotoTimestamp,
		entry.IsGpsValid, entry.DeviceInfo, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return err
	}

	// On a replaced slot the stored id is the original row's; read it back.
	persisted, err := r.GetEntryBySlot(entry.Location, entry.Day, entry.Month, entry.Year)
	if err != nil {
		return err
	}
	*entry = *persisted
	return nil
}

// GetEntry retrieves an entry by id.
func (r *Repository) GetEntry(id string) (*models.ChecklistEntry, error) {
	stmt, err := r.PrepareStmt("SELECT " + entryColumns + " FROM checklist_entries WHERE id = ?")
	if err != nil {
		return nil, err
	}
	return scanEntry(stmt.QueryRow(id))
}

// GetEntryBySlot retrieves the entry for one logical submission slot.
func (r *Repository) GetEntryBySlot(location string, day, month, year int) (*models.ChecklistEntry, error) {
	stmt, err := r.PrepareStmt("SELECT " + entryColumns +
		" FROM checklist_entries WHERE location = ? AND day = ? AND month = ? AND year = ?")
	if err != nil {
		return nil, err
	}
	return scanEntry(stmt.QueryRow(location, day, month, year))
}

// ListByMonth returns all entries for a month, ordered by day then location.
func (r *Repository) ListByMonth(month, year int) ([]*models.ChecklistEntry, error) {
	stmt, err := r.PrepareStmt("SELECT " + entryColumns +
		" FROM checklist_entries WHERE month = ? AND year = ? ORDER BY day, location")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(month, year)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// ListWithGPS returns the month's entries that carry both coordinates.
func (r *Repository) ListWithGPS(month, year int) ([]*models.ChecklistEntry, error) {
	stmt, err := r.PrepareStmt("SELECT " + entryColumns + ` FROM checklist_entries
		WHERE month = ? AND year = ? AND latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY day, location`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(month, year)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// RecentEntries returns the newest entries first, up to limit.
func (r *Repository) RecentEntries(limit int) ([]*models.ChecklistEntry, error) {
	stmt, err := r.PrepareStmt("SELECT " + entryColumns +
		" FROM checklist_entries ORDER BY created_at DESC, id LIMIT ?")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// UpdateEntryAddress replaces only the resolved address metadata. Used by the
// asynchronous geocode path; the watermarked pixels are never touched.
func (r *Repository) UpdateEntryAddress(id, address string) error {
	res, err := r.db.Exec(
		"UPDATE checklist_entries SET gps_address = ?, updated_at = ? WHERE id = ?",
		address, time.Now().Unix(), id,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApproveEntry records an approval. Approval is the only permitted mutation
// of a persisted submission besides deletion.
func (r *Repository) ApproveEntry(id, approver string, at time.Time) error {
	res, err := r.db.Exec(
		"UPDATE checklist_entries SET approved_by = ?, approved_at = ?, updated_at = ? WHERE id = ?",
		approver, at.Unix(), time.Now().Unix(), id,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteEntry removes an entry permanently.
func (r *Repository) DeleteEntry(id string) error {
	res, err := r.db.Exec("DELETE FROM checklist_entries WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpsertLocationRef stores the expected capture coordinate for a location.
func (r *Repository) UpsertLocationRef(ref *models.LocationRef) error {
	ref.UpdatedAt = time.Now().Unix()
	_, err := r.db.Exec(`
	INSERT INTO location_refs (location, latitude, longitude, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(location) DO UPDATE SET
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		updated_at = excluded.updated_at
	`, ref.Location, ref.Latitude, ref.Longitude, ref.UpdatedAt)
	return err
}

// GetLocationRef returns the expected coordinate for a location, or
// sql.ErrNoRows when none is configured.
func (r *Repository) GetLocationRef(location string) (*models.LocationRef, error) {
	stmt, err := r.PrepareStmt(
		"SELECT location, latitude, longitude, updated_at FROM location_refs WHERE location = ?")
	if err != nil {
		return nil, err
	}
	var ref models.LocationRef
	if err := stmt.QueryRow(location).Scan(&ref.Location, &ref.Latitude, &ref.Longitude, &ref.UpdatedAt); err != nil {
		return nil, err
	}
	return &ref, nil
}

// ListLocationRefs returns all configured references ordered by location.
func (r *Repository) ListLocationRefs() ([]*models.LocationRef, error) {
	rows, err := r.db.Query(
		"SELECT location, latitude, longitude, updated_at FROM location_refs ORDER BY location")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []*models.LocationRef
	for rows.Next() {
		var ref models.LocationRef
		if err := rows.Scan(&ref.Location, &ref.Latitude, &ref.Longitude, &ref.UpdatedAt); err != nil {
			return nil, err
		}
		refs = append(refs, &ref)
	}
	return refs, rows.Err()
}

// rowScanner abstracts sql.Row and sql.Rows for scanEntry.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.ChecklistEntry, error) {
	var e models.ChecklistEntry
	var lat, lon sql.NullFloat64
	var gpsAddress, deviceInfo, approvedBy sql.NullString
	var photoTimestamp, approvedAt sql.NullInt64
	var isGpsValid sql.NullBool

	err := row.Scan(
		&e.ID, &e.Location, &e.Day, &e.Month, &e.Year, &e.Score, &e.PhotoURL, &e.UploadedBy,
		&lat, &lon, &gpsAddress, &photoTimestamp, &isGpsValid, &deviceInfo,
		&e.CreatedAt, &e.UpdatedAt, &approvedBy, &approvedAt,
	)
	if err != nil {
		return nil, err
	}

	if lat.Valid {
		e.Latitude = &lat.Float64
	}
	if lon.Valid {
		e.Longitude = &lon.Float64
	}
	if gpsAddress.Valid {
		e.GPSAddress = &gpsAddress.String
	}
	if photoTimestamp.Valid {
		e.PhotoTimestamp = &photoTimestamp.Int64
	}
	if isGpsValid.Valid {
		e.IsGpsValid = &isGpsValid.Bool
	}
	if deviceInfo.Valid {
		e.DeviceInfo = &deviceInfo.String
	}
	if approvedBy.Valid {
		e.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		e.ApprovedAt = &approvedAt.Int64
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*models.ChecklistEntry, error) {
	defer rows.Close()
	var entries []*models.ChecklistEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
