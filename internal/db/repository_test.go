// Package db tests for the entries repository and slot upsert semantics.
package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/sitepatrol/backend/internal/models"
)

// setupRepo creates a migrated in-memory database.
func setupRepo(t *testing.T) *Repository {
	t.Helper()
	database, err := OpenMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := NewMigrator(database.DB).Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	repo := NewRepository(database.DB)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func boolp(v bool) *bool     { return &v }
func strp(v string) *string  { return &v }

func sampleEntry() *models.ChecklistEntry {
	return &models.ChecklistEntry{
		Location:       "Toilet Lobby",
		Day:            5,
		Month:          10,
		Year:           2025,
		Score:          90,
		PhotoURL:       "https://media.example.com/photos/abc.jpg",
		UploadedBy:     "worker-1",
		Latitude:       f64(-6.2088),
		Longitude:      f64(106.8456),
		GPSAddress:     strp("Loading address..."),
		PhotoTimestamp: i64(time.Now().Unix()),
		IsGpsValid:     boolp(true),
	}
}

func TestUpsertEntryInsertsAndReadsBack(t *testing.T) {
	repo := setupRepo(t)

	entry := sampleEntry()
	if err := repo.UpsertEntry(entry); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("UpsertEntry() did not assign an id")
	}

	got, err := repo.GetEntry(entry.ID.String())
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if got.Location != "Toilet Lobby" || got.Day != 5 || got.Month != 10 || got.Year != 2025 {
		t.Errorf("slot fields mismatch: %+v", got)
	}
	if got.Latitude == nil || *got.Latitude != -6.2088 {
		t.Errorf("Latitude = %v, want -6.2088", got.Latitude)
	}
	if got.IsGpsValid == nil || !*got.IsGpsValid {
		t.Errorf("IsGpsValid = %v, want true", got.IsGpsValid)
	}
}

func TestUpsertEntrySlotIdempotence(t *testing.T) {
	repo := setupRepo(t)

	first := sampleEntry()
	if err := repo.UpsertEntry(first); err != nil {
		t.Fatalf("first UpsertEntry() failed: %v", err)
	}

	second := sampleEntry()
	second.Score = 45
	second.PhotoURL = "https://media.example.com/photos/corrected.jpg"
	second.IsGpsValid = boolp(false)
	if err := repo.UpsertEntry(second); err != nil {
		t.Fatalf("second UpsertEntry() failed: %v", err)
	}

	// Exactly one row for the slot, reflecting the second submission.
	entries, err := repo.ListByMonth(10, 2025)
	if err != nil {
		t.Fatalf("ListByMonth() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("slot produced %d rows, want 1 (upsert law)", len(entries))
	}
	got := entries[0]
	if got.Score != 45 {
		t.Errorf("Score = %d, want second submission's 45", got.Score)
	}
	if got.PhotoURL != "https://media.example.com/photos/corrected.jpg" {
		t.Errorf("PhotoURL = %q, want second submission's", got.PhotoURL)
	}
	if got.IsGpsValid == nil || *got.IsGpsValid {
		t.Errorf("IsGpsValid = %v, want second submission's false", got.IsGpsValid)
	}
	if got.ID != first.ID {
		t.Errorf("row id changed across resubmission: %s -> %s", first.ID, got.ID)
	}
}

func TestUpsertEntryResubmissionClearsApproval(t *testing.T) {
	repo := setupRepo(t)

	entry := sampleEntry()
	if err := repo.UpsertEntry(entry); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	if err := repo.ApproveEntry(entry.ID.String(), "supervisor-1", time.Now()); err != nil {
		t.Fatalf("ApproveEntry() failed: %v", err)
	}

	if err := repo.UpsertEntry(sampleEntry()); err != nil {
		t.Fatalf("resubmission failed: %v", err)
	}
	got, err := repo.GetEntry(entry.ID.String())
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if got.ApprovedBy != nil || got.ApprovedAt != nil {
		t.Error("a corrected submission must drop the prior approval")
	}
}

func TestUpsertEntryNullGPSFields(t *testing.T) {
	repo := setupRepo(t)

	entry := sampleEntry()
	entry.Latitude = nil
	entry.Longitude = nil
	entry.GPSAddress = nil
	entry.IsGpsValid = nil
	if err := repo.UpsertEntry(entry); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}

	got, err := repo.GetEntry(entry.ID.String())
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if got.Latitude != nil || got.Longitude != nil {
		t.Error("coordinates should round-trip as NULL")
	}
	if got.IsGpsValid != nil {
		t.Errorf("IsGpsValid = %v, want nil (not evaluated)", *got.IsGpsValid)
	}
}

func TestListWithGPSFiltersNullCoordinates(t *testing.T) {
	repo := setupRepo(t)

	withGPS := sampleEntry()
	if err := repo.UpsertEntry(withGPS); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}

	without := sampleEntry()
	without.Location = "Warehouse Door"
	without.Latitude = nil
	without.Longitude = nil
	without.IsGpsValid = nil
	if err := repo.UpsertEntry(without); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}

	entries, err := repo.ListWithGPS(10, 2025)
	if err != nil {
		t.Fatalf("ListWithGPS() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Location != "Toilet Lobby" {
		t.Errorf("ListWithGPS returned %d entries, want only the GPS-bearing one", len(entries))
	}
}

func TestRecentEntriesOrderAndLimit(t *testing.T) {
	repo := setupRepo(t)

	locations := []string{"A", "B", "C"}
	base := time.Now().Unix()
	for i, loc := range locations {
		entry := sampleEntry()
		entry.Location = loc
		entry.CreatedAt = base + int64(i)
		if err := repo.UpsertEntry(entry); err != nil {
			t.Fatalf("UpsertEntry(%s) failed: %v", loc, err)
		}
	}

	entries, err := repo.RecentEntries(2)
	if err != nil {
		t.Fatalf("RecentEntries() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("RecentEntries(2) returned %d entries", len(entries))
	}
	if entries[0].Location != "C" || entries[1].Location != "B" {
		t.Errorf("entries not newest-first: %s, %s", entries[0].Location, entries[1].Location)
	}
}

func TestUpdateEntryAddress(t *testing.T) {
	repo := setupRepo(t)

	entry := sampleEntry()
	if err := repo.UpsertEntry(entry); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}

	if err := repo.UpdateEntryAddress(entry.ID.String(), "Jalan Sudirman, Jakarta, Indonesia"); err != nil {
		t.Fatalf("UpdateEntryAddress() failed: %v", err)
	}
	got, err := repo.GetEntry(entry.ID.String())
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if got.GPSAddress == nil || *got.GPSAddress != "Jalan Sudirman, Jakarta, Indonesia" {
		t.Errorf("GPSAddress = %v, want resolved address", got.GPSAddress)
	}
	// Only the address changed.
	if got.PhotoURL != entry.PhotoURL || got.Score != entry.Score {
		t.Error("UpdateEntryAddress touched fields beyond the address")
	}

	if err := repo.UpdateEntryAddress("missing-id", "x"); err != sql.ErrNoRows {
		t.Errorf("UpdateEntryAddress(missing) = %v, want sql.ErrNoRows", err)
	}
}

func TestDeleteEntry(t *testing.T) {
	repo := setupRepo(t)

	entry := sampleEntry()
	if err := repo.UpsertEntry(entry); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	if err := repo.DeleteEntry(entry.ID.String()); err != nil {
		t.Fatalf("DeleteEntry() failed: %v", err)
	}
	if _, err := repo.GetEntry(entry.ID.String()); err != sql.ErrNoRows {
		t.Errorf("GetEntry(deleted) = %v, want sql.ErrNoRows", err)
	}
	if err := repo.DeleteEntry(entry.ID.String()); err != sql.ErrNoRows {
		t.Errorf("DeleteEntry(missing) = %v, want sql.ErrNoRows", err)
	}
}

func TestLocationRefRoundTrip(t *testing.T) {
	repo := setupRepo(t)

	if _, err := repo.GetLocationRef("Toilet Lobby"); err != sql.ErrNoRows {
		t.Fatalf("GetLocationRef(unconfigured) = %v, want sql.ErrNoRows", err)
	}

	ref := &models.LocationRef{Location: "Toilet Lobby", Latitude: -6.2088, Longitude: 106.8456}
	if err := repo.UpsertLocationRef(ref); err != nil {
		t.Fatalf("UpsertLocationRef() failed: %v", err)
	}

	got, err := repo.GetLocationRef("Toilet Lobby")
	if err != nil {
		t.Fatalf("GetLocationRef() failed: %v", err)
	}
	if got.Latitude != -6.2088 || got.Longitude != 106.8456 {
		t.Errorf("ref coordinates mismatch: %+v", got)
	}

	// Replacing the ref updates in place.
	ref.Latitude = -6.3
	if err := repo.UpsertLocationRef(ref); err != nil {
		t.Fatalf("second UpsertLocationRef() failed: %v", err)
	}
	refs, err := repo.ListLocationRefs()
	if err != nil {
		t.Fatalf("ListLocationRefs() failed: %v", err)
	}
	if len(refs) != 1 || refs[0].Latitude != -6.3 {
		t.Errorf("refs after replacement: %+v", refs)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	database, err := OpenMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer database.Close()

	migrator := NewMigrator(database.DB)
	if err := migrator.Migrate(); err != nil {
		t.Fatalf("first Migrate() failed: %v", err)
	}
	if err := migrator.Migrate(); err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}

	version, err := migrator.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 2 {
		t.Errorf("CurrentVersion() = %d, want 2", version)
	}
}
