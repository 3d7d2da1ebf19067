// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents an applied database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migration is an in-source schema step. Migrations are embedded rather than
// read from a directory so the binary is self-contained.
type migration struct {
	version     int
	description string
	sql         string
}

var migrations = []migration{
	{
		version:     1,
		description: "checklist entries with unique submission slot",
		sql: `
		CREATE TABLE IF NOT EXISTS checklist_entries (
			id TEXT PRIMARY KEY,
			location TEXT NOT NULL CHECK(length(location) > 0),
			day INTEGER NOT NULL CHECK(day BETWEEN 1 AND 31),
			month INTEGER NOT NULL CHECK(month BETWEEN 1 AND 12),
			year INTEGER NOT NULL CHECK(year > 0),
			score INTEGER NOT NULL CHECK(score BETWEEN 0 AND 100),
			photo_url TEXT NOT NULL,
			uploaded_by TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			gps_address TEXT,
			photo_timestamp INTEGER,
			is_gps_valid INTEGER,
			device_info TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			approved_by TEXT,
			approved_at INTEGER,
			UNIQUE(location, day, month, year)
		);

		CREATE INDEX IF NOT EXISTS idx_entries_month_year
			ON checklist_entries(year, month);
		CREATE INDEX IF NOT EXISTS idx_entries_created_at
			ON checklist_entries(created_at DESC);
		`,
	},
	{
		version:     2,
		description: "expected coordinate references per location",
		sql: `
		CREATE TABLE IF NOT EXISTS location_refs (
			location TEXT PRIMARY KEY CHECK(length(location) > 0),
			latitude REAL NOT NULL CHECK(latitude BETWEEN -90 AND 90),
			longitude REAL NOT NULL CHECK(longitude BETWEEN -180 AND 180),
			updated_at INTEGER NOT NULL
		);
		`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations in order, each inside its own
// transaction. A migration whose stored checksum no longer matches its
// in-source SQL aborts the run.
func (m *Migrator) Migrate() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	appliedByVersion := make(map[int]Migration, len(applied))
	for _, a := range applied {
		appliedByVersion[a.Version] = a
	}

	for _, mig := range migrations {
		sum := checksum(mig.sql)
		if prev, ok := appliedByVersion[mig.version]; ok {
			if prev.Checksum != sum {
				return fmt.Errorf("migration %d checksum mismatch: applied %s, source %s",
					mig.version, prev.Checksum, sum)
			}
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", mig.version, err)
		}
		if _, err := tx.Exec(mig.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", mig.version, mig.description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
			mig.version, time.Now().Unix(), mig.description, sum,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", mig.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", mig.version, err)
		}
	}
	return nil
}

func checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}
