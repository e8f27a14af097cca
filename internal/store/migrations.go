package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations contains all database migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with field values and commit log",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Record whether a commit came from the editor or an external write",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

const migrationV1Up = `
-- Latest committed value per field
CREATE TABLE IF NOT EXISTS field_values (
    field_id    TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    revision    INTEGER NOT NULL,
    updated_ns  INTEGER NOT NULL
);

-- Append-only history of commits
CREATE TABLE IF NOT EXISTS commit_log (
    id            TEXT PRIMARY KEY,
    field_id      TEXT NOT NULL,
    value         TEXT NOT NULL,
    revision      INTEGER NOT NULL,
    committed_ns  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_commit_log_field ON commit_log(field_id, revision);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_commit_log_field;
DROP TABLE IF EXISTS commit_log;
DROP TABLE IF EXISTS field_values;
`

const migrationV2Up = `
ALTER TABLE commit_log ADD COLUMN source TEXT NOT NULL DEFAULT 'editor';
`

const migrationV2Down = `
ALTER TABLE commit_log DROP COLUMN source;
`

// MigrateDB applies all pending migrations.
func MigrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	currentVersion, err := schemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// RollbackMigration rolls back the last applied migration.
func RollbackMigration(db *sql.DB) error {
	currentVersion, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if currentVersion == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == currentVersion {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %d not found", currentVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.Exec(migration.Down); err != nil {
		tx.Rollback()
		return fmt.Errorf("rollback migration %d: %w", currentVersion, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", currentVersion); err != nil {
		tx.Rollback()
		return fmt.Errorf("remove migration record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}
	return nil
}

// MigrationStatus describes the schema version of a database.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
}

// GetMigrationStatus reports applied and pending migrations.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	currentVersion, err := schemaVersion(db)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{
		CurrentVersion: currentVersion,
		LatestVersion:  migrations[len(migrations)-1].Version,
	}
	for _, m := range migrations {
		if m.Version > currentVersion {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return v, nil
}
