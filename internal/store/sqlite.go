// Package store persists committed field values in SQLite.
//
// The store is the downstream consumer of the sync engine: it implements
// the engine's change handler, keeps the latest value and a revision per
// field, and appends every accepted commit to a log.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"fieldsync/internal/clock"
)

// ErrNotFound is returned when a field has no stored value.
var ErrNotFound = errors.New("store: field not found")

// Store represents the SQLite value store.
type Store struct {
	db    *sql.DB
	clock clock.TimeSource
}

// Option configures a Store.
type Option func(*Store)

// WithClock timestamps rows with ts instead of the wall clock.
func WithClock(ts clock.TimeSource) Option {
	return func(s *Store) { s.clock = ts }
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s := &Store{db: db, clock: clock.NewRealTimeSource()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for migrations tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// OnChange records a value committed by the editor. Writing the value the
// field already holds is a no-op.
func (s *Store) OnChange(fieldID, value string) error {
	_, err := s.write(fieldID, value, SourceEditor)
	return err
}

// Set records an external write, as the parent store pushing a value. It
// returns the resulting revision.
func (s *Store) Set(fieldID, value string) (int64, error) {
	return s.write(fieldID, value, SourceExternal)
}

func (s *Store) write(fieldID, value, source string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	var revision int64
	err = tx.QueryRow(`SELECT value, revision FROM field_values WHERE field_id = ?`, fieldID).
		Scan(&current, &revision)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, fmt.Errorf("read field %q: %w", fieldID, err)
	case current == value:
		return revision, nil
	}

	revision++
	now := s.clock.Now().UnixNano()

	if _, err := tx.Exec(`
		INSERT INTO field_values (field_id, value, revision, updated_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(field_id) DO UPDATE SET
			value = excluded.value,
			revision = excluded.revision,
			updated_ns = excluded.updated_ns`,
		fieldID, value, revision, now,
	); err != nil {
		return 0, fmt.Errorf("upsert field %q: %w", fieldID, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO commit_log (id, field_id, value, revision, committed_ns, source)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.Must(uuid.NewV7()).String(), fieldID, value, revision, now, source,
	); err != nil {
		return 0, fmt.Errorf("append commit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return revision, nil
}

// Get returns the stored value of a field.
func (s *Store) Get(fieldID string) (*FieldValue, error) {
	var v FieldValue
	var updated int64
	err := s.db.QueryRow(`
		SELECT field_id, value, revision, updated_ns
		FROM field_values WHERE field_id = ?`, fieldID,
	).Scan(&v.FieldID, &v.Value, &v.Revision, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get %q: %w", fieldID, ErrNotFound)
		}
		return nil, fmt.Errorf("get %q: %w", fieldID, err)
	}
	v.UpdatedAt = time.Unix(0, updated).UTC()
	return &v, nil
}

// List returns every stored field ordered by id.
func (s *Store) List() ([]FieldValue, error) {
	rows, err := s.db.Query(`
		SELECT field_id, value, revision, updated_ns
		FROM field_values ORDER BY field_id`)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	var out []FieldValue
	for rows.Next() {
		var v FieldValue
		var updated int64
		if err := rows.Scan(&v.FieldID, &v.Value, &v.Revision, &updated); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		v.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

// History returns up to limit commits of a field, newest first. A
// non-positive limit returns all of them.
func (s *Store) History(fieldID string, limit int) ([]CommitEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, field_id, value, revision, source, committed_ns
		FROM commit_log WHERE field_id = ?
		ORDER BY revision DESC LIMIT ?`, fieldID, limit)
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", fieldID, err)
	}
	defer rows.Close()

	var out []CommitEntry
	for rows.Next() {
		var e CommitEntry
		var committed int64
		if err := rows.Scan(&e.ID, &e.FieldID, &e.Value, &e.Revision, &e.Source, &committed); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		e.CommittedAt = time.Unix(0, committed).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
