package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/clock"
)

func openTestStore(t *testing.T) (*Store, *clock.EventTimeSource) {
	t.Helper()
	ts := clock.NewEventTimeSource()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), WithClock(ts))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, ts
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
}

func TestMigrations(t *testing.T) {
	s, _ := openTestStore(t)

	status, err := GetMigrationStatus(s.DB())
	require.NoError(t, err)
	assert.Equal(t, 2, status.CurrentVersion)
	assert.Equal(t, 2, status.LatestVersion)
	assert.Empty(t, status.Pending)

	// Running again is a no-op.
	require.NoError(t, MigrateDB(s.DB()))

	require.NoError(t, RollbackMigration(s.DB()))
	status, err = GetMigrationStatus(s.DB())
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentVersion)
	require.Len(t, status.Pending, 1)

	require.NoError(t, MigrateDB(s.DB()))
	status, err = GetMigrationStatus(s.DB())
	require.NoError(t, err)
	assert.Equal(t, 2, status.CurrentVersion)
}

func TestOnChangeRecordsRevisions(t *testing.T) {
	s, ts := openTestStore(t)

	require.NoError(t, s.OnChange("title", "호텔"))
	ts.Advance(time.Second)
	require.NoError(t, s.OnChange("title", "호텔 객실"))
	require.NoError(t, s.OnChange("title", "호텔 객실"))

	v, err := s.Get("title")
	require.NoError(t, err)
	assert.Equal(t, "호텔 객실", v.Value)
	assert.Equal(t, int64(2), v.Revision)
	assert.Equal(t, clock.Epoch.Add(time.Second), v.UpdatedAt)

	history, err := s.History("title", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "호텔 객실", history[0].Value)
	assert.Equal(t, int64(2), history[0].Revision)
	assert.Equal(t, SourceEditor, history[0].Source)
	assert.Equal(t, "호텔", history[1].Value)
	assert.NotEqual(t, history[0].ID, history[1].ID)
}

func TestSetIsExternal(t *testing.T) {
	s, _ := openTestStore(t)

	rev, err := s.Set("price", "100")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	rev, err = s.Set("price", "100")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev, "same value keeps the revision")

	require.NoError(t, s.OnChange("price", "120"))

	history, err := s.History("price", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, SourceEditor, history[0].Source)

	history, err = s.History("price", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, SourceExternal, history[1].Source)
}

func TestGetMissing(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Get("nothing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestList(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.OnChange("b", "2"))
	require.NoError(t, s.OnChange("a", "1"))

	values, err := s.List()
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "a", values[0].FieldID)
	assert.Equal(t, "b", values[1].FieldID)
}
