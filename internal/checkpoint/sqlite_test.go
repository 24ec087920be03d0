package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvlad212/moviesync/internal/model"
)

func openTestSQLite(t *testing.T, path, namespace string, ttl time.Duration) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(path, namespace, ttl, testPolicy(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSQLite_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	openTestSQLite(t, path, "movies", 0)

	_, err := os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path, "movies", 0, testPolicy(), nil)
		require.NoError(t, err, "iteration %d", i)
		s.Close()
	}

	s := openTestSQLite(t, path, "movies", 0)
	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpenSQLite_InvalidPath(t *testing.T) {
	_, err := OpenSQLite("/nonexistent/dir/checkpoints.db", "movies", 0, testPolicy(), nil)
	assert.Error(t, err)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	t1 := at("2024-03-01T10:00:00Z")

	s1, err := OpenSQLite(path, "movies", 0, testPolicy(), nil)
	require.NoError(t, err)
	require.NoError(t, s1.Advance(ctx, t1, model.FilmWork))
	require.NoError(t, s1.Close())

	s2 := openTestSQLite(t, path, "movies", 0)
	got, err := s2.Checkpoint(ctx, model.FilmWork)
	require.NoError(t, err)
	assert.Equal(t, t1, got)
}

func TestSQLiteStore_NamespacesAreIndependent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	movies := openTestSQLite(t, path, "movies", 0)

	require.NoError(t, movies.Advance(ctx, at("2024-03-01T10:00:00Z"), model.Genre))
	ok, err := movies.TryAcquireLock(ctx, model.Genre)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, movies.Close())

	genres := openTestSQLite(t, path, "genres", 0)
	all, err := genres.Checkpoints(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	ok, err = genres.TryAcquireLock(ctx, model.Genre)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStore_LockTTL(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, filepath.Join(t.TempDir(), "checkpoints.db"), "movies", time.Minute)

	now := at("2024-03-01T10:00:00Z")
	s.now = func() time.Time { return now }

	ok, err := s.TryAcquireLock(ctx, model.Person)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(30 * time.Second)
	ok, err = s.TryAcquireLock(ctx, model.Person)
	require.NoError(t, err)
	assert.False(t, ok, "lock still fresh")

	now = now.Add(2 * time.Minute)
	ok, err = s.TryAcquireLock(ctx, model.Person)
	require.NoError(t, err)
	assert.True(t, ok, "stale lock expires")
}

func TestSQLiteStore_CloseNilDB(t *testing.T) {
	s := &SQLiteStore{}
	assert.NoError(t, s.Close())
}
