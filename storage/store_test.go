package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesDatabaseWithPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steady.db")
	s, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err, "database file was not created")

	var mode string
	_, err = s.Get(context.Background(), "PRAGMA journal_mode", nil, &mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)

	var fk int
	_, err = s.Get(context.Background(), "PRAGMA foreign_keys", nil, &fk)
	require.NoError(t, err)
	assert.Equal(t, 1, fk)

	var busy int
	_, err = s.Get(context.Background(), "PRAGMA busy_timeout", nil, &busy)
	require.NoError(t, err)
	assert.Equal(t, 5000, busy)
}

func TestOpen_PathWithURIDelimiters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd?name#1%.db")
	s, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Exec(context.Background(), "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "database must be created at the literal path")

	var busy int
	_, err = s.Get(context.Background(), "PRAGMA busy_timeout", nil, &busy)
	require.NoError(t, err)
	assert.Equal(t, 5000, busy, "query parameters must still apply")
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrMissingPath)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx, testSchema))
	require.NoError(t, s.Migrate(ctx, testSchema))

	var version int
	_, err := s.Get(ctx, "PRAGMA user_version", nil, &version)
	require.NoError(t, err)
	assert.Equal(t, len(testSchema), version)

	extended := append(append([]string{}, testSchema...), "CREATE INDEX items_owner ON items(owner)")
	require.NoError(t, s.Migrate(ctx, extended))

	var name string
	found, err := s.Get(ctx, "SELECT name FROM sqlite_master WHERE type='index' AND name='items_owner'", nil, &name)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestExecAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Exec(ctx, "INSERT INTO items (name) VALUES (?)", "lamp")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.NotZero(t, res.LastInsertID)

	var name string
	found, err := s.Get(ctx, "SELECT name FROM items WHERE id = ?", []any{res.LastInsertID}, &name)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "lamp", name)

	found, err = s.Get(ctx, "SELECT name FROM items WHERE id = ?", []any{999}, &name)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExec_ConstraintIsFatal(t *testing.T) {
	var attempts int
	s := openTestStore(t)
	s.retry = newCountingRetry(&attempts)
	ctx := context.Background()

	_, err := s.Exec(ctx, "INSERT INTO items (name) VALUES (?)", "dup")
	require.NoError(t, err)
	attempts = 0

	_, err = s.Exec(ctx, "INSERT INTO items (name) VALUES (?)", "dup")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalStorage)
	assert.NotErrorIs(t, err, ErrTransientContention)
	assert.Equal(t, 1, attempts, "fatal errors must not be retried")
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))

	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
