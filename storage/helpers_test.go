package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/steadycore/resilience"
)

var testSchema = []string{
	`CREATE TABLE items (
		id        INTEGER PRIMARY KEY,
		name      TEXT NOT NULL UNIQUE,
		owner     TEXT,
		available INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE claim_counts (
		requester TEXT PRIMARY KEY,
		claims    INTEGER NOT NULL DEFAULT 0
	)`,
}

func openTestStore(t *testing.T, mutate ...func(*Config)) *Store {
	t.Helper()
	cfg := Config{
		Path: filepath.Join(t.TempDir(), "steady.db"),
		Retry: resilience.RetryConfig{
			MaxAttempts: 20,
			BaseDelay:   2 * time.Millisecond,
			MaxDelay:    20 * time.Millisecond,
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}

	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background(), testSchema))
	return s
}

func seedItems(t *testing.T, s *Store, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.RunInTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		for i := 0; i < n; i++ {
			if _, err := tx.Run(ctx, "INSERT INTO items (name) VALUES (?)", itemName(i)); err != nil {
				return err
			}
		}
		return nil
	}))
}

func itemName(i int) string {
	return "item-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
}

func countItems(t *testing.T, s *Store, where string, args ...any) int {
	t.Helper()
	var n int
	_, err := s.Get(context.Background(), "SELECT COUNT(*) FROM items WHERE "+where, args, &n)
	require.NoError(t, err)
	return n
}
