package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Run("creates tables via migration", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(context.Background(), dbPath)
		require.NoError(t, err)
		defer db.Close()

		for _, table := range []string{"sessions", "session_events"} {
			var count int
			require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&count))
			assert.Equal(t, 0, count, table)
		}
	})

	t.Run("enables WAL journal mode", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(context.Background(), dbPath)
		require.NoError(t, err)
		defer db.Close()

		var mode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode)
	})

	t.Run("enforces foreign keys", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(context.Background(), dbPath)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec(`INSERT INTO session_events (session_id, kind, created_at) VALUES ('missing', 'started', '')`)
		assert.Error(t, err)
	})

	t.Run("creates parent directories", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

		db, err := Open(context.Background(), dbPath)
		require.NoError(t, err)
		defer db.Close()
	})

	t.Run("idempotent migrations", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db1, err := Open(context.Background(), dbPath)
		require.NoError(t, err)
		db1.Close()

		// Opening again should not fail (migrations already applied).
		db2, err := Open(context.Background(), dbPath)
		require.NoError(t, err)
		db2.Close()
	})
}
