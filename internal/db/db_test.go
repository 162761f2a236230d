package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDB(t *testing.T) {
	t.Run("in-memory default is usable", func(t *testing.T) {
		database, err := NewSqliteDB()
		require.NoError(t, err)
		defer database.Close()

		_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
		assert.NoError(t, err)
	})

	t.Run("file path creates parent directories", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "nested", "journal.db")

		database, err := NewSqliteDB(WithPath(dbPath))
		require.NoError(t, err)
		defer database.Close()

		assert.DirExists(t, filepath.Dir(dbPath))
	})

	t.Run("custom pragmas", func(t *testing.T) {
		database, err := NewSqliteDB(WithPragmas("PRAGMA journal_mode=WAL;"))
		require.NoError(t, err)
		defer database.Close()

		_, err = database.Exec("CREATE TABLE t2 (id INTEGER PRIMARY KEY)")
		assert.NoError(t, err)
	})

	t.Run("single writer pool", func(t *testing.T) {
		database, err := NewSqliteDB(WithMaxOpenConns(1))
		require.NoError(t, err)
		defer database.Close()

		assert.Equal(t, 1, database.Stats().MaxOpenConnections)
	})
}
