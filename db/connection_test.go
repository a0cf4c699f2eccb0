package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	database, err := Open(path, nil)
	require.NoError(t, err)
	defer database.Close()

	var mode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, database.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpenInMemory(t *testing.T) {
	database, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (x INTEGER)")
	assert.NoError(t, err)
}
