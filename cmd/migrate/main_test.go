package main

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.sql", "001_a.sql", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "003_dir.sql"), 0755))

	files, err := migrationFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "002_b.sql"}, files)
}

func TestMigrationFilesShipped(t *testing.T) {
	files, err := migrationFiles(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	assert.Contains(t, files, "001_campaign_sender.sql")
	assert.NotContains(t, files, "seed")
	assert.NotContains(t, files, "dev_list.sql")
}

func TestShippedMigrationsCreateNoListTables(t *testing.T) {
	dir := filepath.Join("..", "..", "migrations")
	files, err := migrationFiles(dir)
	require.NoError(t, err)

	listTable := regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(IF\s+NOT\s+EXISTS\s+)?subscription__`)
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.False(t, listTable.Match(data), "%s creates a per-list subscription table", name)
	}
}

func TestAppliedMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT name FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_campaign_sender.sql"))

	applied, err := appliedMigrations(db)
	require.NoError(t, err)
	assert.True(t, applied["001_campaign_sender.sql"])
	assert.False(t, applied["002_next.sql"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
