package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

func TestConnect(t *testing.T) {
	// Test with memory DB
	db, err := Connect("sqlite", "file::memory:?cache=shared")
	assert.NoError(t, err)
	assert.NotNil(t, db)

	// Test with file DB
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")
	db, err = Connect("sqlite", dbPath)
	assert.NoError(t, err)
	assert.NotNil(t, db)
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect("oracle", "whatever")
	assert.Error(t, err)
}

func TestMigrate_CreatesTables(t *testing.T) {
	db, err := Connect("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	assert.True(t, db.Migrator().HasTable(&models.AttemptRecord{}))
	assert.True(t, db.Migrator().HasTable(&models.ActivityRecord{}))
	assert.True(t, db.Migrator().HasTable(&models.SecurityIncident{}))
	assert.True(t, db.Migrator().HasTable(&models.SecurityAudit{}))
	assert.True(t, db.Migrator().HasIndex(&models.AttemptRecord{}, "idx_attempt_key"))

	// Re-running is harmless.
	require.NoError(t, Migrate(db))
}
