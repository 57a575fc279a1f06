package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

// Connect opens the configured database. SQLite paths get a busy timeout and
// WAL journaling so concurrent checks do not trip over SQLITE_BUSY.
func Connect(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "", "sqlite":
		dialector = sqlite.Open(sqliteDSN(dsn))
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return db, nil
}

// Migrate creates or updates the ledger, activity mirror, incident and audit tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.AttemptRecord{},
		&models.ActivityRecord{},
		&models.SecurityIncident{},
		&models.SecurityAudit{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000"
}
