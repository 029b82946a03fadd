// Package testutil provides an in-memory gorm.DB and scoped logger for
// upscale repository tests, mirroring the teacher's own repo-test fixtures:
// a fresh schema per test, wrapped in a transaction so tests never see each
// other's rows.
package testutil

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// DB opens a fresh in-memory sqlite database migrated with the upscale
// schema. Each call gets its own database, so tests never share state.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&upscale.Job{},
		&upscale.Tile{},
		&upscale.JobEvent{},
		&upscale.ProcessedCallbackRecord{},
	); err != nil {
		t.Fatalf("automigrate test db: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Tx starts a transaction on db and rolls it back when the test ends.
func Tx(t *testing.T, db *gorm.DB) *gorm.DB {
	t.Helper()
	tx := db.Begin()
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

// Logger returns a throwaway logger scoped to the test's lifetime.
func Logger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("new test logger: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}
