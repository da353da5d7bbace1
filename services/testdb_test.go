package services

import (
	"testing"

	"scout-pass-system/cache"
	"scout-pass-system/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a private in-memory database per test. A single
// connection serializes transactions the way the row guards do in
// postgres, so the claim/sweep race tests exercise the same guarded
// UPDATE semantics.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Pass{},
		&models.Reward{},
		&models.LeaderboardEntry{},
		&models.Event{},
		&models.ReferrerMirror{},
	); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// newTestStack wires the service graph the way main does, without the
// external collaborators.
func newTestStack(t *testing.T) (*gorm.DB, *PassService, *ClaimService, *LedgerService, *LeaderboardService) {
	t.Helper()
	db := setupTestDB(t)
	lb := NewLeaderboardService(db, cache.NewInMemoryCache())
	ledger := NewLedgerService(db)
	passes := NewPassService(db, lb, nil)
	claims := NewClaimService(db, lb, ledger, nil)
	return db, passes, claims, ledger, lb
}

func countEvents(t *testing.T, db *gorm.DB, passID string, kind models.EventKind) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.Event{}).
		Where("pass_id = ? AND kind = ?", passID, kind).
		Count(&n).Error; err != nil {
		t.Fatalf("Failed to count %s events: %v", kind, err)
	}
	return n
}

func quarterEntry(t *testing.T, db *gorm.DB, referrerID, quarter string) models.LeaderboardEntry {
	t.Helper()
	var entry models.LeaderboardEntry
	if err := db.Where("referrer_id = ? AND quarter_label = ?", referrerID, quarter).
		First(&entry).Error; err != nil {
		t.Fatalf("Failed to load leaderboard entry for %s/%s: %v", referrerID, quarter, err)
	}
	return entry
}
