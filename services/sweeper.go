package services

import (
	"log"
	"time"

	"scout-pass-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SweeperService transitions overdue passes to expired. Scheduled at
// least daily; also invokable via the cron trigger route. Idempotent and
// safe to run concurrently with claims: each pass is re-checked with a
// guarded UPDATE inside its own transaction, so a racing claim and sweep
// resolve to exactly one of {claimed, expired}.
type SweeperService struct {
	DB *gorm.DB
}

func NewSweeperService(db *gorm.DB) *SweeperService {
	return &SweeperService{DB: db}
}

// Sweep expires every open/shared pass whose window has closed and
// returns how many it transitioned. Per-pass failures are logged to the
// event log and skipped; the next run retries them.
func (s *SweeperService) Sweep() (int, error) {
	now := time.Now()

	var candidates []models.Pass
	if err := s.DB.Where("status IN ? AND expires_at < ?", claimableStatuses(), now).
		Find(&candidates).Error; err != nil {
		return 0, err
	}

	swept := 0
	for i := range candidates {
		pass := candidates[i]
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			// Re-check under the guard: the pass may have been claimed (or
			// already swept by a concurrent run) since the candidate scan.
			res := tx.Model(&models.Pass{}).
				Where("id = ? AND status IN ?", pass.ID, claimableStatuses()).
				Update("status", models.PassStatusExpired)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			pass.Status = models.PassStatusExpired
			_, err := appendEvent(tx, models.EventExpired, &pass, "", `{"discovered":"sweep"}`)
			if err == nil {
				swept++
			}
			return err
		})
		if err != nil {
			log.Printf("❌ sweep failed for pass %s: %v", pass.ID, err)
			recordJobFailure(s.DB, models.EventSweepFailed, pass.ID, err.Error())
		}
	}

	if swept > 0 {
		log.Printf("🧹 sweep expired %d pass(es)", swept)
	}
	return swept, nil
}

// TriggerSweep handles POST /internal/sweep for the cron dispatcher.
// Safe to invoke repeatedly or concurrently.
func (s *SweeperService) TriggerSweep(c *fiber.Ctx) error {
	swept, err := s.Sweep()
	if err != nil {
		log.Printf("❌ sweep run failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sweep failed"})
	}
	return c.JSON(fiber.Map{"swept": swept})
}
