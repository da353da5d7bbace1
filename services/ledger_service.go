package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"scout-pass-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerService is the append-only reward ledger. Rows are created on the
// claim path (trial extensions) and by the conversion monitor (free
// months); afterwards only their status moves, and only forward.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// Append creates one reward row inside the caller's transaction.
// Claim-path only; nothing else inserts rewards for a claim.
func (s *LedgerService) Append(tx *gorm.DB, pass *models.Pass, kind models.RewardKind, valueDays int) (*models.Reward, error) {
	reward := &models.Reward{
		ID:           uuid.NewString(),
		ReferrerID:   pass.ReferrerID,
		PassID:       pass.ID,
		Kind:         kind,
		ValueDays:    valueDays,
		QuarterLabel: pass.QuarterLabel,
		Status:       models.RewardStatusPending,
	}
	if err := tx.Create(reward).Error; err != nil {
		return nil, fmt.Errorf("failed to append reward: %w", err)
	}
	return reward, nil
}

// Settle flips pending → applied once the billing collaborator has
// adjusted the referrer's subscription. Idempotent: settling an
// already-applied reward is a no-op, not an error.
func (s *LedgerService) Settle(rewardID string) (*models.Reward, error) {
	var reward models.Reward
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&reward, "id = ?", rewardID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("reward %s not found", rewardID)
			}
			return err
		}
		if reward.Status == models.RewardStatusApplied {
			return nil
		}
		if reward.Status == models.RewardStatusExpired {
			return fmt.Errorf("reward %s is expired and cannot be applied", rewardID)
		}

		now := time.Now()
		res := tx.Model(&models.Reward{}).
			Where("id = ? AND status = ?", rewardID, models.RewardStatusPending).
			Updates(map[string]interface{}{
				"status":     models.RewardStatusApplied,
				"applied_at": &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another settlement won; treat as already applied.
			return nil
		}
		reward.Status = models.RewardStatusApplied
		reward.AppliedAt = &now

		var pass models.Pass
		if err := tx.First(&pass, "id = ?", reward.PassID).Error; err == nil {
			if _, err := appendEvent(tx, models.EventRewardApplied, &pass, reward.ReferrerID,
				fmt.Sprintf(`{"reward_id":%q,"kind":%q}`, reward.ID, reward.Kind)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

// Expire marks a reward expired when its pass's claim is reversed or
// judged fraudulent. The row stays, preserving the audit trail.
func (s *LedgerService) Expire(rewardID string) (*models.Reward, error) {
	var reward models.Reward
	if err := s.DB.First(&reward, "id = ?", rewardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("reward %s not found", rewardID)
		}
		return nil, err
	}
	if reward.Status == models.RewardStatusExpired {
		return &reward, nil
	}
	if err := s.DB.Model(&reward).Update("status", models.RewardStatusExpired).Error; err != nil {
		return nil, err
	}
	reward.Status = models.RewardStatusExpired
	return &reward, nil
}

// RewardForPass fetches the single reward a claimed pass must have.
func (s *LedgerService) RewardForPass(passID string, kind models.RewardKind) (*models.Reward, error) {
	var reward models.Reward
	if err := s.DB.Where("pass_id = ? AND kind = ?", passID, kind).First(&reward).Error; err != nil {
		return nil, err
	}
	return &reward, nil
}

// --- Handlers ---

// GetUserRewards fetches the authenticated referrer's ledger, newest first.
func (s *LedgerService) GetUserRewards(c *fiber.Ctx) error {
	referrerID := c.Locals("user_id").(string)

	query := s.DB.Where("referrer_id = ?", referrerID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var rewards []models.Reward
	if err := query.Order("created_at DESC").Find(&rewards).Error; err != nil {
		log.Printf("DB Error fetching rewards for %s: %v", referrerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch rewards"})
	}
	return c.JSON(rewards)
}

// SettleReward handles POST /s/admin/rewards/:id/settle
func (s *LedgerService) SettleReward(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid reward ID"})
	}
	reward, err := s.Settle(id)
	if err != nil {
		log.Printf("❌ reward settle failed for %s: %v", id, err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "reward applied", "reward": reward})
}

// ExpireReward handles POST /s/admin/rewards/:id/expire
func (s *LedgerService) ExpireReward(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid reward ID"})
	}
	reward, err := s.Expire(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "reward expired", "reward": reward})
}
