package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"scout-pass-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// freeMonthRank: referrers at or above this rank when a conversion lands
// earn the quarterly free-month prize.
const freeMonthRank = 3

// ConversionService resolves the trial outcome of claimed passes using
// the billing collaborator. Two entry paths feed one guarded settlement:
// the daily scheduled check and the billing webhook (lower latency).
// The empty trial_outcome column is the idempotency key: a retried run
// or a webhook racing the sweep writes the outcome exactly once.
type ConversionService struct {
	DB          *gorm.DB
	Leaderboard *LeaderboardService
	Ledger      *LedgerService
	Billing     SubscriptionChecker
}

func NewConversionService(db *gorm.DB, lb *LeaderboardService, ledger *LedgerService, billing SubscriptionChecker) *ConversionService {
	return &ConversionService{DB: db, Leaderboard: lb, Ledger: ledger, Billing: billing}
}

// CheckConversions resolves every claimed pass whose trial has ended and
// whose outcome is still unrecorded. Billing failures leave the pass
// unresolved for the next run and are logged with a failure marker.
func (s *ConversionService) CheckConversions(ctx context.Context) (int, error) {
	now := time.Now()

	var due []models.Pass
	if err := s.DB.Where("status = ? AND trial_end < ? AND trial_outcome = ?",
		models.PassStatusClaimed, now, models.TrialOutcomeNone).
		Find(&due).Error; err != nil {
		return 0, err
	}

	resolved := 0
	for i := range due {
		pass := due[i]
		state, err := s.Billing.SubscriptionStateByPass(ctx, pass.ID)
		if err != nil {
			log.Printf("❌ conversion check billing lookup failed for pass %s: %v", pass.ID, err)
			recordJobFailure(s.DB, models.EventConversionFailed, pass.ID, err.Error())
			continue
		}

		if err := s.settleOutcome(pass.ID, state == SubscriptionActivePaid); err != nil {
			log.Printf("❌ conversion settlement failed for pass %s: %v", pass.ID, err)
			recordJobFailure(s.DB, models.EventConversionFailed, pass.ID, err.Error())
			continue
		}
		resolved++
	}

	if resolved > 0 {
		log.Printf("📊 conversion check resolved %d pass(es)", resolved)
	}
	return resolved, nil
}

// SettleFromWebhook feeds a subscription-state-changed notification into
// the same guarded settlement the scheduled check uses.
func (s *ConversionService) SettleFromWebhook(passID, state string) error {
	return s.settleOutcome(passID, state == SubscriptionActivePaid)
}

// settleOutcome records a pass's terminal trial outcome exactly once.
// The guarded UPDATE on the empty trial_outcome column decides the
// writer; every later attempt is a no-op.
func (s *ConversionService) settleOutcome(passID string, converted bool) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var pass models.Pass
		if err := tx.First(&pass, "id = ?", passID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPassNotFound
			}
			return err
		}
		if pass.Status != models.PassStatusClaimed {
			// Webhooks can reference swept or revoked passes; nothing to record.
			return nil
		}

		outcome := models.TrialOutcomeLapsed
		kind := models.EventLapsed
		if converted {
			outcome = models.TrialOutcomeConverted
			kind = models.EventConverted
		}

		now := time.Now()
		res := tx.Model(&models.Pass{}).
			Where("id = ? AND trial_outcome = ?", passID, models.TrialOutcomeNone).
			Updates(map[string]interface{}{
				"trial_outcome": outcome,
				"outcome_at":    &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Outcome already recorded by the other path.
			return nil
		}
		pass.TrialOutcome = outcome
		pass.OutcomeAt = &now

		ev, err := appendEvent(tx, kind, &pass, pass.RecipientID, "")
		if err != nil {
			return err
		}
		if err := s.Leaderboard.ApplyEvent(tx, ev); err != nil {
			return err
		}

		if !converted {
			return nil
		}

		// Conversions move the primary ranking key, so ranks are
		// recomputed here; the free-month prize depends on them.
		if err := s.Leaderboard.RecomputeRanks(tx, pass.QuarterLabel); err != nil {
			return err
		}
		return s.maybeAwardFreeMonth(tx, &pass)
	})
}

// maybeAwardFreeMonth grants the quarterly prize when this conversion
// put the referrer into the top 3: once per (referrer, quarter), no
// matter how many further conversions land.
func (s *ConversionService) maybeAwardFreeMonth(tx *gorm.DB, pass *models.Pass) error {
	rank, err := s.Leaderboard.RankOf(tx, pass.ReferrerID, pass.QuarterLabel)
	if err != nil {
		return err
	}
	if rank == 0 || rank > freeMonthRank {
		return nil
	}

	var existing int64
	if err := tx.Model(&models.Reward{}).
		Where("referrer_id = ? AND quarter_label = ? AND kind = ?",
			pass.ReferrerID, pass.QuarterLabel, models.RewardKindFreeMonth).
		Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	reward, err := s.Ledger.Append(tx, pass, models.RewardKindFreeMonth, models.FreeMonthDays)
	if err != nil {
		return err
	}
	log.Printf("🏆 free month awarded to %s for %s (rank %d, reward %s)",
		pass.ReferrerID, pass.QuarterLabel, rank, reward.ID)
	return nil
}

// --- Handlers ---

// TriggerConversionCheck handles POST /internal/conversion-check for the
// cron dispatcher. Safe to invoke repeatedly or concurrently.
func (s *ConversionService) TriggerConversionCheck(c *fiber.Ctx) error {
	resolved, err := s.CheckConversions(c.Context())
	if err != nil {
		log.Printf("❌ conversion check run failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "conversion check failed"})
	}
	return c.JSON(fiber.Map{"resolved": resolved})
}

// BillingWebhook handles POST /webhooks/billing: subscription state
// changes keyed by pass id.
func (s *ConversionService) BillingWebhook(c *fiber.Ctx) error {
	var req struct {
		PassID string `json:"pass_id" validate:"required,uuid"`
		State  string `json:"state" validate:"required,oneof=active_paid trial none"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	// A trial-state notification carries no terminal outcome yet.
	if req.State == SubscriptionTrial {
		return c.JSON(fiber.Map{"message": "acknowledged"})
	}

	if err := s.SettleFromWebhook(req.PassID, req.State); err != nil {
		if errors.Is(err, ErrPassNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown pass"})
		}
		log.Printf("❌ webhook settlement failed for pass %s: %v", req.PassID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settlement failed"})
	}
	return c.JSON(fiber.Map{"message": fmt.Sprintf("outcome recorded for pass %s", req.PassID)})
}
