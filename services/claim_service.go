package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"scout-pass-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ClaimService is the claim coordinator: the one code path that moves a
// pass to claimed, creates its reward and nudges the leaderboard, all
// in one transaction. Under concurrent claims on the same code exactly
// one attempt wins; the rest observe an error kind, never a
// partially-applied reward or a double-counted increment.
type ClaimService struct {
	DB          *gorm.DB
	Leaderboard *LeaderboardService
	Ledger      *LedgerService
	Billing     *BillingClient
}

func NewClaimService(db *gorm.DB, lb *LeaderboardService, ledger *LedgerService, billing *BillingClient) *ClaimService {
	return &ClaimService{DB: db, Leaderboard: lb, Ledger: ledger, Billing: billing}
}

// ClaimResult is what a successful claim hands back.
type ClaimResult struct {
	Pass   models.Pass   `json:"pass"`
	Reward models.Reward `json:"reward"`
}

// Claim atomically redeems a pass code for a recipient. The winner is
// decided by a guarded UPDATE on the status column: whoever flips
// open/shared → claimed first wins, everyone else sees zero rows
// affected, re-reads the pass and gets the precise error kind. No
// external call happens inside the transaction; the billing trial starts
// after commit.
func (s *ClaimService) Claim(code, recipientID, recipientEmail string) (*ClaimResult, error) {
	var result ClaimResult

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var pass models.Pass
		if err := tx.Where("code = ?", code).First(&pass).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPassNotFound
			}
			return err
		}

		if !pass.Claimable() {
			return statusError(pass.Status)
		}

		now := time.Now()

		// Lazy expiry: an overdue pass found at claim time transitions here
		// rather than waiting for the sweeper. Guarded the same way the
		// sweeper is, so the two can race safely.
		if pass.ExpiresAt.Before(now) {
			res := tx.Model(&models.Pass{}).
				Where("id = ? AND status IN ?", pass.ID, claimableStatuses()).
				Update("status", models.PassStatusExpired)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				pass.Status = models.PassStatusExpired
				if _, err := appendEvent(tx, models.EventExpired, &pass, recipientID, `{"discovered":"claim"}`); err != nil {
					return err
				}
			}
			return ErrPassExpired
		}

		trialEnd := now.AddDate(0, 0, models.TrialDays)
		res := tx.Model(&models.Pass{}).
			Where("id = ? AND status IN ?", pass.ID, claimableStatuses()).
			Updates(map[string]interface{}{
				"status":          models.PassStatusClaimed,
				"recipient_id":    recipientID,
				"recipient_email": recipientEmail,
				"claimed_at":      &now,
				"trial_start":     &now,
				"trial_end":       &trialEnd,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race inside this transaction's window. Re-read for
			// the precise kind.
			var current models.Pass
			if err := tx.First(&current, "id = ?", pass.ID).Error; err != nil {
				return ErrPassNotFound
			}
			return statusError(current.Status)
		}

		pass.Status = models.PassStatusClaimed
		pass.RecipientID = recipientID
		pass.RecipientEmail = recipientEmail
		pass.ClaimedAt = &now
		pass.TrialStart = &now
		pass.TrialEnd = &trialEnd

		reward, err := s.Ledger.Append(tx, &pass, models.RewardKindTrialExtension, models.TrialExtensionDays)
		if err != nil {
			return err
		}

		ev, err := appendEvent(tx, models.EventClaimed, &pass, recipientID, "")
		if err != nil {
			return err
		}
		if _, err := appendEvent(tx, models.EventTrialActivated, &pass, recipientID,
			fmt.Sprintf(`{"trial_end":%q}`, trialEnd.Format(time.RFC3339))); err != nil {
			return err
		}
		if err := s.Leaderboard.ApplyEvent(tx, ev); err != nil {
			return err
		}

		result = ClaimResult{Pass: pass, Reward: *reward}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func claimableStatuses() []models.PassStatus {
	return []models.PassStatus{models.PassStatusOpen, models.PassStatusShared}
}

// claimErrorResponse maps the claim-path error kinds onto HTTP statuses.
// Expired/revoked/claimed all render a "this invite is no longer valid"
// state on the landing page.
func claimErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrPassNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "this invite is no longer valid", "kind": "not_found"})
	case errors.Is(err, ErrPassExpired):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "this invite is no longer valid", "kind": "expired"})
	case errors.Is(err, ErrPassRevoked):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "this invite is no longer valid", "kind": "revoked"})
	case errors.Is(err, ErrPassAlreadyClaimed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "this invite is no longer valid", "kind": "already_claimed"})
	case errors.Is(err, ErrExternalService):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "temporary failure, please retry", "kind": "external"})
	default:
		log.Printf("❌ claim path error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

// --- Public Handler ---

// ClaimPass handles POST /claim/:code
func (s *ClaimService) ClaimPass(c *fiber.Ctx) error {
	code := c.Params("code")

	var req struct {
		RecipientID    string `json:"recipient_id" validate:"required"`
		RecipientEmail string `json:"recipient_email" validate:"required,email"`
		PaymentToken   string `json:"payment_token" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	result, err := s.Claim(code, req.RecipientID, req.RecipientEmail)
	if err != nil {
		return claimErrorResponse(c, err)
	}

	// Trial creation with billing happens after commit so no network call
	// sits inside the locked section. On exhausted retries the pass stays
	// claimed with the reward pending; the conversion monitor reconciles.
	reconciling := false
	if s.Billing != nil {
		if err := s.Billing.StartTrial(c.Context(), result.Pass.ID, req.RecipientID, req.PaymentToken); err != nil {
			log.Printf("⚠️  billing trial start failed for pass %s (will reconcile): %v", result.Pass.ID, err)
			reconciling = true
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"pass":        result.Pass,
		"reward":      result.Reward,
		"trial_days":  models.TrialDays,
		"reconciling": reconciling,
	})
}
