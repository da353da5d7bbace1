package services

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"scout-pass-system/models"
	"scout-pass-system/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

var validate = validator.New()

// PassService owns issuance, sharing and the public landing lookup.
// Claiming lives in ClaimService; sweeping in SweeperService.
type PassService struct {
	DB          *gorm.DB
	Leaderboard *LeaderboardService
	Notifier    *NotifierClient
}

func NewPassService(db *gorm.DB, lb *LeaderboardService, notifier *NotifierClient) *PassService {
	return &PassService{DB: db, Leaderboard: lb, Notifier: notifier}
}

// AllocatePasses tops a referrer up to the quarterly quota. Idempotent:
// a full quota yields zero new passes and no error, so the quarterly
// scheduler can call it repeatedly. The composite unique index on
// (referrer, quarter, seq) is the hard backstop against concurrent
// over-allocation; a duplicate-key failure means another allocation won
// the race, and one retry re-counts from the new state.
func (s *PassService) AllocatePasses(referrerID string, counties []string, quarter string) ([]models.Pass, error) {
	if quarter == "" {
		quarter = CurrentQuarter()
	}

	var created []models.Pass
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		created, lastErr = s.allocateOnce(referrerID, counties, quarter)
		if lastErr == nil || !errors.Is(lastErr, gorm.ErrDuplicatedKey) {
			return created, lastErr
		}
		log.Printf("⚠️  allocation race for referrer %s in %s, retrying", referrerID, quarter)
	}
	return nil, fmt.Errorf("%w: %v", ErrQuotaExhausted, lastErr)
}

func (s *PassService) allocateOnce(referrerID string, counties []string, quarter string) ([]models.Pass, error) {
	displayName := s.displayNameFor(referrerID)

	var created []models.Pass
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Pass{}).
			Where("referrer_id = ? AND quarter_label = ?", referrerID, quarter).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing >= models.PassQuotaPerQuarter {
			// Quota already full: a no-op success, not an error.
			return nil
		}

		now := time.Now()
		for seq := int(existing) + 1; seq <= models.PassQuotaPerQuarter; seq++ {
			code, err := utils.ShareCode(displayName)
			if err != nil {
				return err
			}
			pass := models.Pass{
				ID:           uuid.NewString(),
				ReferrerID:   referrerID,
				Code:         code,
				Status:       models.PassStatusOpen,
				QuarterLabel: quarter,
				SeqNo:        seq,
				Counties:     joinCounties(counties),
				ExpiresAt:    now.AddDate(0, 0, models.PassValidityDays),
			}
			if err := tx.Create(&pass).Error; err != nil {
				return err
			}
			ev, err := appendEvent(tx, models.EventGenerated, &pass, referrerID, "")
			if err != nil {
				return err
			}
			if err := s.Leaderboard.ApplyEvent(tx, ev); err != nil {
				return err
			}
			created = append(created, pass)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Share transitions open → shared and fires the delivery off to the
// notification service without blocking. Delivery failure is logged,
// never surfaced: the pass is shared either way and the landing link
// still works.
func (s *PassService) Share(passID, referrerID, channel, recipientEmail string) (*models.Pass, error) {
	var pass models.Pass
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND referrer_id = ?", passID, referrerID).
			First(&pass).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPassNotFound
			}
			return err
		}

		now := time.Now()
		res := tx.Model(&models.Pass{}).
			Where("id = ? AND status = ?", passID, models.PassStatusOpen).
			Updates(map[string]interface{}{
				"status":          models.PassStatusShared,
				"shared_at":       &now,
				"recipient_email": recipientEmail,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already past open; re-sharing a shared pass is a no-op.
			if pass.Status == models.PassStatusShared {
				return nil
			}
			return statusError(pass.Status)
		}
		pass.Status = models.PassStatusShared
		pass.SharedAt = &now
		pass.RecipientEmail = recipientEmail

		ev, err := appendEvent(tx, models.EventShared, &pass, referrerID, fmt.Sprintf(`{"channel":%q}`, channel))
		if err != nil {
			return err
		}
		return s.Leaderboard.ApplyEvent(tx, ev)
	})
	if err != nil {
		return nil, err
	}

	if s.Notifier != nil && recipientEmail != "" {
		go s.Notifier.DeliverPassInvite(&pass, channel, recipientEmail)
	}
	return &pass, nil
}

// Revoke terminates an open/shared pass manually (support action).
func (s *PassService) Revoke(passID, actorID, reason string) (*models.Pass, error) {
	var pass models.Pass
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&pass, "id = ?", passID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPassNotFound
			}
			return err
		}

		now := time.Now()
		res := tx.Model(&models.Pass{}).
			Where("id = ? AND status IN ?", passID, []models.PassStatus{models.PassStatusOpen, models.PassStatusShared}).
			Updates(map[string]interface{}{
				"status":         models.PassStatusRevoked,
				"revoked_at":     &now,
				"revoked_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return statusError(pass.Status)
		}
		pass.Status = models.PassStatusRevoked
		pass.RevokedAt = &now
		pass.RevokedReason = reason

		ev, err := appendEvent(tx, models.EventRevoked, &pass, actorID, fmt.Sprintf(`{"reason":%q}`, reason))
		if err != nil {
			return err
		}
		return s.Leaderboard.ApplyEvent(tx, ev)
	})
	if err != nil {
		return nil, err
	}
	return &pass, nil
}

// statusError maps a terminal/advanced status to the claim-path error kind.
func statusError(status models.PassStatus) error {
	switch status {
	case models.PassStatusClaimed:
		return ErrPassAlreadyClaimed
	case models.PassStatusExpired:
		return ErrPassExpired
	case models.PassStatusRevoked:
		return ErrPassRevoked
	default:
		return ErrPassNotFound
	}
}

func (s *PassService) displayNameFor(referrerID string) string {
	var mirror models.ReferrerMirror
	if err := s.DB.Where("external_user_id = ?", referrerID).First(&mirror).Error; err != nil {
		return ""
	}
	return mirror.DisplayName
}

func joinCounties(counties []string) string {
	out := make([]string, 0, len(counties))
	for _, c := range counties {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			out = append(out, c)
		}
	}
	return strings.Join(out, ",")
}

// --- Referrer Handlers ---

// GeneratePasses handles POST /s/passes/generate
func (s *PassService) GeneratePasses(c *fiber.Ctx) error {
	referrerID := c.Locals("user_id").(string)

	var req struct {
		Counties []string `json:"counties"`
		Quarter  string   `json:"quarter" validate:"omitempty,len=7"`
	}
	// Body is optional: an empty POST allocates with plan defaults.
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	counties := req.Counties
	if len(counties) == 0 {
		// Default to the referrer's current plan scopes.
		var mirror models.ReferrerMirror
		if err := s.DB.Where("external_user_id = ?", referrerID).First(&mirror).Error; err == nil {
			counties = mirror.CountyList()
		}
	}

	passes, err := s.AllocatePasses(referrerID, counties, req.Quarter)
	if err != nil {
		log.Printf("❌ pass allocation failed for %s: %v", referrerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate passes"})
	}

	if passes == nil {
		passes = []models.Pass{}
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"passes":  passes,
		"created": len(passes),
	})
}

// SharePass handles POST /s/passes/:id/share
func (s *PassService) SharePass(c *fiber.Ctx) error {
	referrerID := c.Locals("user_id").(string)
	passID := c.Params("id")
	if _, err := uuid.Parse(passID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid pass ID"})
	}

	var req struct {
		Channel        string `json:"channel" validate:"required,oneof=email sms link"`
		RecipientEmail string `json:"recipient_email" validate:"omitempty,email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	pass, err := s.Share(passID, referrerID, req.Channel, req.RecipientEmail)
	if err != nil {
		return claimErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"message": "pass shared", "pass": pass})
}

// ListPasses handles GET /s/passes?quarter=
func (s *PassService) ListPasses(c *fiber.Ctx) error {
	referrerID := c.Locals("user_id").(string)
	quarter := c.Query("quarter")
	if quarter == "" {
		quarter = CurrentQuarter()
	}

	var passes []models.Pass
	if err := s.DB.Where("referrer_id = ? AND quarter_label = ?", referrerID, quarter).
		Order("seq_no ASC").
		Find(&passes).Error; err != nil {
		log.Printf("DB Error fetching passes for %s: %v", referrerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch passes"})
	}
	return c.JSON(fiber.Map{"quarter": quarter, "passes": passes})
}

// RevokePass handles POST /s/admin/passes/:id/revoke
func (s *PassService) RevokePass(c *fiber.Ctx) error {
	passID := c.Params("id")
	if _, err := uuid.Parse(passID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid pass ID"})
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	actorID, _ := c.Locals("user_id").(string)
	pass, err := s.Revoke(passID, actorID, req.Reason)
	if err != nil {
		return claimErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"message": "pass revoked", "pass": pass})
}

// LandingLookup handles GET /claim/:code: the public, unauthenticated
// invite landing. Unknown or terminal codes collapse into one "invalid"
// shape so the page can show "this invite is no longer valid" instead of
// a generic error.
func (s *PassService) LandingLookup(c *fiber.Ctx) error {
	code := c.Params("code")

	var pass models.Pass
	if err := s.DB.Where("code = ?", code).First(&pass).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"valid": false})
		}
		log.Printf("DB Error on landing lookup %s: %v", code, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}

	if !pass.Claimable() || pass.ExpiresAt.Before(time.Now()) {
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"valid": false})
	}

	var mirror models.ReferrerMirror
	referrerName := "a FirstLien Scout subscriber"
	if err := s.DB.Where("external_user_id = ?", pass.ReferrerID).First(&mirror).Error; err == nil {
		referrerName = mirror.DisplayName
	}

	titler := cases.Title(language.English)
	counties := strings.Split(pass.Counties, ",")
	display := make([]string, 0, len(counties))
	for _, county := range counties {
		if county = strings.TrimSpace(county); county != "" {
			display = append(display, titler.String(county))
		}
	}

	var claimedCount int64
	s.DB.Model(&models.Pass{}).
		Where("referrer_id = ? AND status = ?", pass.ReferrerID, models.PassStatusClaimed).
		Count(&claimedCount)

	return c.JSON(fiber.Map{
		"valid":          true,
		"referrer_name":  referrerName,
		"counties":       display,
		"trial_days":     models.TrialDays,
		"expires_at":     pass.ExpiresAt,
		"passes_claimed": claimedCount,
	})
}
