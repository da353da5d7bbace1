package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"scout-pass-system/cache"
	"scout-pass-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const leaderboardCacheTTL = 30 * time.Second

// LeaderboardService maintains one row per (referrer, quarter).
// All counter changes go through additive upserts, never
// read-modify-write, so concurrent nudges for the same row cannot lose
// updates. The entry table is a derived index over the event log: any
// row can be rebuilt by replaying the quarter's events through the same
// switch the incremental path uses.
type LeaderboardService struct {
	DB    *gorm.DB
	Cache cache.Cache
}

func NewLeaderboardService(db *gorm.DB, c cache.Cache) *LeaderboardService {
	if c == nil {
		c = cache.NewInMemoryCache()
	}
	return &LeaderboardService{DB: db, Cache: c}
}

// counterDelta is the leaderboard effect of one event.
type counterDelta struct {
	generated, shared, claimed, converted, days int
	touchesConvertedAt                          bool
}

// deltaFor routes an event kind to its leaderboard effect. Exhaustive:
// kinds without an effect return ok=false, and both the incremental path
// and the rebuild replay consume the same routing, so the two can never
// diverge.
func deltaFor(kind models.EventKind) (counterDelta, bool) {
	switch kind {
	case models.EventGenerated:
		return counterDelta{generated: 1}, true
	case models.EventShared:
		return counterDelta{shared: 1}, true
	case models.EventClaimed:
		return counterDelta{claimed: 1, days: models.TrialExtensionDays}, true
	case models.EventConverted:
		return counterDelta{converted: 1, touchesConvertedAt: true}, true
	case models.EventTrialActivated, models.EventExpired, models.EventRevoked,
		models.EventLapsed, models.EventRewardApplied,
		models.EventSweepFailed, models.EventConversionFailed:
		return counterDelta{}, false
	default:
		return counterDelta{}, false
	}
}

// ApplyEvent nudges exactly one (referrer, quarter) row inside the
// caller's transaction. Called from the claim/allocate/share/convert
// paths and from Rebuild's replay loop.
func (s *LeaderboardService) ApplyEvent(tx *gorm.DB, ev *models.Event) error {
	d, ok := deltaFor(ev.Kind)
	if !ok {
		return nil
	}
	if ev.ReferrerID == "" || ev.QuarterLabel == "" {
		return fmt.Errorf("event %s missing referrer/quarter context", ev.ID)
	}

	assignments := map[string]interface{}{
		"passes_generated": gorm.Expr("passes_generated + ?", d.generated),
		"passes_shared":    gorm.Expr("passes_shared + ?", d.shared),
		"passes_claimed":   gorm.Expr("passes_claimed + ?", d.claimed),
		"passes_converted": gorm.Expr("passes_converted + ?", d.converted),
		"days_earned":      gorm.Expr("days_earned + ?", d.days),
		"updated_at":       time.Now(),
	}
	if d.touchesConvertedAt {
		// When the converted count changes, the tie-break clock resets to
		// the event's own time so replay reproduces it exactly.
		assignments["last_converted_at"] = ev.CreatedAt
	}

	entry := models.LeaderboardEntry{
		ID:              uuid.NewString(),
		ReferrerID:      ev.ReferrerID,
		QuarterLabel:    ev.QuarterLabel,
		PassesGenerated: d.generated,
		PassesShared:    d.shared,
		PassesClaimed:   d.claimed,
		PassesConverted: d.converted,
		DaysEarned:      d.days,
	}
	if d.touchesConvertedAt {
		t := ev.CreatedAt
		entry.LastConvertedAt = &t
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "referrer_id"}, {Name: "quarter_label"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&entry).Error; err != nil {
		return fmt.Errorf("leaderboard upsert failed: %w", err)
	}

	s.invalidate(ev.QuarterLabel)
	return nil
}

// RecomputeRanks rewrites the dense ranks of one quarter. Cheap (a
// quarter has at most one row per referrer), so it runs after every
// conversion, where rank actually decides the free-month prize.
func (s *LeaderboardService) RecomputeRanks(tx *gorm.DB, quarter string) error {
	entries, err := loadRanked(tx, quarter)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := tx.Model(&models.LeaderboardEntry{}).
			Where("id = ? AND rank <> ?", e.ID, e.Rank).
			Update("rank", e.Rank).Error; err != nil {
			return err
		}
	}
	s.invalidate(quarter)
	return nil
}

// RankOf returns a referrer's current rank in the quarter (0 if absent).
func (s *LeaderboardService) RankOf(tx *gorm.DB, referrerID, quarter string) (int, error) {
	var entry models.LeaderboardEntry
	err := tx.Where("referrer_id = ? AND quarter_label = ?", referrerID, quarter).
		First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return entry.Rank, nil
}

// Quarter returns the ranked entries for a quarter, cached briefly since
// the dashboard polls it.
func (s *LeaderboardService) Quarter(ctx context.Context, quarter string) ([]models.LeaderboardEntry, error) {
	key := "leaderboard:" + quarter

	var cached []models.LeaderboardEntry
	if err := cache.GetJSON(ctx, s.Cache, key, &cached); err == nil {
		return cached, nil
	}

	entries, err := loadRanked(s.DB, quarter)
	if err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, s.Cache, key, entries, leaderboardCacheTTL); err != nil {
		log.Printf("⚠️  leaderboard cache write failed for %s: %v", quarter, err)
	}
	return entries, nil
}

// Rebuild drops a quarter's entries and replays the event log in
// timestamp order. Disaster-recovery path: the rebuilt counters must
// equal the incrementally maintained ones.
func (s *LeaderboardService) Rebuild(quarter string) error {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("quarter_label = ?", quarter).
			Delete(&models.LeaderboardEntry{}).Error; err != nil {
			return err
		}

		var events []models.Event
		if err := tx.Where("quarter_label = ?", quarter).
			Order("created_at ASC, id ASC").
			Find(&events).Error; err != nil {
			return err
		}

		for i := range events {
			if err := s.ApplyEvent(tx, &events[i]); err != nil {
				return err
			}
		}
		return s.RecomputeRanks(tx, quarter)
	})
	if err != nil {
		return fmt.Errorf("leaderboard rebuild for %s failed: %w", quarter, err)
	}
	s.invalidate(quarter)
	return nil
}

func (s *LeaderboardService) invalidate(quarter string) {
	if err := s.Cache.Delete(context.Background(), "leaderboard:"+quarter); err != nil {
		log.Printf("⚠️  leaderboard cache invalidation failed for %s: %v", quarter, err)
	}
}

// loadRanked loads a quarter's entries and assigns dense ranks:
// passes_converted desc, then days_earned desc, then earliest
// last_converted_at (first movers win ties).
func loadRanked(tx *gorm.DB, quarter string) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	if err := tx.Where("quarter_label = ?", quarter).Find(&entries).Error; err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.PassesConverted != b.PassesConverted {
			return a.PassesConverted > b.PassesConverted
		}
		if a.DaysEarned != b.DaysEarned {
			return a.DaysEarned > b.DaysEarned
		}
		return earlier(a.LastConvertedAt, b.LastConvertedAt)
	})

	rank := 0
	for i := range entries {
		if i == 0 || !sameRankKey(entries[i-1], entries[i]) {
			rank++
		}
		entries[i].Rank = rank
	}
	return entries, nil
}

// --- Handlers ---

// GetLeaderboard handles GET /s/leaderboard?quarter=
func (s *LeaderboardService) GetLeaderboard(c *fiber.Ctx) error {
	quarter := c.Query("quarter")
	if quarter == "" {
		quarter = CurrentQuarter()
	}
	if _, _, err := QuarterBounds(quarter); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid quarter"})
	}

	entries, err := s.Quarter(c.Context(), quarter)
	if err != nil {
		log.Printf("DB Error fetching leaderboard for %s: %v", quarter, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch leaderboard"})
	}
	return c.JSON(fiber.Map{"quarter": quarter, "entries": entries})
}

// RebuildLeaderboard handles POST /s/admin/leaderboard/rebuild: the
// read-repair path replaying the event log.
func (s *LeaderboardService) RebuildLeaderboard(c *fiber.Ctx) error {
	quarter := c.Query("quarter")
	if quarter == "" {
		quarter = CurrentQuarter()
	}
	if _, _, err := QuarterBounds(quarter); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid quarter"})
	}

	if err := s.Rebuild(quarter); err != nil {
		log.Printf("❌ leaderboard rebuild failed for %s: %v", quarter, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "rebuild failed"})
	}
	return c.JSON(fiber.Map{"message": "leaderboard rebuilt", "quarter": quarter})
}

func sameRankKey(a, b models.LeaderboardEntry) bool {
	return a.PassesConverted == b.PassesConverted &&
		a.DaysEarned == b.DaysEarned &&
		equalTimes(a.LastConvertedAt, b.LastConvertedAt)
}

func earlier(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}

func equalTimes(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
