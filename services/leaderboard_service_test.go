package services

import (
	"context"
	"testing"
	"time"

	"scout-pass-system/models"

	"github.com/google/uuid"
)

func applyTestEvent(t *testing.T, lb *LeaderboardService, kind models.EventKind, referrerID string, at time.Time) {
	t.Helper()
	ev := &models.Event{
		ID:           uuid.NewString(),
		Kind:         kind,
		ReferrerID:   referrerID,
		QuarterLabel: testQuarter,
		CreatedAt:    at,
	}
	if err := lb.ApplyEvent(lb.DB, ev); err != nil {
		t.Fatalf("ApplyEvent(%s, %s) failed: %v", kind, referrerID, err)
	}
}

func TestLeaderboardDenseRanksAndTieBreaks(t *testing.T) {
	db, _, _, _, lb := newTestStack(t)

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	// referrer-a: 2 conversions: clear first place.
	applyTestEvent(t, lb, models.EventClaimed, "referrer-a", base)
	applyTestEvent(t, lb, models.EventClaimed, "referrer-a", base)
	applyTestEvent(t, lb, models.EventConverted, "referrer-a", base.Add(time.Hour))
	applyTestEvent(t, lb, models.EventConverted, "referrer-a", base.Add(2*time.Hour))

	// referrer-b and referrer-c: 1 conversion and 7 days each; b converted
	// first, so b outranks c.
	applyTestEvent(t, lb, models.EventClaimed, "referrer-b", base)
	applyTestEvent(t, lb, models.EventConverted, "referrer-b", base.Add(time.Hour))
	applyTestEvent(t, lb, models.EventClaimed, "referrer-c", base)
	applyTestEvent(t, lb, models.EventConverted, "referrer-c", base.Add(3*time.Hour))

	// referrer-d and referrer-e: identical records (1 claim, no
	// conversion), so they share a rank.
	applyTestEvent(t, lb, models.EventClaimed, "referrer-d", base)
	applyTestEvent(t, lb, models.EventClaimed, "referrer-e", base)

	if err := lb.RecomputeRanks(db, testQuarter); err != nil {
		t.Fatalf("RecomputeRanks failed: %v", err)
	}

	want := map[string]int{
		"referrer-a": 1,
		"referrer-b": 2,
		"referrer-c": 3,
		"referrer-d": 4,
		"referrer-e": 4,
	}
	for referrer, rank := range want {
		entry := quarterEntry(t, db, referrer, testQuarter)
		if entry.Rank != rank {
			t.Errorf("%s rank = %d, want %d", referrer, entry.Rank, rank)
		}
	}
}

func TestLeaderboardIgnoresNonCountingEvents(t *testing.T) {
	db, _, _, _, lb := newTestStack(t)

	for _, kind := range []models.EventKind{
		models.EventTrialActivated, models.EventExpired, models.EventRevoked,
		models.EventLapsed, models.EventRewardApplied,
	} {
		applyTestEvent(t, lb, kind, "referrer-1", time.Now())
	}

	var n int64
	db.Model(&models.LeaderboardEntry{}).Where("quarter_label = ?", testQuarter).Count(&n)
	if n != 0 {
		t.Fatalf("non-counting events created %d entries, want 0", n)
	}
}

func TestLeaderboardRebuildMatchesIncremental(t *testing.T) {
	db, passes, claims, ledger, lb := newTestStack(t)

	// Drive real lifecycle traffic through the incremental path.
	for _, referrer := range []string{"referrer-1", "referrer-2"} {
		created, err := passes.AllocatePasses(referrer, nil, testQuarter)
		if err != nil {
			t.Fatalf("allocation failed for %s: %v", referrer, err)
		}
		if _, err := passes.Share(created[0].ID, referrer, "email", ""); err != nil {
			t.Fatalf("share failed for %s: %v", referrer, err)
		}
		if _, err := claims.Claim(created[0].Code, "recipient-"+referrer, referrer+"@example.com"); err != nil {
			t.Fatalf("claim failed for %s: %v", referrer, err)
		}
	}

	// Convert referrer-1's claimed pass.
	var claimed models.Pass
	if err := db.Where("referrer_id = ? AND status = ?", "referrer-1", models.PassStatusClaimed).
		First(&claimed).Error; err != nil {
		t.Fatalf("no claimed pass: %v", err)
	}
	db.Model(&models.Pass{}).Where("id = ?", claimed.ID).Update("trial_end", time.Now().Add(-time.Hour))
	monitor := NewConversionService(db, lb, ledger, &fakeBilling{states: map[string]string{claimed.ID: SubscriptionActivePaid}})
	if _, err := monitor.CheckConversions(context.Background()); err != nil {
		t.Fatalf("conversion failed: %v", err)
	}

	before := map[string]models.LeaderboardEntry{}
	for _, referrer := range []string{"referrer-1", "referrer-2"} {
		before[referrer] = quarterEntry(t, db, referrer, testQuarter)
	}

	if err := lb.Rebuild(testQuarter); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	// Replaying the event log must reproduce the incremental counters.
	for referrer, want := range before {
		got := quarterEntry(t, db, referrer, testQuarter)
		if got.PassesGenerated != want.PassesGenerated ||
			got.PassesShared != want.PassesShared ||
			got.PassesClaimed != want.PassesClaimed ||
			got.PassesConverted != want.PassesConverted ||
			got.DaysEarned != want.DaysEarned {
			t.Errorf("%s rebuilt counters %+v, want %+v", referrer, got, want)
		}
		if got.Rank != want.Rank {
			t.Errorf("%s rebuilt rank = %d, want %d", referrer, got.Rank, want.Rank)
		}
		if (got.LastConvertedAt == nil) != (want.LastConvertedAt == nil) {
			t.Errorf("%s rebuilt last_converted_at presence changed", referrer)
		}
	}
}

func TestLeaderboardQuarterCacheInvalidatedByWrites(t *testing.T) {
	db, _, _, _, lb := newTestStack(t)

	applyTestEvent(t, lb, models.EventClaimed, "referrer-1", time.Now())
	if err := lb.RecomputeRanks(db, testQuarter); err != nil {
		t.Fatalf("RecomputeRanks failed: %v", err)
	}

	ctx := context.Background()
	entries, err := lb.Quarter(ctx, testQuarter)
	if err != nil {
		t.Fatalf("Quarter failed: %v", err)
	}
	if len(entries) != 1 || entries[0].PassesClaimed != 1 {
		t.Fatalf("entries = %+v, want one row with 1 claim", entries)
	}

	// A counting event invalidates the cached quarter, so the next read
	// sees the new counter.
	applyTestEvent(t, lb, models.EventClaimed, "referrer-1", time.Now())
	entries, err = lb.Quarter(ctx, testQuarter)
	if err != nil {
		t.Fatalf("Quarter after write failed: %v", err)
	}
	if len(entries) != 1 || entries[0].PassesClaimed != 2 {
		t.Fatalf("entries after write = %+v, want 2 claims", entries)
	}
}
