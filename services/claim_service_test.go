package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"scout-pass-system/models"
)

func TestClaimHappyPath(t *testing.T) {
	db, passes, claims, _, _ := newTestStack(t)

	created, err := passes.AllocatePasses("referrer-1", []string{"maricopa"}, testQuarter)
	if err != nil {
		t.Fatalf("allocation failed: %v", err)
	}
	pass := created[0]

	result, err := claims.Claim(pass.Code, "recipient-1", "recipient@example.com")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	if result.Pass.Status != models.PassStatusClaimed {
		t.Errorf("status = %s, want claimed", result.Pass.Status)
	}
	if result.Pass.TrialStart == nil || result.Pass.TrialEnd == nil {
		t.Fatal("trial window not set")
	}
	wantEnd := result.Pass.TrialStart.AddDate(0, 0, models.TrialDays)
	if !result.Pass.TrialEnd.Equal(wantEnd) {
		t.Errorf("trial_end = %v, want %v", result.Pass.TrialEnd, wantEnd)
	}

	// Exactly one trial-extension reward, fixed 7-day value.
	var rewards []models.Reward
	db.Where("pass_id = ?", pass.ID).Find(&rewards)
	if len(rewards) != 1 {
		t.Fatalf("rewards for pass = %d, want 1", len(rewards))
	}
	if rewards[0].Kind != models.RewardKindTrialExtension || rewards[0].ValueDays != models.TrialExtensionDays {
		t.Errorf("reward = %s/%d days, want trial_extension/%d", rewards[0].Kind, rewards[0].ValueDays, models.TrialExtensionDays)
	}
	if rewards[0].Status != models.RewardStatusPending {
		t.Errorf("reward status = %s, want pending", rewards[0].Status)
	}

	if n := countEvents(t, db, pass.ID, models.EventClaimed); n != 1 {
		t.Errorf("claimed events = %d, want 1", n)
	}
	if n := countEvents(t, db, pass.ID, models.EventTrialActivated); n != 1 {
		t.Errorf("trial_activated events = %d, want 1", n)
	}

	entry := quarterEntry(t, db, "referrer-1", testQuarter)
	if entry.PassesClaimed != 1 {
		t.Errorf("passes_claimed = %d, want 1", entry.PassesClaimed)
	}
	if entry.DaysEarned != models.TrialExtensionDays {
		t.Errorf("days_earned = %d, want %d", entry.DaysEarned, models.TrialExtensionDays)
	}
}

func TestClaimUnknownCode(t *testing.T) {
	_, _, claims, _, _ := newTestStack(t)
	if _, err := claims.Claim("never-issued-AAAAA", "recipient-1", "r@example.com"); !errors.Is(err, ErrPassNotFound) {
		t.Fatalf("expected ErrPassNotFound, got %v", err)
	}
}

func TestClaimAlreadyClaimed(t *testing.T) {
	db, passes, claims, _, _ := newTestStack(t)

	created, _ := passes.AllocatePasses("referrer-1", nil, testQuarter)
	pass := created[0]

	if _, err := claims.Claim(pass.Code, "recipient-1", "r1@example.com"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if _, err := claims.Claim(pass.Code, "recipient-2", "r2@example.com"); !errors.Is(err, ErrPassAlreadyClaimed) {
		t.Fatalf("expected ErrPassAlreadyClaimed, got %v", err)
	}

	// The loser must not have produced a second reward or increment.
	var rewards int64
	db.Model(&models.Reward{}).Where("pass_id = ?", pass.ID).Count(&rewards)
	if rewards != 1 {
		t.Fatalf("rewards = %d, want 1", rewards)
	}
	entry := quarterEntry(t, db, "referrer-1", testQuarter)
	if entry.PassesClaimed != 1 {
		t.Fatalf("passes_claimed = %d, want 1", entry.PassesClaimed)
	}
}

func TestClaimExpiredDiscoveredLazily(t *testing.T) {
	db, passes, claims, _, _ := newTestStack(t)

	created, _ := passes.AllocatePasses("referrer-1", nil, testQuarter)
	pass := created[0]

	// Back-date the expiry past the window.
	db.Model(&models.Pass{}).Where("id = ?", pass.ID).
		Update("expires_at", time.Now().Add(-time.Hour))

	if _, err := claims.Claim(pass.Code, "recipient-1", "r@example.com"); !errors.Is(err, ErrPassExpired) {
		t.Fatalf("expected ErrPassExpired, got %v", err)
	}

	// The failed claim transitions the pass and records the event, so the
	// sweeper has nothing left to do.
	var current models.Pass
	db.First(&current, "id = ?", pass.ID)
	if current.Status != models.PassStatusExpired {
		t.Errorf("status = %s, want expired", current.Status)
	}
	if n := countEvents(t, db, pass.ID, models.EventExpired); n != 1 {
		t.Errorf("expired events = %d, want 1", n)
	}

	// No reward, no leaderboard change.
	var rewards int64
	db.Model(&models.Reward{}).Where("pass_id = ?", pass.ID).Count(&rewards)
	if rewards != 0 {
		t.Errorf("rewards = %d, want 0", rewards)
	}
}

func TestClaimExpiredPassNeverClaimable(t *testing.T) {
	db, passes, claims, _, _ := newTestStack(t)

	created, _ := passes.AllocatePasses("referrer-1", nil, testQuarter)
	pass := created[0]
	db.Model(&models.Pass{}).Where("id = ?", pass.ID).
		Update("expires_at", time.Now().Add(-time.Hour))

	// Regardless of ordering with the sweeper, repeated claims can never
	// reach claimed.
	for i := 0; i < 3; i++ {
		if _, err := claims.Claim(pass.Code, "recipient-1", "r@example.com"); !errors.Is(err, ErrPassExpired) {
			t.Fatalf("attempt %d: expected ErrPassExpired, got %v", i, err)
		}
	}
	if n := countEvents(t, db, pass.ID, models.EventExpired); n != 1 {
		t.Errorf("expired events = %d, want 1 (lazy expiry must be recorded once)", n)
	}
}

func TestConcurrentClaimsExactlyOneWinner(t *testing.T) {
	db, passes, claims, _, _ := newTestStack(t)

	created, _ := passes.AllocatePasses("referrer-1", nil, testQuarter)
	pass := created[0]

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = claims.Claim(pass.Code, "recipient", "r@example.com")
		}(i)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrPassAlreadyClaimed), errors.Is(err, ErrPassExpired):
			losses++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	if losses != attempts-1 {
		t.Fatalf("losses = %d, want %d", losses, attempts-1)
	}

	// No run may produce two rewards or a double-counted increment.
	var rewards int64
	db.Model(&models.Reward{}).Where("pass_id = ?", pass.ID).Count(&rewards)
	if rewards != 1 {
		t.Fatalf("rewards = %d, want 1", rewards)
	}
	entry := quarterEntry(t, db, "referrer-1", testQuarter)
	if entry.PassesClaimed != 1 || entry.DaysEarned != models.TrialExtensionDays {
		t.Fatalf("leaderboard = %d claimed/%d days, want 1/%d",
			entry.PassesClaimed, entry.DaysEarned, models.TrialExtensionDays)
	}
}
