package services

import (
	"testing"
	"time"

	"scout-pass-system/models"
)

func TestSweepExpiresOverduePasses(t *testing.T) {
	db, passes, _, _, _ := newTestStack(t)
	sweeper := NewSweeperService(db)

	created, _ := passes.AllocatePasses("referrer-1", nil, testQuarter)
	overdue, fresh := created[0], created[1]

	db.Model(&models.Pass{}).Where("id = ?", overdue.ID).
		Update("expires_at", time.Now().Add(-time.Hour))

	swept, err := sweeper.Sweep()
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	var p models.Pass
	db.First(&p, "id = ?", overdue.ID)
	if p.Status != models.PassStatusExpired {
		t.Errorf("overdue pass status = %s, want expired", p.Status)
	}
	if n := countEvents(t, db, overdue.ID, models.EventExpired); n != 1 {
		t.Errorf("expired events = %d, want 1", n)
	}

	p = models.Pass{}
	db.First(&p, "id = ?", fresh.ID)
	if p.Status != models.PassStatusOpen {
		t.Errorf("fresh pass status = %s, want open", p.Status)
	}
}

func TestSweepIdempotent(t *testing.T) {
	db, passes, _, _, _ := newTestStack(t)
	sweeper := NewSweeperService(db)

	created, _ := passes.AllocatePasses("referrer-1", nil, testQuarter)
	pass := created[0]
	db.Model(&models.Pass{}).Where("id = ?", pass.ID).
		Update("expires_at", time.Now().Add(-time.Hour))

	if _, err := sweeper.Sweep(); err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	swept, err := sweeper.Sweep()
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if swept != 0 {
		t.Fatalf("second sweep transitioned %d passes, want 0", swept)
	}
	if n := countEvents(t, db, pass.ID, models.EventExpired); n != 1 {
		t.Errorf("expired events after double sweep = %d, want 1", n)
	}
}

func TestSweepCoversSharedPasses(t *testing.T) {
	db, passes, _, _, _ := newTestStack(t)
	sweeper := NewSweeperService(db)

	created, _ := passes.AllocatePasses("referrer-1", nil, testQuarter)
	pass := created[0]
	if _, err := passes.Share(pass.ID, "referrer-1", "link", ""); err != nil {
		t.Fatalf("share failed: %v", err)
	}
	db.Model(&models.Pass{}).Where("id = ?", pass.ID).
		Update("expires_at", time.Now().Add(-time.Hour))

	swept, err := sweeper.Sweep()
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
}

func TestSweepNeverTouchesClaimed(t *testing.T) {
	db, passes, claims, _, _ := newTestStack(t)
	sweeper := NewSweeperService(db)

	created, _ := passes.AllocatePasses("referrer-1", nil, testQuarter)
	pass := created[0]
	if _, err := claims.Claim(pass.Code, "recipient-1", "r@example.com"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Even with the expiry in the past, a claimed pass is out of the
	// sweeper's reach: the guarded UPDATE re-checks status.
	db.Model(&models.Pass{}).Where("id = ?", pass.ID).
		Update("expires_at", time.Now().Add(-time.Hour))

	swept, err := sweeper.Sweep()
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if swept != 0 {
		t.Fatalf("swept = %d, want 0", swept)
	}

	var p models.Pass
	db.First(&p, "id = ?", pass.ID)
	if p.Status != models.PassStatusClaimed {
		t.Errorf("status = %s, want claimed (sweep must not overwrite)", p.Status)
	}
}
