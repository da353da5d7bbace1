package models

import "time"

// LeaderboardEntry is one row per (referrer, quarter), maintained
// incrementally by the aggregator and rebuildable from the event log.
// Always an upsert target, never duplicated.
type LeaderboardEntry struct {
	ID           string `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID   string `gorm:"not null;uniqueIndex:ux_leaderboard_referrer_quarter,priority:1" json:"referrer_id"`
	QuarterLabel string `gorm:"not null;index;uniqueIndex:ux_leaderboard_referrer_quarter,priority:2" json:"quarter_label"`

	PassesGenerated int `gorm:"not null;default:0" json:"passes_generated"`
	PassesShared    int `gorm:"not null;default:0" json:"passes_shared"`
	PassesClaimed   int `gorm:"not null;default:0" json:"passes_claimed"`
	PassesConverted int `gorm:"not null;default:0" json:"passes_converted"`

	// DaysEarned accumulates trial-extension days (7 per claim).
	// Free-month prizes are tracked in the ledger, not here.
	DaysEarned int `gorm:"not null;default:0" json:"days_earned"`

	// Rank is dense (1,2,2,3). Ties share a rank only when converted,
	// days and tie-break time are all equal.
	Rank int `gorm:"not null;default:0" json:"rank"`

	// LastConvertedAt is when the current PassesConverted count was reached:
	// the stable tie-break favoring first movers.
	LastConvertedAt *time.Time `json:"last_converted_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
