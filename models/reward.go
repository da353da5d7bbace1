package models

import "time"

// RewardKind indicates what benefit the referrer earned
type RewardKind string

const (
	RewardKindTrialExtension RewardKind = "trial_extension"
	RewardKindFreeMonth      RewardKind = "free_month"
	RewardKindScopeUnlock    RewardKind = "scope_unlock"
	RewardKindFeatureUnlock  RewardKind = "feature_unlock"
)

// RewardStatus tracks whether the benefit has been applied to the
// referrer's subscription by the billing collaborator
type RewardStatus string

const (
	RewardStatusPending RewardStatus = "pending"
	RewardStatusApplied RewardStatus = "applied"
	RewardStatusExpired RewardStatus = "expired" // reversed/fraudulent claims; kept for audit, never deleted
)

const (
	// TrialExtensionDays is the fixed value of every claim-triggered reward.
	// Not referrer-configurable.
	TrialExtensionDays = 7

	// FreeMonthDays is the value of the top-3 quarterly prize.
	FreeMonthDays = 30
)

// Reward is one ledger row: a benefit credited to a referrer,
// triggered by a specific pass. Append-only; status is the only mutable field.
type Reward struct {
	ID         string     `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID string     `gorm:"index;not null" json:"referrer_id"`
	PassID     string     `gorm:"index;not null" json:"pass_id"`
	Kind       RewardKind `gorm:"type:varchar(24);not null" json:"kind"`

	// ValueDays is the kind-specific payload: 7 for trial_extension,
	// 30 for free_month, 0 for unlock kinds.
	ValueDays int `gorm:"not null;default:0" json:"value_days"`

	// QuarterLabel scopes the free_month prize to one award per quarter.
	QuarterLabel string `gorm:"index" json:"quarter_label"`

	Status    RewardStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	AppliedAt *time.Time   `json:"applied_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
