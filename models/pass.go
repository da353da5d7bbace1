package models

import "time"

// PassStatus is the lifecycle state of a scout pass.
// Transitions are forward-only: open → shared → claimed, or
// open/shared → expired/revoked. Claimed passes never leave claimed;
// their trial outcome is recorded on the row instead.
type PassStatus string

const (
	PassStatusOpen    PassStatus = "open"
	PassStatusShared  PassStatus = "shared"
	PassStatusClaimed PassStatus = "claimed"
	PassStatusExpired PassStatus = "expired"
	PassStatusRevoked PassStatus = "revoked"
)

// TrialOutcome is the terminal result of a claimed pass's trial,
// written exactly once by the conversion monitor or billing webhook.
type TrialOutcome string

const (
	TrialOutcomeNone      TrialOutcome = ""
	TrialOutcomeConverted TrialOutcome = "converted"
	TrialOutcomeLapsed    TrialOutcome = "lapsed"
)

const (
	// PassQuotaPerQuarter caps how many passes a referrer holds per quarter,
	// across all statuses.
	PassQuotaPerQuarter = 3

	// PassValidityDays is the share/claim window from issuance.
	PassValidityDays = 30

	// TrialDays is the recipient trial length started by a claim.
	TrialDays = 14
)

// Pass is a single-use, time-boxed referral voucher.
// Rows are never deleted; terminal statuses end the lifecycle instead.
type Pass struct {
	ID         string     `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID string     `gorm:"index;not null;uniqueIndex:ux_passes_referrer_quarter_seq,priority:1" json:"referrer_id"` // ExternalUserID of the owning subscriber

	Code         string     `gorm:"uniqueIndex;not null" json:"code"` // human-shareable, e.g. "jane-doe-7F3K2"
	Status       PassStatus `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	QuarterLabel string     `gorm:"not null;index;uniqueIndex:ux_passes_referrer_quarter_seq,priority:2" json:"quarter_label"` // e.g. "2026-Q1"
	SeqNo        int        `gorm:"not null;uniqueIndex:ux_passes_referrer_quarter_seq,priority:3" json:"seq_no"`              // 1..3 within the quarter

	// Counties the recipient inherits access to, copied from the referrer
	// at issuance time. Comma-joined, lowercase.
	Counties string `gorm:"type:text" json:"counties"`

	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`

	// Set when shared.
	SharedAt       *time.Time `json:"shared_at,omitempty"`
	RecipientEmail string     `json:"recipient_email,omitempty"`

	// Set when claimed.
	RecipientID string     `gorm:"index" json:"recipient_id,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	TrialStart  *time.Time `json:"trial_start,omitempty"`
	TrialEnd    *time.Time `json:"trial_end,omitempty"`

	// Set when revoked.
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`

	// Terminal trial outcome: empty until the conversion check runs.
	// The empty-string guard on this column is the conversion idempotency key.
	TrialOutcome TrialOutcome `gorm:"type:varchar(16);not null;default:''" json:"trial_outcome,omitempty"`
	OutcomeAt    *time.Time   `json:"outcome_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Claimable reports whether the pass can still move to claimed.
func (p *Pass) Claimable() bool {
	return p.Status == PassStatusOpen || p.Status == PassStatusShared
}
