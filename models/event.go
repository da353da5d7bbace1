package models

import "time"

// EventKind tags one lifecycle fact. Every transition in the system is
// recorded as exactly one event; the event log is the source of truth
// for rebuilding the leaderboard.
type EventKind string

const (
	EventGenerated      EventKind = "generated"
	EventShared         EventKind = "shared"
	EventClaimed        EventKind = "claimed"
	EventTrialActivated EventKind = "trial_activated"
	EventExpired        EventKind = "expired"
	EventRevoked        EventKind = "revoked"
	EventConverted      EventKind = "converted"
	EventLapsed         EventKind = "lapsed"
	EventRewardApplied  EventKind = "reward_applied"

	// Job failure markers, recorded so scheduled runs leave a trace
	// instead of silently dropping work.
	EventSweepFailed      EventKind = "sweep_failed"
	EventConversionFailed EventKind = "conversion_failed"
)

// Event is an immutable audit row. Never updated, never deleted.
type Event struct {
	ID      string    `gorm:"primaryKey;type:uuid" json:"id"`
	PassID  string    `gorm:"index" json:"pass_id,omitempty"` // empty for job-level failure events
	Kind    EventKind `gorm:"type:varchar(24);not null;index" json:"kind"`
	ActorID string    `gorm:"index" json:"actor_id,omitempty"` // referrer or recipient that caused the transition

	// QuarterLabel denormalizes the pass's quarter so replay can bucket
	// leaderboard effects without joining passes.
	QuarterLabel string `gorm:"index" json:"quarter_label,omitempty"`

	// ReferrerID denormalized for the same reason.
	ReferrerID string `gorm:"index" json:"referrer_id,omitempty"`

	Metadata string `gorm:"type:text" json:"metadata,omitempty"` // opaque JSON blob

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}
