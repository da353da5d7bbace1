package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// ReferrerMirror is a local snapshot of subscriber data needed for the
// pass lifecycle: display name for the claim landing page, county access
// scopes inherited at issuance, and plan status gating allocation.
// Owned solely by this service; populated via sync worker from the
// account service's subscriber table.
type ReferrerMirror struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // the account service's UUID
	DisplayName    string `gorm:"index;not null" json:"display_name"`
	Email          string `json:"email,omitempty"`

	// Counties the subscriber's plan covers, comma-joined, lowercase.
	// Copied onto each pass at issuance.
	Counties string `gorm:"type:text" json:"counties"`

	// PlanStatus mirrors the billing collaborator's view:
	// "trial", "active", "lapsed". Only trial/active referrers allocate.
	PlanStatus string `gorm:"type:varchar(16);not null;default:'active';index" json:"plan_status"`

	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	Timestamps
}

// CountyList splits the denormalized Counties column.
func (r *ReferrerMirror) CountyList() []string {
	if r.Counties == "" {
		return nil
	}
	parts := strings.Split(r.Counties, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RemoteSubscriber mirrors the account service's wire format (read-only).
// Used by the sync worker to fetch changed profiles.
type RemoteSubscriber struct {
	ExternalID  string     `json:"external_id"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email"`
	Counties    []string   `json:"counties"`
	PlanStatus  string     `json:"plan_status"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at"` // soft-delete marker
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
