package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"scout-pass-system/utils"

	"gorm.io/gorm"
)

// ArchiveService exports closed quarters' event logs to object storage.
// The event log is the source of truth for the leaderboard, so the
// archive doubles as the disaster-recovery input. Uploads are keyed by
// quarter and overwrite, so re-running the job is idempotent.
type ArchiveService struct {
	DB     *gorm.DB
	Events *EventService
}

func NewArchiveService(db *gorm.DB, events *EventService) *ArchiveService {
	return &ArchiveService{DB: db, Events: events}
}

// ArchiveClosedQuarters exports the most recently closed quarter.
func (s *ArchiveService) ArchiveClosedQuarters(ctx context.Context) error {
	prev := QuarterLabel(time.Now().UTC().AddDate(0, -3, 0))
	return s.ArchiveQuarter(ctx, prev)
}

// ArchiveQuarter serializes one quarter's events and uploads them.
func (s *ArchiveService) ArchiveQuarter(ctx context.Context, quarter string) error {
	if _, _, err := QuarterBounds(quarter); err != nil {
		return err
	}

	events, err := s.Events.EventsForQuarter(quarter)
	if err != nil {
		return fmt.Errorf("failed to load events for %s: %w", quarter, err)
	}
	if len(events) == 0 {
		return nil
	}

	data, err := json.Marshal(events)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("event-archives/%s.json", quarter)
	if err := utils.UploadBytes(ctx, key, data, "application/json"); err != nil {
		return err
	}
	log.Printf("🗄  archived %d event(s) for %s to %s", len(events), quarter, key)
	return nil
}
