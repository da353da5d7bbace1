package services

import (
	"log"
	"time"

	"scout-pass-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// appendEvent writes one immutable audit row inside the caller's
// transaction, so events for a single pass are totally ordered by the
// transaction that produced them.
func appendEvent(tx *gorm.DB, kind models.EventKind, pass *models.Pass, actorID, metadata string) (*models.Event, error) {
	ev := &models.Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		ActorID:  actorID,
		Metadata: metadata,
	}
	if pass != nil {
		ev.PassID = pass.ID
		ev.ReferrerID = pass.ReferrerID
		ev.QuarterLabel = pass.QuarterLabel
	}
	if err := tx.Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

// recordJobFailure logs a scheduled-job failure to the event log with a
// failure marker so the next run (or an operator) can pick it up.
// Best-effort: a failure to record the failure only logs.
func recordJobFailure(db *gorm.DB, kind models.EventKind, passID, message string) {
	ev := &models.Event{
		ID:       uuid.NewString(),
		PassID:   passID,
		Kind:     kind,
		Metadata: message,
	}
	if err := db.Create(ev).Error; err != nil {
		log.Printf("❌ failed to record %s event for pass %s: %v", kind, passID, err)
	}
}

// EventService exposes read access to the audit trail.
type EventService struct {
	DB *gorm.DB
}

func NewEventService(db *gorm.DB) *EventService {
	return &EventService{DB: db}
}

// EventsForPass returns a pass's events in the order they were produced.
func (s *EventService) EventsForPass(passID string) ([]models.Event, error) {
	var events []models.Event
	if err := s.DB.Where("pass_id = ?", passID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// EventsForQuarter streams a quarter's events in timestamp order: the
// replay input for leaderboard rebuilds and the archive export.
func (s *EventService) EventsForQuarter(quarter string) ([]models.Event, error) {
	var events []models.Event
	if err := s.DB.Where("quarter_label = ?", quarter).
		Order("created_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// EventsSince supports incremental exports.
func (s *EventService) EventsSince(since time.Time) ([]models.Event, error) {
	var events []models.Event
	if err := s.DB.Where("created_at >= ?", since).
		Order("created_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
