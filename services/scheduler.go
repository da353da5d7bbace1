// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"scout-pass-system/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Scheduler wires the periodic jobs: expiry sweep, conversion check,
// quarterly allocation top-up and event archive. Every job is idempotent,
// so overlapping or repeated runs are harmless; job errors are logged and
// retried on the next tick, never crash the scheduler.
type Scheduler struct {
	DB          *gorm.DB
	Sweeper     *SweeperService
	Conversions *ConversionService
	Passes      *PassService
	Archiver    *ArchiveService

	sched gocron.Scheduler
}

func NewScheduler(db *gorm.DB, sweeper *SweeperService, conversions *ConversionService, passes *PassService, archiver *ArchiveService) *Scheduler {
	return &Scheduler{
		DB:          db,
		Sweeper:     sweeper,
		Conversions: conversions,
		Passes:      passes,
		Archiver:    archiver,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	sched, _ := gocron.NewScheduler()
	s.sched = sched
	sched.Start()

	// Daily: expire overdue passes.
	_, _ = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			if _, err := s.Sweeper.Sweep(); err != nil {
				log.Printf("[Scheduler] sweep error: %v", err)
			}
		}),
	)

	// Daily: resolve ended trials against billing.
	_, _ = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			if _, err := s.Conversions.CheckConversions(ctx); err != nil {
				log.Printf("[Scheduler] conversion check error: %v", err)
			}
		}),
	)

	// Daily: top every active referrer up to the quarterly quota.
	// AllocatePasses is a no-op once the quota is full, so running this
	// every day instead of exactly at quarter boundaries is safe.
	_, _ = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			s.allocateForActiveReferrers()
		}),
	)

	// Weekly: archive closed quarters' events to object storage.
	if s.Archiver != nil {
		_, _ = sched.NewJob(
			gocron.DurationJob(7*24*time.Hour),
			gocron.NewTask(func() {
				if err := s.Archiver.ArchiveClosedQuarters(ctx); err != nil {
					log.Printf("[Scheduler] archive error: %v", err)
				}
			}),
		)
	}

	go func() {
		<-ctx.Done()
		_ = sched.Shutdown()
	}()
}

func (s *Scheduler) allocateForActiveReferrers() {
	var referrers []models.ReferrerMirror
	if err := s.DB.Where("plan_status IN ?", []string{"trial", "active"}).
		Find(&referrers).Error; err != nil {
		log.Printf("[Scheduler] referrer scan error: %v", err)
		return
	}

	quarter := CurrentQuarter()
	topped := 0
	for _, r := range referrers {
		created, err := s.Passes.AllocatePasses(r.ExternalUserID, r.CountyList(), quarter)
		if err != nil {
			log.Printf("[Scheduler] allocation failed for %s: %v", r.ExternalUserID, err)
			continue
		}
		if len(created) > 0 {
			topped++
		}
	}
	if topped > 0 {
		log.Printf("✅ quarterly allocation topped up %d referrer(s) for %s", topped, quarter)
	}
}
