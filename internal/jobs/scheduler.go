// Package jobs contains background workers started alongside the HTTP server.
package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/partnerops/portal-sync/internal/config"
	"github.com/partnerops/portal-sync/internal/model"
	"github.com/partnerops/portal-sync/internal/repository"
	"github.com/partnerops/portal-sync/internal/service"
)

// SchedulerJob polls the sync schedule and triggers due runs. The schedule
// lives in the database, so every instance sees the same configuration; the
// sync lock keeps two instances from running the same slot twice.
type SchedulerJob struct {
	schedules repository.SyncScheduleRepository
	syncs     *service.SyncService
	done      chan struct{}
}

func NewSchedulerJob(schedules repository.SyncScheduleRepository, syncs *service.SyncService) *SchedulerJob {
	return &SchedulerJob{
		schedules: schedules,
		syncs:     syncs,
		done:      make(chan struct{}),
	}
}

// Start launches the scheduler loop in a goroutine.
func (j *SchedulerJob) Start() {
	go j.run()
	log.Info().Dur("interval", config.SchedulerTickInterval).Msg("sync scheduler started")
}

// Stop signals the scheduler loop to exit. A run already in progress finishes.
func (j *SchedulerJob) Stop() {
	close(j.done)
	log.Info().Msg("sync scheduler stopped")
}

func (j *SchedulerJob) run() {
	ticker := time.NewTicker(config.SchedulerTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.tick(context.Background())
		case <-j.done:
			return
		}
	}
}

// tick triggers one scheduled run when the schedule is enabled and due.
func (j *SchedulerJob) tick(ctx context.Context) {
	schedule, err := j.schedules.Get(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read sync schedule")
		return
	}
	if schedule == nil || !schedule.Enabled || schedule.IntervalHours <= 0 {
		return
	}

	now := time.Now().UTC()
	if schedule.NextRunAt != nil && schedule.NextRunAt.After(now) {
		return
	}

	// Mark the slot consumed before running so a long sync does not retrigger
	// on the next tick.
	next := now.Add(time.Duration(schedule.IntervalHours) * time.Hour)
	if err := j.schedules.MarkRun(ctx, now, next); err != nil {
		log.Error().Err(err).Msg("failed to mark scheduled run")
		return
	}

	for _, syncType := range parseSyncTypes(schedule.SyncTypes) {
		logEntry, err := j.syncs.Run(ctx, syncType, model.SyncModeIncremental)
		if err != nil {
			// SYNC_IN_PROGRESS here means a manual run holds the lock; the
			// schedule simply yields.
			log.Warn().Err(err).Str("syncType", string(syncType)).Msg("scheduled sync did not complete")
			continue
		}
		log.Info().Str("runId", logEntry.ID).Str("syncType", string(syncType)).
			Int("processed", logEntry.Processed).Msg("scheduled sync completed")
	}
}

// parseSyncTypes reads the schedule's comma-separated type list, defaulting to
// a full sync when empty or entirely invalid.
func parseSyncTypes(raw string) []model.SyncType {
	var types []model.SyncType
	for _, part := range strings.Split(raw, ",") {
		switch t := model.SyncType(strings.TrimSpace(part)); t {
		case model.SyncTypeUsers, model.SyncTypeGroups, model.SyncTypeMemberships,
			model.SyncTypeCourses, model.SyncTypeEnrollments, model.SyncTypeFull:
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		types = []model.SyncType{model.SyncTypeFull}
	}
	return types
}
