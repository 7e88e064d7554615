package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/partnerops/portal-sync/internal/model"
)

type SyncLogRepository interface {
	FindByID(ctx context.Context, id string) (*model.SyncLog, error)
	// FindRunning returns the currently running log row, if any.
	FindRunning(ctx context.Context) (*model.SyncLog, error)
	List(ctx context.Context, limit, offset int) ([]model.SyncLog, error)
	Create(ctx context.Context, id string, syncType model.SyncType, syncMode model.SyncMode, startedAt time.Time) error
	UpdateCounts(ctx context.Context, id string, processed, created, updated, failed int) error
	Complete(ctx context.Context, id string, status model.SyncStatus, errMsg string, completedAt time.Time) error
}

type syncLogRepo struct {
	db *sqlx.DB
}

func NewSyncLogRepository(db *sqlx.DB) SyncLogRepository {
	return &syncLogRepo{db: db}
}

func (r *syncLogRepo) FindByID(ctx context.Context, id string) (*model.SyncLog, error) {
	var l model.SyncLog
	err := r.db.GetContext(ctx, &l, `SELECT * FROM sync_logs WHERE id = $1`, id)
	return HandleNotFound(&l, err)
}

func (r *syncLogRepo) FindRunning(ctx context.Context) (*model.SyncLog, error) {
	var l model.SyncLog
	err := r.db.GetContext(ctx, &l, `
		SELECT * FROM sync_logs WHERE status = 'running' ORDER BY started_at DESC LIMIT 1
	`)
	return HandleNotFound(&l, err)
}

func (r *syncLogRepo) List(ctx context.Context, limit, offset int) ([]model.SyncLog, error) {
	var logs []model.SyncLog
	err := r.db.SelectContext(ctx, &logs, `
		SELECT * FROM sync_logs ORDER BY started_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	return logs, err
}

func (r *syncLogRepo) Create(ctx context.Context, id string, syncType model.SyncType, syncMode model.SyncMode, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, sync_type, sync_mode, status, started_at)
		VALUES ($1, $2, $3, 'running', $4)
	`, id, syncType, syncMode, startedAt)
	return err
}

func (r *syncLogRepo) UpdateCounts(ctx context.Context, id string, processed, created, updated, failed int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_logs SET processed = $1, created = $2, updated = $3, failed = $4 WHERE id = $5
	`, processed, created, updated, failed, id)
	return err
}

func (r *syncLogRepo) Complete(ctx context.Context, id string, status model.SyncStatus, errMsg string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_logs SET status = $1, error = $2, completed_at = $3 WHERE id = $4
	`, status, errMsg, completedAt, id)
	return err
}

// Sync State Repository (singleton lock row)

type SyncStateRepository interface {
	Get(ctx context.Context) (*model.SyncState, error)
	// TryAcquire performs the idle→running transition with a conditional
	// update. Returns false when another run already holds the lock. The CAS
	// keeps multiple service instances safe without an in-process flag.
	TryAcquire(ctx context.Context, runID string, now time.Time) (bool, error)
	// Release transitions running→completed/failed, but only for the run that
	// holds the lock.
	Release(ctx context.Context, runID string, status model.SyncStatus, now time.Time) error
	// ForceReset unconditionally returns the lock to idle. Operator override
	// for a crashed run; it does not verify the run has actually stopped.
	ForceReset(ctx context.Context, now time.Time) error
}

type syncStateRepo struct {
	db *sqlx.DB
}

func NewSyncStateRepository(db *sqlx.DB) SyncStateRepository {
	return &syncStateRepo{db: db}
}

func (r *syncStateRepo) Get(ctx context.Context) (*model.SyncState, error) {
	var s model.SyncState
	err := r.db.GetContext(ctx, &s, `SELECT * FROM sync_state WHERE id = 1`)
	return HandleNotFound(&s, err)
}

func (r *syncStateRepo) TryAcquire(ctx context.Context, runID string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_state
		SET status = 'running', run_id = $1, started_at = $2, updated_at = $3
		WHERE id = 1 AND status <> 'running'
	`, runID, now, now)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *syncStateRepo) Release(ctx context.Context, runID string, status model.SyncStatus, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_state
		SET status = $1, updated_at = $2
		WHERE id = 1 AND run_id = $3
	`, status, now, runID)
	return err
}

func (r *syncStateRepo) ForceReset(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_state SET status = 'idle', run_id = '', started_at = NULL, updated_at = $1 WHERE id = 1
	`, now)
	return err
}

// Sync Schedule Repository (singleton)

type SyncScheduleRepository interface {
	Get(ctx context.Context) (*model.SyncSchedule, error)
	Update(ctx context.Context, enabled bool, intervalHours int, syncTypes string, nextRunAt *time.Time) error
	// MarkRun records a triggered scheduled run and the recomputed next slot.
	MarkRun(ctx context.Context, lastRunAt, nextRunAt time.Time) error
}

type syncScheduleRepo struct {
	db *sqlx.DB
}

func NewSyncScheduleRepository(db *sqlx.DB) SyncScheduleRepository {
	return &syncScheduleRepo{db: db}
}

func (r *syncScheduleRepo) Get(ctx context.Context) (*model.SyncSchedule, error) {
	var s model.SyncSchedule
	err := r.db.GetContext(ctx, &s, `SELECT * FROM sync_schedules WHERE id = 1`)
	return HandleNotFound(&s, err)
}

func (r *syncScheduleRepo) Update(ctx context.Context, enabled bool, intervalHours int, syncTypes string, nextRunAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_schedules SET enabled = $1, interval_hours = $2, sync_types = $3, next_run_at = $4 WHERE id = 1
	`, enabled, intervalHours, syncTypes, nextRunAt)
	return err
}

func (r *syncScheduleRepo) MarkRun(ctx context.Context, lastRunAt, nextRunAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_schedules SET last_run_at = $1, next_run_at = $2 WHERE id = 1
	`, lastRunAt, nextRunAt)
	return err
}

// Sync Watermark Repository

type SyncWatermarkRepository interface {
	Get(ctx context.Context, entityType model.SyncType) (*time.Time, error)
	Set(ctx context.Context, entityType model.SyncType, syncedAt time.Time) error
}

type syncWatermarkRepo struct {
	db *sqlx.DB
}

func NewSyncWatermarkRepository(db *sqlx.DB) SyncWatermarkRepository {
	return &syncWatermarkRepo{db: db}
}

func (r *syncWatermarkRepo) Get(ctx context.Context, entityType model.SyncType) (*time.Time, error) {
	var w model.SyncWatermark
	found, err := HandleNotFound(&w, r.db.GetContext(ctx, &w, `
		SELECT * FROM sync_watermarks WHERE entity_type = $1
	`, entityType))
	if err != nil || found == nil {
		return nil, err
	}
	return &found.SyncedAt, nil
}

func (r *syncWatermarkRepo) Set(ctx context.Context, entityType model.SyncType, syncedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_watermarks (entity_type, synced_at)
		VALUES ($1, $2)
		ON CONFLICT (entity_type) DO UPDATE SET synced_at = excluded.synced_at
	`, entityType, syncedAt)
	return err
}
