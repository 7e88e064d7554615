package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/partnerops/portal-sync/internal/audit"
	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/model"
	"github.com/partnerops/portal-sync/internal/repository"
)

// LockService serializes sync runs behind the singleton sync_state row. The
// idle→running transition is a conditional update, so concurrent service
// instances cannot both acquire the lock.
type LockService struct {
	stateRepo repository.SyncStateRepository
	logRepo   repository.SyncLogRepository
}

func NewLockService(stateRepo repository.SyncStateRepository, logRepo repository.SyncLogRepository) *LockService {
	return &LockService{stateRepo: stateRepo, logRepo: logRepo}
}

// Acquire claims the global sync lock for runID. A run already holding the
// lock yields a conflict; requests are rejected, never queued.
func (s *LockService) Acquire(ctx context.Context, runID string) error {
	acquired, err := s.stateRepo.TryAcquire(ctx, runID, time.Now().UTC())
	if err != nil {
		return apperrors.Database(err)
	}
	if !acquired {
		return apperrors.SyncInProgress()
	}

	log.Info().Str("runId", runID).Msg("sync lock acquired")
	return nil
}

// Release returns the lock to a terminal state. Only the holding run may
// release; a stale release after a force-reset is a no-op.
func (s *LockService) Release(ctx context.Context, runID string, status model.SyncStatus) {
	if err := s.stateRepo.Release(ctx, runID, status, time.Now().UTC()); err != nil {
		log.Error().Err(err).Str("runId", runID).Msg("failed to release sync lock")
		return
	}
	log.Info().Str("runId", runID).Str("status", string(status)).Msg("sync lock released")
}

// SyncStatusInfo is the status surface consumed by the CLI/HTTP layer.
type SyncStatusInfo struct {
	Locked     bool             `json:"locked"`
	State      model.SyncStatus `json:"state"`
	CurrentRun *model.SyncLog   `json:"currentRun,omitempty"`
}

func (s *LockService) Status(ctx context.Context) (*SyncStatusInfo, error) {
	state, err := s.stateRepo.Get(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if state == nil {
		return nil, apperrors.Internal("sync state row is missing")
	}

	info := &SyncStatusInfo{
		Locked: state.Status == model.SyncStatusRunning,
		State:  state.Status,
	}
	if info.Locked && state.RunID != "" {
		run, err := s.logRepo.FindByID(ctx, state.RunID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		info.CurrentRun = run
	}
	return info, nil
}

// Reset force-clears the lock. This is an audited operator override for
// recovering from a crashed sync process; it does not verify the process has
// actually stopped.
func (s *LockService) Reset(ctx context.Context) error {
	state, err := s.stateRepo.Get(ctx)
	if err != nil {
		return apperrors.Database(err)
	}

	now := time.Now().UTC()
	if err := s.stateRepo.ForceReset(ctx, now); err != nil {
		return apperrors.Database(err)
	}

	clearedRun := ""
	if state != nil {
		clearedRun = state.RunID
		// The orphaned log row stays append-only but must not read as running
		// forever.
		if state.Status == model.SyncStatusRunning && state.RunID != "" {
			if err := s.logRepo.Complete(ctx, state.RunID, model.SyncStatusFailed, "sync lock force-reset by operator", now); err != nil {
				log.Error().Err(err).Str("runId", state.RunID).Msg("failed to mark orphaned sync log")
			}
		}
	}

	audit.Log(ctx, audit.Event{
		Type:  audit.EventSyncLockReset,
		RunID: clearedRun,
		Details: map[string]interface{}{
			"reason": fmt.Sprintf("operator reset at %s", now.Format(time.RFC3339)),
		},
	})
	return nil
}
