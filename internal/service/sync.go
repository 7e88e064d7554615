package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/partnerops/portal-sync/internal/audit"
	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/lms"
	"github.com/partnerops/portal-sync/internal/model"
	"github.com/partnerops/portal-sync/internal/repository"
)

// ContactLinker connects CRM contacts to LMS accounts by email. Implemented by
// the reconciliation engine; the sync adapter invokes it after a users phase so
// cross-links stay current without the adapter owning that write surface.
type ContactLinker interface {
	LinkContacts(ctx context.Context) (int, error)
}

// SyncOptions carries the sync tunables from configuration.
type SyncOptions struct {
	PageSize         int
	BatchSize        int
	BatchDelay       time.Duration
	PendingMaxCycles int
}

// SyncService pulls LMS entities into local storage. One Run per sync; the
// global lock guarantees runs never overlap.
type SyncService struct {
	client      lms.Client
	users       repository.LmsUserRepository
	groups      repository.LmsGroupRepository
	members     repository.GroupMemberRepository
	courses     repository.CourseRepository
	enrollments repository.EnrollmentRepository
	logs        repository.SyncLogRepository
	watermarks  repository.SyncWatermarkRepository
	lock        *LockService
	linker      ContactLinker
	opts        SyncOptions
}

func NewSyncService(
	client lms.Client,
	users repository.LmsUserRepository,
	groups repository.LmsGroupRepository,
	members repository.GroupMemberRepository,
	courses repository.CourseRepository,
	enrollments repository.EnrollmentRepository,
	logs repository.SyncLogRepository,
	watermarks repository.SyncWatermarkRepository,
	lock *LockService,
	opts SyncOptions,
) *SyncService {
	return &SyncService{
		client:      client,
		users:       users,
		groups:      groups,
		members:     members,
		courses:     courses,
		enrollments: enrollments,
		logs:        logs,
		watermarks:  watermarks,
		lock:        lock,
		opts:        opts,
	}
}

// SetContactLinker wires the reconciliation engine's email-linking pass into
// user syncs. Optional; set during startup wiring.
func (s *SyncService) SetContactLinker(linker ContactLinker) {
	s.linker = linker
}

// tally aggregates per-record outcomes across concurrent batch workers.
type tally struct {
	mu        sync.Mutex
	processed int
	created   int
	updated   int
	failed    int
}

func (t *tally) record(created bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	switch {
	case err != nil:
		t.failed++
	case created:
		t.created++
	default:
		t.updated++
	}
}

func (t *tally) addFailed(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed += n
	t.failed += n
}

func (t *tally) counts() (processed, created, updated, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processed, t.created, t.updated, t.failed
}

// Run executes one sync. A "full" type iterates every entity in dependency
// order: users → groups → memberships → courses → enrollments. Incremental
// mode fetches only records changed since the per-entity watermark. The run is
// recorded as a SyncLog row; per-record failures are counted, network failures
// during pagination fail the run.
func (s *SyncService) Run(ctx context.Context, syncType model.SyncType, mode model.SyncMode) (*model.SyncLog, error) {
	switch syncType {
	case model.SyncTypeUsers, model.SyncTypeGroups, model.SyncTypeMemberships,
		model.SyncTypeCourses, model.SyncTypeEnrollments, model.SyncTypeFull:
	default:
		return nil, apperrors.InvalidInput("syncType", string(syncType))
	}

	runID := uuid.NewString()
	if err := s.lock.Acquire(ctx, runID); err != nil {
		return nil, err
	}

	startedAt := time.Now().UTC()
	if err := s.logs.Create(ctx, runID, syncType, mode, startedAt); err != nil {
		s.lock.Release(ctx, runID, model.SyncStatusFailed)
		return nil, apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{Type: audit.EventSyncStart, RunID: runID, Details: map[string]interface{}{
		"syncType": string(syncType),
		"syncMode": string(mode),
	}})

	t := &tally{}
	runErr := s.execute(ctx, syncType, mode, t)

	processed, created, updated, failed := t.counts()
	if err := s.logs.UpdateCounts(ctx, runID, processed, created, updated, failed); err != nil {
		log.Error().Err(err).Str("runId", runID).Msg("failed to update sync counts")
	}

	completedAt := time.Now().UTC()
	status := model.SyncStatusCompleted
	errMsg := ""
	if runErr != nil {
		status = model.SyncStatusFailed
		errMsg = runErr.Error()
	}
	if err := s.logs.Complete(ctx, runID, status, errMsg, completedAt); err != nil {
		log.Error().Err(err).Str("runId", runID).Msg("failed to complete sync log")
	}
	s.lock.Release(ctx, runID, status)

	eventType := audit.EventSyncComplete
	if runErr != nil {
		eventType = audit.EventSyncFailed
	}
	audit.Log(ctx, audit.Event{Type: eventType, RunID: runID, Details: map[string]interface{}{
		"processed": processed,
		"created":   created,
		"updated":   updated,
		"failed":    failed,
	}})

	result, err := s.logs.FindByID(ctx, runID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

func (s *SyncService) execute(ctx context.Context, syncType model.SyncType, mode model.SyncMode, t *tally) error {
	phases := []model.SyncType{syncType}
	if syncType == model.SyncTypeFull {
		phases = []model.SyncType{
			model.SyncTypeUsers,
			model.SyncTypeGroups,
			model.SyncTypeMemberships,
			model.SyncTypeCourses,
			model.SyncTypeEnrollments,
		}
	}

	for _, phase := range phases {
		var err error
		switch phase {
		case model.SyncTypeUsers:
			err = s.syncUsers(ctx, mode, t)
		case model.SyncTypeGroups:
			err = s.syncGroups(ctx, mode, t)
		case model.SyncTypeMemberships:
			err = s.syncMemberships(ctx, t)
		case model.SyncTypeCourses:
			err = s.syncCourses(ctx, mode, t)
		case model.SyncTypeEnrollments:
			err = s.syncEnrollments(ctx, mode, t)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SyncService) since(ctx context.Context, entity model.SyncType, mode model.SyncMode) *time.Time {
	if mode != model.SyncModeIncremental {
		return nil
	}
	since, err := s.watermarks.Get(ctx, entity)
	if err != nil {
		log.Warn().Err(err).Str("entity", string(entity)).Msg("failed to read watermark, falling back to full fetch")
		return nil
	}
	return since
}

func (s *SyncService) advanceWatermark(ctx context.Context, entity model.SyncType, at time.Time) {
	if err := s.watermarks.Set(ctx, entity, at); err != nil {
		log.Error().Err(err).Str("entity", string(entity)).Msg("failed to advance watermark")
	}
}

func (s *SyncService) syncUsers(ctx context.Context, mode model.SyncMode, t *tally) error {
	phaseStart := time.Now().UTC()
	since := s.since(ctx, model.SyncTypeUsers, mode)

	for page := 1; ; page++ {
		p, err := s.client.ListUsers(ctx, lms.ListOptions{Page: page, PerPage: s.opts.PageSize, Since: since})
		if err != nil {
			return apperrors.TransientFetch(err)
		}
		t.addFailed(p.Malformed)

		runBatches(ctx, p.Records, s.opts.BatchSize, s.opts.BatchDelay, t, func(ctx context.Context, u lms.User) (bool, error) {
			return s.users.Upsert(ctx, repository.UpsertLmsUserParams{
				ID:           u.ID,
				Email:        u.Email,
				FirstName:    u.FirstName,
				LastName:     u.LastName,
				Status:       model.LmsUserStatus(u.Status),
				LastActiveAt: u.LastActiveAt,
				SyncedAt:     phaseStart,
			})
		})

		if !p.HasMore {
			break
		}
	}

	s.advanceWatermark(ctx, model.SyncTypeUsers, phaseStart)

	if s.linker != nil {
		linked, err := s.linker.LinkContacts(ctx)
		if err != nil {
			log.Error().Err(err).Msg("contact linking after user sync failed")
		} else if linked > 0 {
			log.Info().Int("linked", linked).Msg("contacts linked to LMS accounts")
		}
	}
	return nil
}

func (s *SyncService) syncGroups(ctx context.Context, mode model.SyncMode, t *tally) error {
	phaseStart := time.Now().UTC()
	since := s.since(ctx, model.SyncTypeGroups, mode)

	for page := 1; ; page++ {
		p, err := s.client.ListGroups(ctx, lms.ListOptions{Page: page, PerPage: s.opts.PageSize, Since: since})
		if err != nil {
			return apperrors.TransientFetch(err)
		}
		t.addFailed(p.Malformed)

		runBatches(ctx, p.Records, s.opts.BatchSize, s.opts.BatchDelay, t, func(ctx context.Context, g lms.Group) (bool, error) {
			return s.groups.Upsert(ctx, repository.UpsertLmsGroupParams{
				ID:        g.ID,
				Name:      g.Name,
				UserCount: g.UserCount,
				SyncedAt:  phaseStart,
			})
		})

		if !p.HasMore {
			break
		}
	}

	s.advanceWatermark(ctx, model.SyncTypeGroups, phaseStart)
	return nil
}

// syncMemberships reconciles each local group's membership against the API.
// API rows promote matching "local" pending rows instead of duplicating them.
// A "local" row the API did not confirm stays pending (upstream reads are
// eventually consistent) but its unconfirmed counter advances; rows past the
// configured cycle limit are dropped.
func (s *SyncService) syncMemberships(ctx context.Context, t *tally) error {
	phaseStart := time.Now().UTC()

	groups, err := s.groups.List(ctx)
	if err != nil {
		return apperrors.Database(err)
	}

	for _, group := range groups {
		for page := 1; ; page++ {
			p, err := s.client.ListGroupMembers(ctx, group.ID, lms.ListOptions{Page: page, PerPage: s.opts.PageSize})
			if err != nil {
				return apperrors.TransientFetch(err)
			}
			t.addFailed(p.Malformed)

			runBatches(ctx, p.Records, s.opts.BatchSize, s.opts.BatchDelay, t, func(ctx context.Context, m lms.Membership) (bool, error) {
				// Membership rows need the referenced user to exist locally.
				user, err := s.users.FindByID(ctx, m.UserID)
				if err != nil {
					return false, err
				}
				if user == nil {
					return false, apperrors.ValidationError("membership references unknown user " + m.UserID)
				}

				// UpsertFromAPI promotes a matching "local" pending row in place.
				return s.members.UpsertFromAPI(ctx, m.GroupID, m.UserID, phaseStart)
			})

			if !p.HasMore {
				break
			}
		}

		if _, err := s.members.IncrementUnconfirmed(ctx, group.ID); err != nil {
			log.Error().Err(err).Str("groupId", group.ID).Msg("failed to advance pending counters")
		}
	}

	stale, err := s.members.DeleteStalePending(ctx, s.opts.PendingMaxCycles)
	if err != nil {
		log.Error().Err(err).Msg("failed to drop stale pending memberships")
	} else if stale > 0 {
		log.Warn().Int64("count", stale).Int("maxCycles", s.opts.PendingMaxCycles).
			Msg("dropped pending memberships never confirmed by the LMS")
	}

	s.advanceWatermark(ctx, model.SyncTypeMemberships, phaseStart)
	return nil
}

func (s *SyncService) syncCourses(ctx context.Context, mode model.SyncMode, t *tally) error {
	phaseStart := time.Now().UTC()
	since := s.since(ctx, model.SyncTypeCourses, mode)

	for page := 1; ; page++ {
		p, err := s.client.ListCourses(ctx, lms.ListOptions{Page: page, PerPage: s.opts.PageSize, Since: since})
		if err != nil {
			return apperrors.TransientFetch(err)
		}
		t.addFailed(p.Malformed)

		runBatches(ctx, p.Records, s.opts.BatchSize, s.opts.BatchDelay, t, func(ctx context.Context, c lms.Course) (bool, error) {
			return s.courses.Upsert(ctx, repository.UpsertCourseParams{
				ID:              c.ID,
				Name:            c.Name,
				NPCUValue:       c.NPCUValue,
				ProductCategory: c.ProductCategory,
				SyncedAt:        phaseStart,
			})
		})

		if !p.HasMore {
			break
		}
	}

	s.advanceWatermark(ctx, model.SyncTypeCourses, phaseStart)
	return nil
}

func (s *SyncService) syncEnrollments(ctx context.Context, mode model.SyncMode, t *tally) error {
	phaseStart := time.Now().UTC()
	since := s.since(ctx, model.SyncTypeEnrollments, mode)

	for page := 1; ; page++ {
		p, err := s.client.ListEnrollments(ctx, lms.ListOptions{Page: page, PerPage: s.opts.PageSize, Since: since})
		if err != nil {
			return apperrors.TransientFetch(err)
		}
		t.addFailed(p.Malformed)

		runBatches(ctx, p.Records, s.opts.BatchSize, s.opts.BatchDelay, t, func(ctx context.Context, e lms.Enrollment) (bool, error) {
			// Enrollments require both referenced rows; a dangling reference
			// is a skipped record, not a failed run.
			user, err := s.users.FindByID(ctx, e.UserID)
			if err != nil {
				return false, err
			}
			course, cerr := s.courses.FindByID(ctx, e.CourseID)
			if cerr != nil {
				return false, cerr
			}
			if user == nil || course == nil {
				return false, apperrors.ValidationError("enrollment references missing user or course")
			}

			return s.enrollments.Upsert(ctx, repository.UpsertEnrollmentParams{
				ID:          e.ID,
				UserID:      e.UserID,
				CourseID:    e.CourseID,
				Status:      e.Status,
				CompletedAt: e.CompletedAt,
				ExpiresAt:   e.ExpiresAt,
				Score:       e.Score,
				SyncedAt:    phaseStart,
			})
		})

		if !p.HasMore {
			break
		}
	}

	s.advanceWatermark(ctx, model.SyncTypeEnrollments, phaseStart)
	return nil
}

// runBatches processes records in fixed-size concurrent batches. Batches run
// sequentially with a pacing delay between them so the LMS API is not
// hammered. A failed record is retried once, then counted and skipped.
func runBatches[T any](ctx context.Context, records []T, batchSize int, delay time.Duration, t *tally, fn func(context.Context, T) (bool, error)) {
	if batchSize < 1 {
		batchSize = 1
	}

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))

		var wg sync.WaitGroup
		for _, rec := range records[start:end] {
			wg.Add(1)
			go func(rec T) {
				defer wg.Done()
				created, err := fn(ctx, rec)
				if err != nil {
					created, err = fn(ctx, rec)
				}
				if err != nil {
					log.Warn().Err(err).Msg("sync record failed")
				}
				t.record(created, err)
			}(rec)
		}
		wg.Wait()

		if end < len(records) && delay > 0 {
			time.Sleep(delay)
		}
	}
}
