package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/lms"
	"github.com/partnerops/portal-sync/internal/model"
)

func newSyncService(r *testRepos, client lms.Client) (*SyncService, *LockService) {
	lock := NewLockService(r.state, r.logs)
	svc := NewSyncService(
		client, r.users, r.groups, r.members, r.courses, r.enrollments,
		r.logs, r.watermarks, lock, testSyncOptions(),
	)
	return svc, lock
}

func TestSyncRun(t *testing.T) {
	ctx := context.Background()

	t.Run("full sync pulls every entity in dependency order", func(t *testing.T) {
		r := newTestRepos(t)
		completed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		client := &fakeClient{
			users:   []lms.User{{ID: "u-1", Email: "a@acme.com", Status: "active"}, {ID: "u-2", Email: "b@acme.com", Status: "active"}},
			groups:  []lms.Group{{ID: "g-1", Name: "ptr_Acme", UserCount: 2}},
			courses: []lms.Course{{ID: "c-1", Name: "Platform Cert", NPCUValue: 5}},
			enrollments: []lms.Enrollment{
				{ID: "e-1", UserID: "u-1", CourseID: "c-1", Status: "completed", CompletedAt: &completed},
			},
			memberships: map[string][]lms.Membership{
				"g-1": {{GroupID: "g-1", UserID: "u-1"}, {GroupID: "g-1", UserID: "u-2"}},
			},
		}
		svc, _ := newSyncService(r, client)

		result, err := svc.Run(ctx, model.SyncTypeFull, model.SyncModeFull)
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusCompleted, result.Status)
		// 2 users + 1 group + 2 memberships + 1 course + 1 enrollment
		assert.Equal(t, 7, result.Processed)
		assert.Equal(t, 7, result.Created)
		assert.Equal(t, 0, result.Failed)

		users, err := r.users.List(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 2)

		members, err := r.members.ListByGroup(ctx, "g-1")
		require.NoError(t, err)
		assert.Len(t, members, 2)
		for _, m := range members {
			assert.Equal(t, model.PendingSourceAPI, m.PendingSource)
		}

		state, err := r.state.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusCompleted, state.Status)
	})

	t.Run("a second identical run updates instead of creating", func(t *testing.T) {
		r := newTestRepos(t)
		client := &fakeClient{
			users: []lms.User{{ID: "u-1", Email: "a@acme.com", Status: "active"}},
		}
		svc, _ := newSyncService(r, client)

		first, err := svc.Run(ctx, model.SyncTypeUsers, model.SyncModeFull)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Created)

		second, err := svc.Run(ctx, model.SyncTypeUsers, model.SyncModeFull)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Created)
		assert.Equal(t, 1, second.Updated)

		users, err := r.users.List(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})

	t.Run("rejects a run while another holds the lock", func(t *testing.T) {
		r := newTestRepos(t)
		svc, lock := newSyncService(r, &fakeClient{})

		require.NoError(t, lock.Acquire(ctx, "other-run"))

		_, err := svc.Run(ctx, model.SyncTypeUsers, model.SyncModeFull)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeSyncInProgress, apperrors.GetCode(err))
	})

	t.Run("rejects an unknown sync type", func(t *testing.T) {
		r := newTestRepos(t)
		svc, _ := newSyncService(r, &fakeClient{})

		_, err := svc.Run(ctx, model.SyncType("bogus"), model.SyncModeFull)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})

	t.Run("a fetch failure fails the run and releases the lock", func(t *testing.T) {
		r := newTestRepos(t)
		svc, _ := newSyncService(r, &fakeClient{listErr: errLMSDown})

		result, err := svc.Run(ctx, model.SyncTypeUsers, model.SyncModeFull)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeTransientFetch, apperrors.GetCode(err))
		require.NotNil(t, result)
		assert.Equal(t, model.SyncStatusFailed, result.Status)

		state, err := r.state.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusFailed, state.Status)

		// The lock is free again for the next run.
		svc2, _ := newSyncService(r, &fakeClient{})
		_, err = svc2.Run(ctx, model.SyncTypeUsers, model.SyncModeFull)
		assert.NoError(t, err)
	})

	t.Run("advances the watermark after a phase", func(t *testing.T) {
		r := newTestRepos(t)
		svc, _ := newSyncService(r, &fakeClient{})

		before := time.Now().UTC().Add(-time.Second)
		_, err := svc.Run(ctx, model.SyncTypeUsers, model.SyncModeFull)
		require.NoError(t, err)

		mark, err := r.watermarks.Get(ctx, model.SyncTypeUsers)
		require.NoError(t, err)
		require.NotNil(t, mark)
		assert.True(t, mark.After(before))
	})

	t.Run("a membership referencing an unknown user is a per-record failure", func(t *testing.T) {
		r := newTestRepos(t)
		seedGroup(t, r, "g-1", "ptr_Acme")
		client := &fakeClient{
			memberships: map[string][]lms.Membership{
				"g-1": {{GroupID: "g-1", UserID: "u-unknown"}},
			},
		}
		svc, _ := newSyncService(r, client)

		result, err := svc.Run(ctx, model.SyncTypeMemberships, model.SyncModeFull)
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusCompleted, result.Status)
		assert.Equal(t, 1, result.Failed)
	})
}

func TestSyncPendingMemberships(t *testing.T) {
	ctx := context.Background()

	t.Run("promotes a local pending row confirmed by the API", func(t *testing.T) {
		r := newTestRepos(t)
		seedGroup(t, r, "g-1", "ptr_Acme")
		seedUser(t, r, "u-1", "a@acme.com")
		_, err := r.members.InsertLocal(ctx, "g-1", "u-1")
		require.NoError(t, err)

		client := &fakeClient{
			memberships: map[string][]lms.Membership{"g-1": {{GroupID: "g-1", UserID: "u-1"}}},
		}
		svc, _ := newSyncService(r, client)

		_, err = svc.Run(ctx, model.SyncTypeMemberships, model.SyncModeFull)
		require.NoError(t, err)

		m, err := r.members.Find(ctx, "g-1", "u-1")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, model.PendingSourceAPI, m.PendingSource)
		assert.Equal(t, 0, m.UnconfirmedSyncs)
	})

	t.Run("drops a local pending row the API never confirms", func(t *testing.T) {
		r := newTestRepos(t)
		seedGroup(t, r, "g-1", "ptr_Acme")
		seedUser(t, r, "u-1", "a@acme.com")
		_, err := r.members.InsertLocal(ctx, "g-1", "u-1")
		require.NoError(t, err)

		svc, _ := newSyncService(r, &fakeClient{}) // API returns no memberships

		// PendingMaxCycles is 2 in test options: survives two unconfirmed
		// runs, dropped on the third.
		for i := 0; i < 2; i++ {
			_, err = svc.Run(ctx, model.SyncTypeMemberships, model.SyncModeFull)
			require.NoError(t, err)

			m, err := r.members.Find(ctx, "g-1", "u-1")
			require.NoError(t, err)
			require.NotNil(t, m, "run %d", i+1)
			assert.Equal(t, model.PendingSourceLocal, m.PendingSource)
		}

		_, err = svc.Run(ctx, model.SyncTypeMemberships, model.SyncModeFull)
		require.NoError(t, err)

		m, err := r.members.Find(ctx, "g-1", "u-1")
		require.NoError(t, err)
		assert.Nil(t, m)
	})
}

func TestSyncContactLinking(t *testing.T) {
	ctx := context.Background()

	t.Run("links contacts after a users sync", func(t *testing.T) {
		r := newTestRepos(t)
		_, err := r.contacts.Upsert(ctx, model.UpsertContactParams{Email: "jane@acme.com"})
		require.NoError(t, err)

		client := &fakeClient{users: []lms.User{{ID: "u-1", Email: "jane@acme.com", Status: "active"}}}
		svc, _ := newSyncService(r, client)

		cache := &cacheLessReconcile{repos: r, client: client}
		svc.SetContactLinker(cache.build())

		_, err = svc.Run(ctx, model.SyncTypeUsers, model.SyncModeFull)
		require.NoError(t, err)

		contact, err := r.contacts.FindByEmail(ctx, "jane@acme.com")
		require.NoError(t, err)
		require.NotNil(t, contact.LmsUserID)
		assert.Equal(t, "u-1", *contact.LmsUserID)

		user, err := r.users.FindByID(ctx, "u-1")
		require.NoError(t, err)
		require.NotNil(t, user.ContactID)
		assert.Equal(t, contact.ID, *user.ContactID)
	})
}

// cacheLessReconcile builds a ReconcileService without Redis for linker tests.
type cacheLessReconcile struct {
	repos  *testRepos
	client lms.Client
}

func (c *cacheLessReconcile) build() *ReconcileService {
	return NewReconcileService(
		c.client, c.repos.partners, c.repos.contacts, c.repos.users, c.repos.groups,
		c.repos.members, c.repos.overrides, c.repos.analyses, nil, testMatchOptions(),
	)
}

func TestLockService(t *testing.T) {
	ctx := context.Background()

	t.Run("status reports the running sync", func(t *testing.T) {
		r := newTestRepos(t)
		lock := NewLockService(r.state, r.logs)

		info, err := lock.Status(ctx)
		require.NoError(t, err)
		assert.False(t, info.Locked)

		require.NoError(t, r.logs.Create(ctx, "run-1", model.SyncTypeFull, model.SyncModeFull, time.Now().UTC()))
		require.NoError(t, lock.Acquire(ctx, "run-1"))

		info, err = lock.Status(ctx)
		require.NoError(t, err)
		assert.True(t, info.Locked)
		require.NotNil(t, info.CurrentRun)
		assert.Equal(t, "run-1", info.CurrentRun.ID)
	})

	t.Run("reset clears a stuck lock and fails the orphaned log", func(t *testing.T) {
		r := newTestRepos(t)
		lock := NewLockService(r.state, r.logs)

		require.NoError(t, r.logs.Create(ctx, "run-stuck", model.SyncTypeFull, model.SyncModeFull, time.Now().UTC()))
		require.NoError(t, lock.Acquire(ctx, "run-stuck"))

		require.NoError(t, lock.Reset(ctx))

		info, err := lock.Status(ctx)
		require.NoError(t, err)
		assert.False(t, info.Locked)

		logRow, err := r.logs.FindByID(ctx, "run-stuck")
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusFailed, logRow.Status)
	})

	t.Run("a stale release after reset is a no-op", func(t *testing.T) {
		r := newTestRepos(t)
		lock := NewLockService(r.state, r.logs)

		require.NoError(t, lock.Acquire(ctx, "run-old"))
		require.NoError(t, lock.Reset(ctx))
		require.NoError(t, lock.Acquire(ctx, "run-new"))

		// The old holder finishing late must not clobber the new run's lock.
		lock.Release(ctx, "run-old", model.SyncStatusCompleted)

		state, err := r.state.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusRunning, state.Status)
		assert.Equal(t, "run-new", state.RunID)
	})
}
