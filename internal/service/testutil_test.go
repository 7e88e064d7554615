package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/partnerops/portal-sync/internal/lms"
	"github.com/partnerops/portal-sync/internal/repository"
)

// testSchema mirrors the postgres migration in sqlite-compatible DDL so the
// service layer runs against a real database in tests.
const testSchema = `
CREATE TABLE partners (
    id             TEXT PRIMARY KEY,
    account_name   TEXT NOT NULL UNIQUE,
    partner_tier   TEXT NOT NULL DEFAULT '',
    account_region TEXT NOT NULL DEFAULT '',
    account_owner  TEXT NOT NULL DEFAULT '',
    salesforce_id  TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMP NOT NULL,
    updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE contacts (
    id          TEXT PRIMARY KEY,
    partner_id  TEXT REFERENCES partners(id) ON DELETE SET NULL,
    email       TEXT NOT NULL UNIQUE,
    first_name  TEXT NOT NULL DEFAULT '',
    last_name   TEXT NOT NULL DEFAULT '',
    lms_user_id TEXT,
    created_at  TIMESTAMP NOT NULL,
    updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE lms_users (
    id             TEXT PRIMARY KEY,
    email          TEXT NOT NULL UNIQUE,
    first_name     TEXT NOT NULL DEFAULT '',
    last_name      TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'active',
    last_active_at TIMESTAMP,
    contact_id     TEXT REFERENCES contacts(id) ON DELETE SET NULL,
    synced_at      TIMESTAMP NOT NULL
);

CREATE TABLE lms_groups (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    user_count INTEGER NOT NULL DEFAULT 0,
    partner_id TEXT REFERENCES partners(id) ON DELETE SET NULL,
    synced_at  TIMESTAMP NOT NULL
);

CREATE TABLE lms_group_members (
    group_id          TEXT NOT NULL REFERENCES lms_groups(id) ON DELETE CASCADE,
    user_id           TEXT NOT NULL REFERENCES lms_users(id) ON DELETE CASCADE,
    pending_source    TEXT NOT NULL DEFAULT 'api',
    unconfirmed_syncs INTEGER NOT NULL DEFAULT 0,
    created_at        TIMESTAMP NOT NULL,
    PRIMARY KEY (group_id, user_id)
);

CREATE TABLE lms_courses (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    npcu_value       INTEGER NOT NULL DEFAULT 0,
    product_category TEXT NOT NULL DEFAULT '',
    synced_at        TIMESTAMP NOT NULL
);

CREATE TABLE lms_enrollments (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL REFERENCES lms_users(id) ON DELETE CASCADE,
    course_id    TEXT NOT NULL REFERENCES lms_courses(id) ON DELETE CASCADE,
    status       TEXT NOT NULL DEFAULT '',
    completed_at TIMESTAMP,
    expires_at   TIMESTAMP,
    score        REAL,
    synced_at    TIMESTAMP NOT NULL
);

CREATE TABLE sync_logs (
    id           TEXT PRIMARY KEY,
    sync_type    TEXT NOT NULL,
    sync_mode    TEXT NOT NULL,
    status       TEXT NOT NULL,
    processed    INTEGER NOT NULL DEFAULT 0,
    created      INTEGER NOT NULL DEFAULT 0,
    updated      INTEGER NOT NULL DEFAULT 0,
    failed       INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    started_at   TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE TABLE sync_state (
    id         INTEGER PRIMARY KEY,
    status     TEXT NOT NULL DEFAULT 'idle',
    run_id     TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP,
    updated_at TIMESTAMP NOT NULL
);

INSERT INTO sync_state (id, status, run_id, updated_at) VALUES (1, 'idle', '', CURRENT_TIMESTAMP);

CREATE TABLE sync_schedules (
    id             INTEGER PRIMARY KEY,
    enabled        BOOLEAN NOT NULL DEFAULT FALSE,
    interval_hours INTEGER NOT NULL DEFAULT 24,
    sync_types     TEXT NOT NULL DEFAULT 'full',
    last_run_at    TIMESTAMP,
    next_run_at    TIMESTAMP
);

INSERT INTO sync_schedules (id, enabled, interval_hours, sync_types) VALUES (1, FALSE, 24, 'full');

CREATE TABLE sync_watermarks (
    entity_type TEXT PRIMARY KEY,
    synced_at   TIMESTAMP NOT NULL
);

CREATE TABLE portal_settings (
    id                INTEGER PRIMARY KEY,
    tier_requirements TEXT NOT NULL DEFAULT '{"Registered":5,"Select":15,"Premier":20}',
    updated_at        TIMESTAMP NOT NULL
);

INSERT INTO portal_settings (id, updated_at) VALUES (1, CURRENT_TIMESTAMP);

CREATE TABLE group_domain_overrides (
    group_id   TEXT NOT NULL REFERENCES lms_groups(id) ON DELETE CASCADE,
    domain     TEXT NOT NULL,
    kind       TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (group_id, domain, kind)
);

CREATE TABLE group_analyses (
    group_id              TEXT PRIMARY KEY REFERENCES lms_groups(id) ON DELETE CASCADE,
    domains               TEXT NOT NULL DEFAULT '[]',
    potential_users       INTEGER NOT NULL DEFAULT 0,
    contacts_not_in_lms   INTEGER NOT NULL DEFAULT 0,
    contacts_unknown      INTEGER NOT NULL DEFAULT 0,
    analyzed_at           TIMESTAMP NOT NULL
);
`

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	// In-memory sqlite gives every connection its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}

// testRepos bundles every repository over one test database.
type testRepos struct {
	db          *sqlx.DB
	partners    repository.PartnerRepository
	contacts    repository.ContactRepository
	users       repository.LmsUserRepository
	groups      repository.LmsGroupRepository
	members     repository.GroupMemberRepository
	courses     repository.CourseRepository
	enrollments repository.EnrollmentRepository
	logs        repository.SyncLogRepository
	state       repository.SyncStateRepository
	schedules   repository.SyncScheduleRepository
	watermarks  repository.SyncWatermarkRepository
	settings    repository.PortalSettingsRepository
	overrides   repository.DomainOverrideRepository
	analyses    repository.GroupAnalysisRepository
}

func newTestRepos(t *testing.T) *testRepos {
	db := newTestDB(t)
	return &testRepos{
		db:          db,
		partners:    repository.NewPartnerRepository(db),
		contacts:    repository.NewContactRepository(db),
		users:       repository.NewLmsUserRepository(db),
		groups:      repository.NewLmsGroupRepository(db),
		members:     repository.NewGroupMemberRepository(db),
		courses:     repository.NewCourseRepository(db),
		enrollments: repository.NewEnrollmentRepository(db),
		logs:        repository.NewSyncLogRepository(db),
		state:       repository.NewSyncStateRepository(db),
		schedules:   repository.NewSyncScheduleRepository(db),
		watermarks:  repository.NewSyncWatermarkRepository(db),
		settings:    repository.NewPortalSettingsRepository(db),
		overrides:   repository.NewDomainOverrideRepository(db),
		analyses:    repository.NewGroupAnalysisRepository(db),
	}
}

// fakeClient is an in-memory lms.Client. Fixture slices are served as a single
// page; per-call hooks override individual operations where a test needs
// specific behavior.
type fakeClient struct {
	mu sync.Mutex

	users       []lms.User
	groups      []lms.Group
	courses     []lms.Course
	enrollments []lms.Enrollment
	memberships map[string][]lms.Membership

	listErr         error
	addMemberErr    func(groupID, userID string) error
	findUserByEmail func(email string) (*lms.User, error)

	addedMembers   []string // "group:user"
	removedMembers []string
	deletedGroups  []string
	renamedGroups  map[string]string
}

var _ lms.Client = (*fakeClient)(nil)

func singlePage[T any](records []T) *lms.Page[T] {
	return &lms.Page[T]{Items: len(records), Records: records}
}

func (f *fakeClient) ListUsers(ctx context.Context, opts lms.ListOptions) (*lms.Page[lms.User], error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return singlePage(f.users), nil
}

func (f *fakeClient) ListGroups(ctx context.Context, opts lms.ListOptions) (*lms.Page[lms.Group], error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return singlePage(f.groups), nil
}

func (f *fakeClient) ListCourses(ctx context.Context, opts lms.ListOptions) (*lms.Page[lms.Course], error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return singlePage(f.courses), nil
}

func (f *fakeClient) ListEnrollments(ctx context.Context, opts lms.ListOptions) (*lms.Page[lms.Enrollment], error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return singlePage(f.enrollments), nil
}

func (f *fakeClient) ListGroupMembers(ctx context.Context, groupID string, opts lms.ListOptions) (*lms.Page[lms.Membership], error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return singlePage(f.memberships[groupID]), nil
}

func (f *fakeClient) FindUserByEmail(ctx context.Context, email string) (*lms.User, error) {
	if f.findUserByEmail != nil {
		return f.findUserByEmail(email)
	}
	for _, u := range f.users {
		if u.Email == email {
			user := u
			return &user, nil
		}
	}
	return nil, lms.ErrNotFound
}

func (f *fakeClient) AddGroupMember(ctx context.Context, groupID, userID string) error {
	if f.addMemberErr != nil {
		if err := f.addMemberErr(groupID, userID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addedMembers = append(f.addedMembers, groupID+":"+userID)
	return nil
}

func (f *fakeClient) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedMembers = append(f.removedMembers, groupID+":"+userID)
	return nil
}

func (f *fakeClient) CreateGroup(ctx context.Context, name string) (*lms.Group, error) {
	return &lms.Group{ID: "g-created", Name: name}, nil
}

func (f *fakeClient) RenameGroup(ctx context.Context, groupID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renamedGroups == nil {
		f.renamedGroups = make(map[string]string)
	}
	f.renamedGroups[groupID] = name
	return nil
}

func (f *fakeClient) DeleteGroup(ctx context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedGroups = append(f.deletedGroups, groupID)
	return nil
}

var errLMSDown = errors.New("lms unreachable")

func testSyncOptions() SyncOptions {
	return SyncOptions{PageSize: 100, BatchSize: 5, BatchDelay: 0, PendingMaxCycles: 2}
}

func testMatchOptions() MatchOptions {
	return MatchOptions{Threshold: 0.4, MaxCandidates: 5, GroupPrefix: "ptr_"}
}

func seedUser(t *testing.T, r *testRepos, id, email string) {
	t.Helper()
	_, err := r.users.Upsert(context.Background(), repository.UpsertLmsUserParams{
		ID: id, Email: email, Status: "active", SyncedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func seedGroup(t *testing.T, r *testRepos, id, name string) {
	t.Helper()
	_, err := r.groups.Upsert(context.Background(), repository.UpsertLmsGroupParams{
		ID: id, Name: name, SyncedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}
