package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/partnerops/portal-sync/internal/model"
)

type GroupMemberRepository interface {
	Find(ctx context.Context, groupID, userID string) (*model.LmsGroupMember, error)
	ListByGroup(ctx context.Context, groupID string) ([]model.LmsGroupMember, error)
	// MemberUsers returns the LMS user rows for every member of the group.
	MemberUsers(ctx context.Context, groupID string) ([]model.LmsUser, error)
	CountByGroup(ctx context.Context, groupID string) (int, error)
	// UpsertFromAPI records an API-confirmed membership. A matching "local"
	// pending row is promoted to "api" instead of duplicated. Reports whether
	// a new row was created.
	UpsertFromAPI(ctx context.Context, groupID, userID string, syncedAt time.Time) (bool, error)
	// InsertLocal writes an optimistic "local" pending row. Reports whether a
	// row was inserted (false when the membership already exists).
	InsertLocal(ctx context.Context, groupID, userID string) (bool, error)
	// IncrementUnconfirmed bumps the unconfirmed-sync counter on every still
	// pending "local" row of the group. Called once per completed membership
	// sync that did not confirm them.
	IncrementUnconfirmed(ctx context.Context, groupID string) (int64, error)
	// DeleteStalePending removes "local" rows the API has failed to confirm
	// for more than maxCycles sync runs.
	DeleteStalePending(ctx context.Context, maxCycles int) (int64, error)
	Delete(ctx context.Context, groupID, userID string) error
}

type groupMemberRepo struct {
	db *sqlx.DB
}

func NewGroupMemberRepository(db *sqlx.DB) GroupMemberRepository {
	return &groupMemberRepo{db: db}
}

func (r *groupMemberRepo) Find(ctx context.Context, groupID, userID string) (*model.LmsGroupMember, error) {
	var m model.LmsGroupMember
	err := r.db.GetContext(ctx, &m, `
		SELECT * FROM lms_group_members WHERE group_id = $1 AND user_id = $2
	`, groupID, userID)
	return HandleNotFound(&m, err)
}

func (r *groupMemberRepo) ListByGroup(ctx context.Context, groupID string) ([]model.LmsGroupMember, error) {
	var members []model.LmsGroupMember
	err := r.db.SelectContext(ctx, &members, `
		SELECT * FROM lms_group_members WHERE group_id = $1 ORDER BY user_id ASC
	`, groupID)
	return members, err
}

func (r *groupMemberRepo) MemberUsers(ctx context.Context, groupID string) ([]model.LmsUser, error) {
	var users []model.LmsUser
	err := r.db.SelectContext(ctx, &users, `
		SELECT u.* FROM lms_users u
		JOIN lms_group_members m ON m.user_id = u.id
		WHERE m.group_id = $1
		ORDER BY u.email ASC
	`, groupID)
	return users, err
}

func (r *groupMemberRepo) CountByGroup(ctx context.Context, groupID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM lms_group_members WHERE group_id = $1
	`, groupID)
	return count, err
}

func (r *groupMemberRepo) UpsertFromAPI(ctx context.Context, groupID, userID string, syncedAt time.Time) (bool, error) {
	existing, err := r.Find(ctx, groupID, userID)
	if err != nil {
		return false, err
	}

	if existing == nil {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO lms_group_members (group_id, user_id, pending_source, unconfirmed_syncs, created_at)
			VALUES ($1, $2, 'api', 0, $3)
		`, groupID, userID, syncedAt)
		return true, err
	}

	if existing.PendingSource == model.PendingSourceLocal {
		_, err := r.db.ExecContext(ctx, `
			UPDATE lms_group_members
			SET pending_source = 'api', unconfirmed_syncs = 0
			WHERE group_id = $1 AND user_id = $2
		`, groupID, userID)
		return false, err
	}

	return false, nil
}

func (r *groupMemberRepo) InsertLocal(ctx context.Context, groupID, userID string) (bool, error) {
	existing, err := r.Find(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO lms_group_members (group_id, user_id, pending_source, unconfirmed_syncs, created_at)
		VALUES ($1, $2, 'local', 0, $3)
	`, groupID, userID, time.Now().UTC())
	return true, err
}

func (r *groupMemberRepo) IncrementUnconfirmed(ctx context.Context, groupID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE lms_group_members
		SET unconfirmed_syncs = unconfirmed_syncs + 1
		WHERE group_id = $1 AND pending_source = 'local'
	`, groupID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *groupMemberRepo) DeleteStalePending(ctx context.Context, maxCycles int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM lms_group_members
		WHERE pending_source = 'local' AND unconfirmed_syncs > $1
	`, maxCycles)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *groupMemberRepo) Delete(ctx context.Context, groupID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM lms_group_members WHERE group_id = $1 AND user_id = $2
	`, groupID, userID)
	return err
}
