package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/partnerops/portal-sync/internal/model"
)

type UpsertLmsGroupParams struct {
	ID        string
	Name      string
	UserCount int
	SyncedAt  time.Time
}

type LmsGroupRepository interface {
	FindByID(ctx context.Context, id string) (*model.LmsGroup, error)
	List(ctx context.Context) ([]model.LmsGroup, error)
	Upsert(ctx context.Context, params UpsertLmsGroupParams) (bool, error)
	// SetPartnerID records or clears the group's matched partner. This is the
	// reconciliation engine's write surface; syncs never touch partner_id.
	SetPartnerID(ctx context.Context, groupID string, partnerID *string) error
	UpdateName(ctx context.Context, groupID, name string) error
	Delete(ctx context.Context, groupID string) error
}

type lmsGroupRepo struct {
	db *sqlx.DB
}

func NewLmsGroupRepository(db *sqlx.DB) LmsGroupRepository {
	return &lmsGroupRepo{db: db}
}

func (r *lmsGroupRepo) FindByID(ctx context.Context, id string) (*model.LmsGroup, error) {
	var g model.LmsGroup
	err := r.db.GetContext(ctx, &g, `SELECT * FROM lms_groups WHERE id = $1`, id)
	return HandleNotFound(&g, err)
}

func (r *lmsGroupRepo) List(ctx context.Context) ([]model.LmsGroup, error) {
	var groups []model.LmsGroup
	err := r.db.SelectContext(ctx, &groups, `SELECT * FROM lms_groups ORDER BY name ASC`)
	return groups, err
}

func (r *lmsGroupRepo) Upsert(ctx context.Context, params UpsertLmsGroupParams) (bool, error) {
	existing, err := r.FindByID(ctx, params.ID)
	if err != nil {
		return false, err
	}

	if existing == nil {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO lms_groups (id, name, user_count, synced_at)
			VALUES ($1, $2, $3, $4)
		`, params.ID, params.Name, params.UserCount, params.SyncedAt)
		return true, err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE lms_groups SET name = $1, user_count = $2, synced_at = $3 WHERE id = $4
	`, params.Name, params.UserCount, params.SyncedAt, params.ID)
	return false, err
}

func (r *lmsGroupRepo) SetPartnerID(ctx context.Context, groupID string, partnerID *string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE lms_groups SET partner_id = $1 WHERE id = $2`, partnerID, groupID)
	return err
}

func (r *lmsGroupRepo) UpdateName(ctx context.Context, groupID, name string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE lms_groups SET name = $1 WHERE id = $2`, name, groupID)
	return err
}

func (r *lmsGroupRepo) Delete(ctx context.Context, groupID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM lms_groups WHERE id = $1`, groupID)
	return err
}
