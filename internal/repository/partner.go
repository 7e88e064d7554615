package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/partnerops/portal-sync/internal/model"
)

type PartnerRepository interface {
	FindByID(ctx context.Context, id string) (*model.Partner, error)
	FindByAccountName(ctx context.Context, accountName string) (*model.Partner, error)
	List(ctx context.Context) ([]model.Partner, error)
	// Upsert creates or updates a partner by account_name (the CRM natural
	// key) and reports whether a new row was created.
	Upsert(ctx context.Context, params model.UpsertPartnerParams) (bool, error)
	Delete(ctx context.Context, id string) error
}

type partnerRepo struct {
	db *sqlx.DB
}

func NewPartnerRepository(db *sqlx.DB) PartnerRepository {
	return &partnerRepo{db: db}
}

func (r *partnerRepo) FindByID(ctx context.Context, id string) (*model.Partner, error) {
	var p model.Partner
	err := r.db.GetContext(ctx, &p, `SELECT * FROM partners WHERE id = $1`, id)
	return HandleNotFound(&p, err)
}

func (r *partnerRepo) FindByAccountName(ctx context.Context, accountName string) (*model.Partner, error) {
	var p model.Partner
	err := r.db.GetContext(ctx, &p, `SELECT * FROM partners WHERE account_name = $1`, accountName)
	return HandleNotFound(&p, err)
}

func (r *partnerRepo) List(ctx context.Context) ([]model.Partner, error) {
	var partners []model.Partner
	err := r.db.SelectContext(ctx, &partners, `SELECT * FROM partners ORDER BY account_name ASC`)
	return partners, err
}

func (r *partnerRepo) Upsert(ctx context.Context, params model.UpsertPartnerParams) (bool, error) {
	existing, err := r.FindByAccountName(ctx, params.AccountName)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	if existing == nil {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO partners (id, account_name, partner_tier, account_region, account_owner, salesforce_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.NewString(), params.AccountName, params.PartnerTier, params.AccountRegion,
			params.AccountOwner, params.SalesforceID, now, now)
		return true, err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE partners
		SET partner_tier = $1, account_region = $2, account_owner = $3, salesforce_id = $4, updated_at = $5
		WHERE id = $6
	`, params.PartnerTier, params.AccountRegion, params.AccountOwner, params.SalesforceID, now, existing.ID)
	return false, err
}

func (r *partnerRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM partners WHERE id = $1`, id)
	return err
}
