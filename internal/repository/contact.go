package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/partnerops/portal-sync/internal/model"
)

type ContactRepository interface {
	FindByEmail(ctx context.Context, email string) (*model.Contact, error)
	FindByPartnerID(ctx context.Context, partnerID string) ([]model.Contact, error)
	// ListUnlinked returns contacts with no LMS user link yet.
	ListUnlinked(ctx context.Context) ([]model.Contact, error)
	// Upsert creates or updates a contact by email (the CRM natural key) and
	// reports whether a new row was created.
	Upsert(ctx context.Context, params model.UpsertContactParams) (bool, error)
	SetLmsUserID(ctx context.Context, contactID string, lmsUserID string) error
}

type contactRepo struct {
	db *sqlx.DB
}

func NewContactRepository(db *sqlx.DB) ContactRepository {
	return &contactRepo{db: db}
}

func (r *contactRepo) FindByEmail(ctx context.Context, email string) (*model.Contact, error) {
	var c model.Contact
	err := r.db.GetContext(ctx, &c, `SELECT * FROM contacts WHERE email = $1`, strings.ToLower(email))
	return HandleNotFound(&c, err)
}

func (r *contactRepo) FindByPartnerID(ctx context.Context, partnerID string) ([]model.Contact, error) {
	var contacts []model.Contact
	err := r.db.SelectContext(ctx, &contacts, `
		SELECT * FROM contacts WHERE partner_id = $1 ORDER BY email ASC
	`, partnerID)
	return contacts, err
}

func (r *contactRepo) ListUnlinked(ctx context.Context) ([]model.Contact, error) {
	var contacts []model.Contact
	err := r.db.SelectContext(ctx, &contacts, `
		SELECT * FROM contacts WHERE lms_user_id IS NULL ORDER BY email ASC
	`)
	return contacts, err
}

func (r *contactRepo) Upsert(ctx context.Context, params model.UpsertContactParams) (bool, error) {
	email := strings.ToLower(params.Email)
	existing, err := r.FindByEmail(ctx, email)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	if existing == nil {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO contacts (id, partner_id, email, first_name, last_name, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.NewString(), params.PartnerID, email, params.FirstName, params.LastName, now, now)
		return true, err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE contacts
		SET partner_id = $1, first_name = $2, last_name = $3, updated_at = $4
		WHERE id = $5
	`, params.PartnerID, params.FirstName, params.LastName, now, existing.ID)
	return false, err
}

func (r *contactRepo) SetLmsUserID(ctx context.Context, contactID string, lmsUserID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET lms_user_id = $1, updated_at = $2 WHERE id = $3
	`, lmsUserID, time.Now().UTC(), contactID)
	return err
}
