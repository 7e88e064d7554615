package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/partnerops/portal-sync/internal/model"
)

type UpsertLmsUserParams struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	Status       model.LmsUserStatus
	LastActiveAt *time.Time
	SyncedAt     time.Time
}

type LmsUserRepository interface {
	FindByID(ctx context.Context, id string) (*model.LmsUser, error)
	FindByEmail(ctx context.Context, email string) (*model.LmsUser, error)
	List(ctx context.Context) ([]model.LmsUser, error)
	// ListByDomainNotInGroup returns active users whose email domain matches
	// and who are not already members of the group.
	ListByDomainNotInGroup(ctx context.Context, domain, groupID string) ([]model.LmsUser, error)
	// Upsert writes a user by LMS id, falling back to the email natural key
	// when the LMS response carried no id. Reports whether a row was created.
	Upsert(ctx context.Context, params UpsertLmsUserParams) (bool, error)
	SetContactID(ctx context.Context, userID string, contactID string) error
}

type lmsUserRepo struct {
	db *sqlx.DB
}

func NewLmsUserRepository(db *sqlx.DB) LmsUserRepository {
	return &lmsUserRepo{db: db}
}

func (r *lmsUserRepo) FindByID(ctx context.Context, id string) (*model.LmsUser, error) {
	var u model.LmsUser
	err := r.db.GetContext(ctx, &u, `SELECT * FROM lms_users WHERE id = $1`, id)
	return HandleNotFound(&u, err)
}

func (r *lmsUserRepo) FindByEmail(ctx context.Context, email string) (*model.LmsUser, error) {
	var u model.LmsUser
	err := r.db.GetContext(ctx, &u, `SELECT * FROM lms_users WHERE email = $1`, strings.ToLower(email))
	return HandleNotFound(&u, err)
}

func (r *lmsUserRepo) List(ctx context.Context) ([]model.LmsUser, error) {
	var users []model.LmsUser
	err := r.db.SelectContext(ctx, &users, `SELECT * FROM lms_users ORDER BY email ASC`)
	return users, err
}

// likeEscaper neutralizes LIKE metacharacters so a stored domain such as
// "my_corp.com" matches literally instead of as a single-character wildcard.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *lmsUserRepo) ListByDomainNotInGroup(ctx context.Context, domain, groupID string) ([]model.LmsUser, error) {
	var users []model.LmsUser
	err := r.db.SelectContext(ctx, &users, `
		SELECT * FROM lms_users
		WHERE email LIKE '%@' || $1 ESCAPE '\'
		  AND status = 'active'
		  AND id NOT IN (SELECT user_id FROM lms_group_members WHERE group_id = $2)
		ORDER BY email ASC
	`, likeEscaper.Replace(strings.ToLower(domain)), groupID)
	return users, err
}

func (r *lmsUserRepo) Upsert(ctx context.Context, params UpsertLmsUserParams) (bool, error) {
	email := strings.ToLower(params.Email)

	var existing *model.LmsUser
	var err error
	if params.ID != "" {
		existing, err = r.FindByID(ctx, params.ID)
	} else {
		existing, err = r.FindByEmail(ctx, email)
	}
	if err != nil {
		return false, err
	}
	if existing == nil && params.ID != "" {
		// The LMS occasionally re-issues ids for existing accounts; the email
		// unique key wins in that case.
		existing, err = r.FindByEmail(ctx, email)
		if err != nil {
			return false, err
		}
	}

	if existing == nil {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO lms_users (id, email, first_name, last_name, status, last_active_at, synced_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, params.ID, email, params.FirstName, params.LastName, params.Status, params.LastActiveAt, params.SyncedAt)
		return true, err
	}

	id := existing.ID
	if params.ID != "" {
		id = params.ID
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE lms_users
		SET id = $1, email = $2, first_name = $3, last_name = $4, status = $5, last_active_at = $6, synced_at = $7
		WHERE id = $8
	`, id, email, params.FirstName, params.LastName, params.Status, params.LastActiveAt, params.SyncedAt, existing.ID)
	return false, err
}

func (r *lmsUserRepo) SetContactID(ctx context.Context, userID string, contactID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE lms_users SET contact_id = $1 WHERE id = $2`, contactID, userID)
	return err
}
