package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/partnerops/portal-sync/internal/model"
)

type UpsertEnrollmentParams struct {
	ID          string
	UserID      string
	CourseID    string
	Status      string
	CompletedAt *time.Time
	ExpiresAt   *time.Time
	Score       *float64
	SyncedAt    time.Time
}

// CertCompletion is a completed certification enrollment joined with its
// course, scoped to one partner's linked learners.
type CertCompletion struct {
	EnrollmentID    string     `db:"enrollment_id"`
	UserID          string     `db:"user_id"`
	CourseID        string     `db:"course_id"`
	NPCUValue       int        `db:"npcu_value"`
	ProductCategory string     `db:"product_category"`
	CompletedAt     time.Time  `db:"completed_at"`
	ExpiresAt       *time.Time `db:"expires_at"`
}

type EnrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*model.LmsEnrollment, error)
	Upsert(ctx context.Context, params UpsertEnrollmentParams) (bool, error)
	// CompletedCertsByPartner returns every completed certification enrollment
	// (npcu_value > 0) by learners linked to the partner through its CRM
	// contacts. Expiry is evaluated by the caller.
	CompletedCertsByPartner(ctx context.Context, partnerID string) ([]CertCompletion, error)
}

type enrollmentRepo struct {
	db *sqlx.DB
}

func NewEnrollmentRepository(db *sqlx.DB) EnrollmentRepository {
	return &enrollmentRepo{db: db}
}

func (r *enrollmentRepo) FindByID(ctx context.Context, id string) (*model.LmsEnrollment, error) {
	var e model.LmsEnrollment
	err := r.db.GetContext(ctx, &e, `SELECT * FROM lms_enrollments WHERE id = $1`, id)
	return HandleNotFound(&e, err)
}

func (r *enrollmentRepo) Upsert(ctx context.Context, params UpsertEnrollmentParams) (bool, error) {
	existing, err := r.FindByID(ctx, params.ID)
	if err != nil {
		return false, err
	}

	if existing == nil {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO lms_enrollments (id, user_id, course_id, status, completed_at, expires_at, score, synced_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, params.ID, params.UserID, params.CourseID, params.Status,
			params.CompletedAt, params.ExpiresAt, params.Score, params.SyncedAt)
		return true, err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE lms_enrollments
		SET user_id = $1, course_id = $2, status = $3, completed_at = $4, expires_at = $5, score = $6, synced_at = $7
		WHERE id = $8
	`, params.UserID, params.CourseID, params.Status, params.CompletedAt,
		params.ExpiresAt, params.Score, params.SyncedAt, params.ID)
	return false, err
}

func (r *enrollmentRepo) CompletedCertsByPartner(ctx context.Context, partnerID string) ([]CertCompletion, error) {
	var certs []CertCompletion
	err := r.db.SelectContext(ctx, &certs, `
		SELECT e.id AS enrollment_id,
		       e.user_id,
		       e.course_id,
		       c.npcu_value,
		       c.product_category,
		       e.completed_at,
		       e.expires_at
		FROM lms_enrollments e
		JOIN lms_courses c ON c.id = e.course_id
		JOIN contacts ct ON ct.lms_user_id = e.user_id
		WHERE ct.partner_id = $1
		  AND c.npcu_value > 0
		  AND e.completed_at IS NOT NULL
		ORDER BY e.completed_at ASC
	`, partnerID)
	return certs, err
}
