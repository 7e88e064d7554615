package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/partnerops/portal-sync/internal/model"
)

type UpsertCourseParams struct {
	ID              string
	Name            string
	NPCUValue       int
	ProductCategory string
	SyncedAt        time.Time
}

type CourseRepository interface {
	FindByID(ctx context.Context, id string) (*model.LmsCourse, error)
	List(ctx context.Context) ([]model.LmsCourse, error)
	Upsert(ctx context.Context, params UpsertCourseParams) (bool, error)
}

type courseRepo struct {
	db *sqlx.DB
}

func NewCourseRepository(db *sqlx.DB) CourseRepository {
	return &courseRepo{db: db}
}

func (r *courseRepo) FindByID(ctx context.Context, id string) (*model.LmsCourse, error) {
	var c model.LmsCourse
	err := r.db.GetContext(ctx, &c, `SELECT * FROM lms_courses WHERE id = $1`, id)
	return HandleNotFound(&c, err)
}

func (r *courseRepo) List(ctx context.Context) ([]model.LmsCourse, error) {
	var courses []model.LmsCourse
	err := r.db.SelectContext(ctx, &courses, `SELECT * FROM lms_courses ORDER BY name ASC`)
	return courses, err
}

func (r *courseRepo) Upsert(ctx context.Context, params UpsertCourseParams) (bool, error) {
	existing, err := r.FindByID(ctx, params.ID)
	if err != nil {
		return false, err
	}

	if existing == nil {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO lms_courses (id, name, npcu_value, product_category, synced_at)
			VALUES ($1, $2, $3, $4, $5)
		`, params.ID, params.Name, params.NPCUValue, params.ProductCategory, params.SyncedAt)
		return true, err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE lms_courses
		SET name = $1, npcu_value = $2, product_category = $3, synced_at = $4
		WHERE id = $5
	`, params.Name, params.NPCUValue, params.ProductCategory, params.SyncedAt, params.ID)
	return false, err
}
