package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/partnerops/portal-sync/internal/model"
)

type PortalSettingsRepository interface {
	Get(ctx context.Context) (*model.PortalSettings, error)
	UpdateTierRequirements(ctx context.Context, tierRequirementsJSON string) error
}

type portalSettingsRepo struct {
	db *sqlx.DB
}

func NewPortalSettingsRepository(db *sqlx.DB) PortalSettingsRepository {
	return &portalSettingsRepo{db: db}
}

func (r *portalSettingsRepo) Get(ctx context.Context) (*model.PortalSettings, error) {
	var s model.PortalSettings
	err := r.db.GetContext(ctx, &s, `SELECT * FROM portal_settings WHERE id = 1`)
	return HandleNotFound(&s, err)
}

func (r *portalSettingsRepo) UpdateTierRequirements(ctx context.Context, tierRequirementsJSON string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE portal_settings SET tier_requirements = $1, updated_at = $2 WHERE id = 1
	`, tierRequirementsJSON, time.Now().UTC())
	return err
}

// Group Domain Override Repository (per-group operator overrides)

type DomainOverrideRepository interface {
	ListByGroup(ctx context.Context, groupID string) ([]model.GroupDomainOverride, error)
	Add(ctx context.Context, groupID, domain string, kind model.DomainOverrideKind) error
	Remove(ctx context.Context, groupID, domain string, kind model.DomainOverrideKind) error
}

type domainOverrideRepo struct {
	db *sqlx.DB
}

func NewDomainOverrideRepository(db *sqlx.DB) DomainOverrideRepository {
	return &domainOverrideRepo{db: db}
}

func (r *domainOverrideRepo) ListByGroup(ctx context.Context, groupID string) ([]model.GroupDomainOverride, error) {
	var overrides []model.GroupDomainOverride
	err := r.db.SelectContext(ctx, &overrides, `
		SELECT * FROM group_domain_overrides WHERE group_id = $1 ORDER BY domain ASC
	`, groupID)
	return overrides, err
}

func (r *domainOverrideRepo) Add(ctx context.Context, groupID, domain string, kind model.DomainOverrideKind) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_domain_overrides (group_id, domain, kind, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, domain, kind) DO NOTHING
	`, groupID, domain, kind, time.Now().UTC())
	return err
}

func (r *domainOverrideRepo) Remove(ctx context.Context, groupID, domain string, kind model.DomainOverrideKind) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM group_domain_overrides WHERE group_id = $1 AND domain = $2 AND kind = $3
	`, groupID, domain, kind)
	return err
}

// Group Analysis Repository (persisted analysis snapshots)

type GroupAnalysisRepository interface {
	Get(ctx context.Context, groupID string) (*model.GroupAnalysisRecord, error)
	Upsert(ctx context.Context, rec model.GroupAnalysisRecord) error
}

type groupAnalysisRepo struct {
	db *sqlx.DB
}

func NewGroupAnalysisRepository(db *sqlx.DB) GroupAnalysisRepository {
	return &groupAnalysisRepo{db: db}
}

func (r *groupAnalysisRepo) Get(ctx context.Context, groupID string) (*model.GroupAnalysisRecord, error) {
	var rec model.GroupAnalysisRecord
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM group_analyses WHERE group_id = $1`, groupID)
	return HandleNotFound(&rec, err)
}

func (r *groupAnalysisRepo) Upsert(ctx context.Context, rec model.GroupAnalysisRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_analyses (group_id, domains, potential_users, contacts_not_in_lms, contacts_unknown, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (group_id) DO UPDATE SET
			domains = excluded.domains,
			potential_users = excluded.potential_users,
			contacts_not_in_lms = excluded.contacts_not_in_lms,
			contacts_unknown = excluded.contacts_unknown,
			analyzed_at = excluded.analyzed_at
	`, rec.GroupID, rec.Domains, rec.PotentialUsers, rec.ContactsNotInLms, rec.ContactsUnknown, rec.AnalyzedAt)
	return err
}
