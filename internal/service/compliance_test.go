package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/model"
	"github.com/partnerops/portal-sync/internal/repository"
)

func newComplianceService(r *testRepos) *ComplianceService {
	return NewComplianceService(r.partners, r.enrollments, r.settings, ComplianceOptions{
		CertValidityMonths:    24,
		GTMCertValidityMonths: 12,
	})
}

func seedCourse(t *testing.T, r *testRepos, id, name string, npcu int, category string) {
	t.Helper()
	_, err := r.courses.Upsert(context.Background(), repository.UpsertCourseParams{
		ID: id, Name: name, NPCUValue: npcu, ProductCategory: category, SyncedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func seedCompletion(t *testing.T, r *testRepos, id, userID, courseID string, completedAt time.Time, expiresAt *time.Time) {
	t.Helper()
	_, err := r.enrollments.Upsert(context.Background(), repository.UpsertEnrollmentParams{
		ID: id, UserID: userID, CourseID: courseID, Status: "completed",
		CompletedAt: &completedAt, ExpiresAt: expiresAt, SyncedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

// linkLearner attaches an LMS user to a partner through a CRM contact.
func linkLearner(t *testing.T, r *testRepos, partnerID, userID, email string) {
	t.Helper()
	ctx := context.Background()
	seedUser(t, r, userID, email)
	_, err := r.contacts.Upsert(ctx, model.UpsertContactParams{Email: email, PartnerID: &partnerID})
	require.NoError(t, err)
	contact, err := r.contacts.FindByEmail(ctx, email)
	require.NoError(t, err)
	require.NoError(t, r.contacts.SetLmsUserID(ctx, contact.ID, userID))
	require.NoError(t, r.users.SetContactID(ctx, userID, contact.ID))
}

func TestPartnerNPCU(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("sums valid certifications and skips expired ones", func(t *testing.T) {
		r := newTestRepos(t)
		partnerID := seedPartner(t, r, "Acme Corp", "Select")
		linkLearner(t, r, partnerID, "u-1", "jane@acme.com")
		seedCourse(t, r, "c-5", "Platform Cert", 5, "Platform")
		seedCourse(t, r, "c-10", "Advanced Cert", 10, "Platform")
		seedCourse(t, r, "c-20", "Legacy Cert", 20, "Platform")

		seedCompletion(t, r, "e-1", "u-1", "c-5", now.AddDate(0, -3, 0), nil)
		seedCompletion(t, r, "e-2", "u-1", "c-10", now.AddDate(0, -6, 0), nil)
		// Completed 30 months ago, outside the 24-month window.
		seedCompletion(t, r, "e-3", "u-1", "c-20", now.AddDate(0, -30, 0), nil)

		svc := newComplianceService(r)
		pc, err := svc.PartnerNPCU(ctx, partnerID)
		require.NoError(t, err)

		assert.Equal(t, 15, pc.CurrentNPCU)
		assert.Equal(t, 1, pc.ExpiredCerts)
		assert.Equal(t, 15, pc.RequiredNPCU) // Select tier
		assert.Equal(t, 0, pc.Gap)
		assert.True(t, pc.Compliant)
		assert.False(t, pc.Unranked)
	})

	t.Run("GTM certifications expire on the shorter window", func(t *testing.T) {
		r := newTestRepos(t)
		partnerID := seedPartner(t, r, "Acme Corp", "Registered")
		linkLearner(t, r, partnerID, "u-1", "jane@acme.com")
		seedCourse(t, r, "c-gtm", "GTM Cert", 5, "GTM")

		// 18 months old: inside the default 24-month window but past GTM's 12.
		seedCompletion(t, r, "e-1", "u-1", "c-gtm", now.AddDate(0, -18, 0), nil)

		svc := newComplianceService(r)
		pc, err := svc.PartnerNPCU(ctx, partnerID)
		require.NoError(t, err)
		assert.Equal(t, 0, pc.CurrentNPCU)
		assert.Equal(t, 1, pc.ExpiredCerts)
		assert.Equal(t, 5, pc.Gap)
	})

	t.Run("an explicit expiry wins over the category window", func(t *testing.T) {
		r := newTestRepos(t)
		partnerID := seedPartner(t, r, "Acme Corp", "Registered")
		linkLearner(t, r, partnerID, "u-1", "jane@acme.com")
		seedCourse(t, r, "c-1", "Platform Cert", 5, "Platform")

		// Completed long ago but the LMS says it is still valid.
		future := now.AddDate(1, 0, 0)
		seedCompletion(t, r, "e-1", "u-1", "c-1", now.AddDate(0, -36, 0), &future)

		svc := newComplianceService(r)
		pc, err := svc.PartnerNPCU(ctx, partnerID)
		require.NoError(t, err)
		assert.Equal(t, 5, pc.CurrentNPCU)
	})

	t.Run("repeat completions of the same course all count", func(t *testing.T) {
		r := newTestRepos(t)
		partnerID := seedPartner(t, r, "Acme Corp", "Registered")
		linkLearner(t, r, partnerID, "u-1", "jane@acme.com")
		seedCourse(t, r, "c-1", "Platform Cert", 5, "Platform")

		seedCompletion(t, r, "e-1", "u-1", "c-1", now.AddDate(0, -10, 0), nil)
		seedCompletion(t, r, "e-2", "u-1", "c-1", now.AddDate(0, -1, 0), nil)

		svc := newComplianceService(r)
		pc, err := svc.PartnerNPCU(ctx, partnerID)
		require.NoError(t, err)
		assert.Equal(t, 10, pc.CurrentNPCU)
	})

	t.Run("a tier outside the requirements map is unranked", func(t *testing.T) {
		r := newTestRepos(t)
		partnerID := seedPartner(t, r, "Acme Corp", "Platinum")

		svc := newComplianceService(r)
		pc, err := svc.PartnerNPCU(ctx, partnerID)
		require.NoError(t, err)
		assert.True(t, pc.Unranked)
		assert.False(t, pc.Compliant)
		assert.Equal(t, 0, pc.RequiredNPCU)
	})

	t.Run("unknown partner is NOT_FOUND", func(t *testing.T) {
		r := newTestRepos(t)
		svc := newComplianceService(r)

		_, err := svc.PartnerNPCU(ctx, "p-missing")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestComplianceReport(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("rolls up every partner", func(t *testing.T) {
		r := newTestRepos(t)
		compliantID := seedPartner(t, r, "Compliant Corp", "Registered")
		seedPartner(t, r, "At Risk Inc", "Premier")
		seedPartner(t, r, "No Tier LLC", "")

		linkLearner(t, r, compliantID, "u-1", "jane@compliant.example")
		seedCourse(t, r, "c-1", "Platform Cert", 5, "Platform")
		seedCompletion(t, r, "e-1", "u-1", "c-1", now.AddDate(0, -1, 0), nil)

		svc := newComplianceService(r)
		report, err := svc.Report(ctx)
		require.NoError(t, err)

		assert.Len(t, report.Partners, 3)
		assert.Equal(t, 1, report.Compliant)
		assert.Equal(t, 1, report.AtRisk)
		assert.Equal(t, 1, report.Unranked)
		// Largest gap first.
		assert.Equal(t, "At Risk Inc", report.Partners[0].AccountName)
	})
}

func TestUpdateTierRequirements(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces the requirements map", func(t *testing.T) {
		r := newTestRepos(t)
		svc := newComplianceService(r)

		require.NoError(t, svc.UpdateTierRequirements(ctx, map[string]int{"Registered": 10, "Premier": 30}))

		settings, err := r.settings.Get(ctx)
		require.NoError(t, err)
		tiers, err := settings.TierMap()
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"Registered": 10, "Premier": 30}, tiers)
	})

	t.Run("rejects negative requirements", func(t *testing.T) {
		r := newTestRepos(t)
		svc := newComplianceService(r)

		err := svc.UpdateTierRequirements(ctx, map[string]int{"Registered": -1})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})
}
