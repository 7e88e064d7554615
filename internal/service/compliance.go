package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/repository"
)

// ComplianceOptions carries the certification validity windows from
// configuration, in months.
type ComplianceOptions struct {
	CertValidityMonths    int
	GTMCertValidityMonths int
}

// CertDetail is one counted completion in a partner's NPCU total.
type CertDetail struct {
	EnrollmentID    string    `json:"enrollmentId"`
	UserID          string    `json:"userId"`
	CourseID        string    `json:"courseId"`
	NPCUValue       int       `json:"npcuValue"`
	ProductCategory string    `json:"productCategory"`
	CompletedAt     time.Time `json:"completedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// PartnerCompliance is one partner's NPCU standing against its tier.
// Unranked partners (no tier, or a tier absent from the requirements map) get
// a zero requirement and are flagged rather than failed.
type PartnerCompliance struct {
	PartnerID    string       `json:"partnerId"`
	AccountName  string       `json:"accountName"`
	PartnerTier  string       `json:"partnerTier"`
	CurrentNPCU  int          `json:"currentNpcu"`
	RequiredNPCU int          `json:"requiredNpcu"`
	Gap          int          `json:"gap"`
	Compliant    bool         `json:"compliant"`
	Unranked     bool         `json:"unranked"`
	ValidCerts   []CertDetail `json:"validCerts"`
	ExpiredCerts int          `json:"expiredCerts"`
}

// ComplianceReport is the portal-wide compliance rollup.
type ComplianceReport struct {
	GeneratedAt time.Time           `json:"generatedAt"`
	Partners    []PartnerCompliance `json:"partners"`
	Compliant   int                 `json:"compliant"`
	AtRisk      int                 `json:"atRisk"`
	Unranked    int                 `json:"unranked"`
}

// ComplianceService computes partner NPCU totals from synced enrollment data
// and evaluates them against the tier requirements in portal settings.
type ComplianceService struct {
	partners    repository.PartnerRepository
	enrollments repository.EnrollmentRepository
	settings    repository.PortalSettingsRepository
	opts        ComplianceOptions
}

func NewComplianceService(
	partners repository.PartnerRepository,
	enrollments repository.EnrollmentRepository,
	settings repository.PortalSettingsRepository,
	opts ComplianceOptions,
) *ComplianceService {
	return &ComplianceService{
		partners:    partners,
		enrollments: enrollments,
		settings:    settings,
		opts:        opts,
	}
}

// PartnerNPCU computes one partner's compliance as of now.
func (s *ComplianceService) PartnerNPCU(ctx context.Context, partnerID string) (*PartnerCompliance, error) {
	partner, err := s.partners.FindByID(ctx, partnerID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if partner == nil {
		return nil, apperrors.NotFound("partner")
	}

	tiers, err := s.tierRequirements(ctx)
	if err != nil {
		return nil, err
	}

	return s.computePartner(ctx, partner.ID, partner.AccountName, partner.PartnerTier, tiers, time.Now().UTC())
}

// Report computes compliance for every partner. Per-partner database errors
// abort the report; partial rollups would misstate portal-wide numbers.
func (s *ComplianceService) Report(ctx context.Context) (*ComplianceReport, error) {
	partners, err := s.partners.List(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	tiers, err := s.tierRequirements(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	report := &ComplianceReport{
		GeneratedAt: now,
		Partners:    make([]PartnerCompliance, 0, len(partners)),
	}
	for _, p := range partners {
		pc, err := s.computePartner(ctx, p.ID, p.AccountName, p.PartnerTier, tiers, now)
		if err != nil {
			return nil, err
		}
		// The report omits per-cert detail to keep the payload bounded.
		pc.ValidCerts = nil
		report.Partners = append(report.Partners, *pc)

		switch {
		case pc.Unranked:
			report.Unranked++
		case pc.Compliant:
			report.Compliant++
		default:
			report.AtRisk++
		}
	}

	sort.Slice(report.Partners, func(i, j int) bool {
		if report.Partners[i].Gap != report.Partners[j].Gap {
			return report.Partners[i].Gap > report.Partners[j].Gap
		}
		return report.Partners[i].AccountName < report.Partners[j].AccountName
	})
	return report, nil
}

func (s *ComplianceService) computePartner(ctx context.Context, partnerID, accountName, tier string, tiers map[string]int, now time.Time) (*PartnerCompliance, error) {
	certs, err := s.enrollments.CompletedCertsByPartner(ctx, partnerID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	pc := &PartnerCompliance{
		PartnerID:   partnerID,
		AccountName: accountName,
		PartnerTier: tier,
		ValidCerts:  []CertDetail{},
	}

	// Every completion counts toward the total while valid, including repeat
	// completions of the same course.
	for _, cert := range certs {
		expiry := s.expiry(cert)
		if !expiry.After(now) {
			pc.ExpiredCerts++
			continue
		}
		pc.CurrentNPCU += cert.NPCUValue
		pc.ValidCerts = append(pc.ValidCerts, CertDetail{
			EnrollmentID:    cert.EnrollmentID,
			UserID:          cert.UserID,
			CourseID:        cert.CourseID,
			NPCUValue:       cert.NPCUValue,
			ProductCategory: cert.ProductCategory,
			CompletedAt:     cert.CompletedAt,
			ExpiresAt:       expiry,
		})
	}

	required, ranked := tiers[tier]
	if tier == "" || !ranked {
		pc.Unranked = true
	}
	pc.RequiredNPCU = required
	if gap := required - pc.CurrentNPCU; gap > 0 {
		pc.Gap = gap
	}
	pc.Compliant = !pc.Unranked && pc.Gap == 0
	return pc, nil
}

// expiry resolves when a completion stops counting. An explicit LMS expiry
// always wins; otherwise the completion date plus the category's validity
// window applies, with GTM certifications on the shorter window.
func (s *ComplianceService) expiry(cert repository.CertCompletion) time.Time {
	if cert.ExpiresAt != nil {
		return *cert.ExpiresAt
	}

	months := s.opts.CertValidityMonths
	if strings.EqualFold(cert.ProductCategory, "GTM") {
		months = s.opts.GTMCertValidityMonths
	}
	return cert.CompletedAt.AddDate(0, months, 0)
}

func (s *ComplianceService) tierRequirements(ctx context.Context) (map[string]int, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if settings == nil {
		return nil, apperrors.Internal("portal settings row is missing")
	}

	tiers, err := settings.TierMap()
	if err != nil {
		log.Error().Err(err).Msg("tier requirements setting is corrupt")
		return nil, apperrors.Internal("tier requirements setting is corrupt").WithCause(err)
	}
	return tiers, nil
}

// UpdateTierRequirements replaces the tier → required NPCU map.
func (s *ComplianceService) UpdateTierRequirements(ctx context.Context, tiers map[string]int) error {
	if len(tiers) == 0 {
		return apperrors.MissingRequired("tierRequirements")
	}
	for tier, required := range tiers {
		if strings.TrimSpace(tier) == "" {
			return apperrors.InvalidInput("tierRequirements", "tier name cannot be empty")
		}
		if required < 0 {
			return apperrors.InvalidInput("tierRequirements", "required NPCU cannot be negative")
		}
	}

	encoded, err := json.Marshal(tiers)
	if err != nil {
		return apperrors.Internal("failed to encode tier requirements").WithCause(err)
	}
	if err := s.settings.UpdateTierRequirements(ctx, string(encoded)); err != nil {
		return apperrors.Database(err)
	}
	return nil
}
