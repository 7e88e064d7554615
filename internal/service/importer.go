package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/model"
	"github.com/partnerops/portal-sync/internal/repository"
)

// PartnerImport is one CRM account row as exported from the CRM.
type PartnerImport struct {
	AccountName   string `json:"accountName"`
	PartnerTier   string `json:"partnerTier"`
	AccountRegion string `json:"accountRegion"`
	AccountOwner  string `json:"accountOwner"`
	SalesforceID  string `json:"salesforceId"`
}

// ContactImport is one CRM contact row. PartnerAccountName links the contact
// to its account by the CRM natural key.
type ContactImport struct {
	Email              string `json:"email"`
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	PartnerAccountName string `json:"partnerAccountName"`
}

// ImportResult tallies one bulk import. Invalid rows are skipped and reported,
// never fatal.
type ImportResult struct {
	Processed int      `json:"processed"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// ImportService loads CRM account and contact exports into the local store.
// Both imports are idempotent upserts keyed on the CRM natural keys, so the
// same file can be re-imported safely.
type ImportService struct {
	partners repository.PartnerRepository
	contacts repository.ContactRepository
}

func NewImportService(partners repository.PartnerRepository, contacts repository.ContactRepository) *ImportService {
	return &ImportService{partners: partners, contacts: contacts}
}

// ImportPartners upserts partner accounts by account name.
func (s *ImportService) ImportPartners(ctx context.Context, rows []PartnerImport) (*ImportResult, error) {
	if len(rows) == 0 {
		return nil, apperrors.MissingRequired("partners")
	}

	result := &ImportResult{Errors: []string{}}
	for i, row := range rows {
		result.Processed++

		name := strings.TrimSpace(row.AccountName)
		if name == "" {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: account name is required", i+1))
			continue
		}

		created, err := s.partners.Upsert(ctx, model.UpsertPartnerParams{
			AccountName:   name,
			PartnerTier:   strings.TrimSpace(row.PartnerTier),
			AccountRegion: strings.TrimSpace(row.AccountRegion),
			AccountOwner:  strings.TrimSpace(row.AccountOwner),
			SalesforceID:  strings.TrimSpace(row.SalesforceID),
		})
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	log.Info().Int("processed", result.Processed).Int("created", result.Created).
		Int("updated", result.Updated).Int("skipped", result.Skipped).Msg("partner import finished")
	return result, nil
}

// ImportContacts upserts CRM contacts by email. A contact naming an unknown
// partner account is skipped; the partner export loads first.
func (s *ImportService) ImportContacts(ctx context.Context, rows []ContactImport) (*ImportResult, error) {
	if len(rows) == 0 {
		return nil, apperrors.MissingRequired("contacts")
	}

	result := &ImportResult{Errors: []string{}}
	for i, row := range rows {
		result.Processed++

		email := strings.ToLower(strings.TrimSpace(row.Email))
		if email == "" || !strings.Contains(email, "@") {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: a valid email is required", i+1))
			continue
		}

		var partnerID *string
		if accountName := strings.TrimSpace(row.PartnerAccountName); accountName != "" {
			partner, err := s.partners.FindByAccountName(ctx, accountName)
			if err != nil {
				return nil, apperrors.Database(err)
			}
			if partner == nil {
				result.Skipped++
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: unknown partner account %q", i+1, accountName))
				continue
			}
			partnerID = &partner.ID
		}

		created, err := s.contacts.Upsert(ctx, model.UpsertContactParams{
			Email:     email,
			FirstName: strings.TrimSpace(row.FirstName),
			LastName:  strings.TrimSpace(row.LastName),
			PartnerID: partnerID,
		})
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	log.Info().Int("processed", result.Processed).Int("created", result.Created).
		Int("updated", result.Updated).Int("skipped", result.Skipped).Msg("contact import finished")
	return result, nil
}
