package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportPartners(t *testing.T) {
	ctx := context.Background()

	t.Run("creates then updates by account name", func(t *testing.T) {
		r := newTestRepos(t)
		svc := NewImportService(r.partners, r.contacts)

		rows := []PartnerImport{
			{AccountName: "Acme Corp", PartnerTier: "Select", AccountRegion: "EMEA"},
			{AccountName: "Beta LLC", PartnerTier: "Registered"},
		}

		first, err := svc.ImportPartners(ctx, rows)
		require.NoError(t, err)
		assert.Equal(t, 2, first.Created)
		assert.Equal(t, 0, first.Updated)

		rows[0].PartnerTier = "Premier"
		second, err := svc.ImportPartners(ctx, rows)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Created)
		assert.Equal(t, 2, second.Updated)

		p, err := r.partners.FindByAccountName(ctx, "Acme Corp")
		require.NoError(t, err)
		assert.Equal(t, "Premier", p.PartnerTier)
	})

	t.Run("skips rows without an account name", func(t *testing.T) {
		r := newTestRepos(t)
		svc := NewImportService(r.partners, r.contacts)

		result, err := svc.ImportPartners(ctx, []PartnerImport{
			{AccountName: "  "},
			{AccountName: "Acme Corp"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		assert.Equal(t, 1, result.Skipped)
		assert.Len(t, result.Errors, 1)
	})
}

func TestImportContacts(t *testing.T) {
	ctx := context.Background()

	t.Run("links contacts to their partner by account name", func(t *testing.T) {
		r := newTestRepos(t)
		partnerID := seedPartner(t, r, "Acme Corp", "Select")
		svc := NewImportService(r.partners, r.contacts)

		result, err := svc.ImportContacts(ctx, []ContactImport{
			{Email: "Jane@Acme.com", FirstName: "Jane", PartnerAccountName: "Acme Corp"},
			{Email: "orphan@other.com"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Created)

		contact, err := r.contacts.FindByEmail(ctx, "jane@acme.com")
		require.NoError(t, err)
		require.NotNil(t, contact)
		require.NotNil(t, contact.PartnerID)
		assert.Equal(t, partnerID, *contact.PartnerID)

		orphan, err := r.contacts.FindByEmail(ctx, "orphan@other.com")
		require.NoError(t, err)
		assert.Nil(t, orphan.PartnerID)
	})

	t.Run("skips contacts naming an unknown partner", func(t *testing.T) {
		r := newTestRepos(t)
		svc := NewImportService(r.partners, r.contacts)

		result, err := svc.ImportContacts(ctx, []ContactImport{
			{Email: "jane@acme.com", PartnerAccountName: "Nobody Inc"},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Created)
		assert.Equal(t, 1, result.Skipped)
	})

	t.Run("skips invalid emails", func(t *testing.T) {
		r := newTestRepos(t)
		svc := NewImportService(r.partners, r.contacts)

		result, err := svc.ImportContacts(ctx, []ContactImport{
			{Email: "not-an-email"},
			{Email: ""},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Created)
		assert.Equal(t, 2, result.Skipped)
	})
}
