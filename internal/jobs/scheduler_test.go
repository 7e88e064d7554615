package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/partnerops/portal-sync/internal/model"
)

func TestParseSyncTypes(t *testing.T) {
	t.Run("parses a comma-separated list", func(t *testing.T) {
		got := parseSyncTypes("users, groups,memberships")
		assert.Equal(t, []model.SyncType{
			model.SyncTypeUsers, model.SyncTypeGroups, model.SyncTypeMemberships,
		}, got)
	})

	t.Run("ignores unknown entries", func(t *testing.T) {
		got := parseSyncTypes("users,bogus")
		assert.Equal(t, []model.SyncType{model.SyncTypeUsers}, got)
	})

	t.Run("defaults to full", func(t *testing.T) {
		assert.Equal(t, []model.SyncType{model.SyncTypeFull}, parseSyncTypes(""))
		assert.Equal(t, []model.SyncType{model.SyncTypeFull}, parseSyncTypes("bogus"))
	})
}
