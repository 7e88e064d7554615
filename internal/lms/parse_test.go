package lms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUser(t *testing.T) {
	t.Run("parses the canonical field names", func(t *testing.T) {
		u, err := parseUser(map[string]any{
			"id":             "u-1",
			"email":          "Jane@Acme.COM",
			"first_name":     "Jane",
			"last_name":      "Doe",
			"status":         "Active",
			"last_active_at": "2026-01-15T10:00:00Z",
		})

		require.NoError(t, err)
		assert.Equal(t, "u-1", u.ID)
		assert.Equal(t, "jane@acme.com", u.Email)
		assert.Equal(t, "active", u.Status)
		require.NotNil(t, u.LastActiveAt)
		assert.Equal(t, 2026, u.LastActiveAt.Year())
	})

	t.Run("accepts alternate field names", func(t *testing.T) {
		u, err := parseUser(map[string]any{
			"uuid":            "u-2",
			"email_address":   "bob@acme.com",
			"given_name":      "Bob",
			"family_name":     "Roe",
			"state":           "suspended",
			"last_sign_in_at": "2026-02-01",
		})

		require.NoError(t, err)
		assert.Equal(t, "u-2", u.ID)
		assert.Equal(t, "bob@acme.com", u.Email)
		assert.Equal(t, "Bob", u.FirstName)
		assert.Equal(t, "Roe", u.LastName)
		assert.Equal(t, "suspended", u.Status)
		assert.NotNil(t, u.LastActiveAt)
	})

	t.Run("defaults status to active", func(t *testing.T) {
		u, err := parseUser(map[string]any{"id": "u-3", "email": "x@y.com"})
		require.NoError(t, err)
		assert.Equal(t, "active", u.Status)
	})

	t.Run("fails when id and email are both missing", func(t *testing.T) {
		_, err := parseUser(map[string]any{"first_name": "Ghost"})
		assert.Error(t, err)
	})

	t.Run("coerces a numeric id", func(t *testing.T) {
		u, err := parseUser(map[string]any{"id": float64(42), "email": "n@y.com"})
		require.NoError(t, err)
		assert.Equal(t, "42", u.ID)
	})
}

func TestParseGroup(t *testing.T) {
	t.Run("reads name from title and count from members_count", func(t *testing.T) {
		g, err := parseGroup(map[string]any{
			"id":            "g-1",
			"title":         "ptr_Acme Corp",
			"members_count": float64(12),
		})

		require.NoError(t, err)
		assert.Equal(t, "ptr_Acme Corp", g.Name)
		assert.Equal(t, 12, g.UserCount)
	})

	t.Run("fails without a name", func(t *testing.T) {
		_, err := parseGroup(map[string]any{"id": "g-2"})
		assert.Error(t, err)
	})
}

func TestParseCourse(t *testing.T) {
	t.Run("reads npcu from alternate keys", func(t *testing.T) {
		c, err := parseCourse(map[string]any{
			"id":       "c-1",
			"name":     "Platform Cert",
			"npcu":     float64(5),
			"category": "Platform",
		})

		require.NoError(t, err)
		assert.Equal(t, 5, c.NPCUValue)
		assert.Equal(t, "Platform", c.ProductCategory)
	})

	t.Run("missing npcu means not a certification", func(t *testing.T) {
		c, err := parseCourse(map[string]any{"id": "c-2", "name": "Onboarding"})
		require.NoError(t, err)
		assert.Equal(t, 0, c.NPCUValue)
	})
}

func TestParseEnrollment(t *testing.T) {
	t.Run("parses completion and score", func(t *testing.T) {
		e, err := parseEnrollment(map[string]any{
			"id":              "e-1",
			"learner_id":      "u-1",
			"content_id":      "c-1",
			"status":          "Completed",
			"completion_date": "2026-03-01T00:00:00Z",
			"grade":           "92.5",
		})

		require.NoError(t, err)
		assert.Equal(t, "u-1", e.UserID)
		assert.Equal(t, "c-1", e.CourseID)
		assert.Equal(t, "completed", e.Status)
		require.NotNil(t, e.CompletedAt)
		require.NotNil(t, e.Score)
		assert.Equal(t, 92.5, *e.Score)
	})

	t.Run("fails on a dangling record", func(t *testing.T) {
		_, err := parseEnrollment(map[string]any{"id": "e-2", "user_id": "u-1"})
		assert.Error(t, err)
	})
}

func TestParseMembership(t *testing.T) {
	t.Run("falls back to the requested group id", func(t *testing.T) {
		m, err := parseMembership(map[string]any{"user_id": "u-1"}, "g-9")
		require.NoError(t, err)
		assert.Equal(t, "g-9", m.GroupID)
		assert.Equal(t, "u-1", m.UserID)
	})

	t.Run("treats a bare user object as a membership entry", func(t *testing.T) {
		m, err := parseMembership(map[string]any{"id": "u-7", "email": "x@y.com"}, "g-9")
		require.NoError(t, err)
		assert.Equal(t, "u-7", m.UserID)
	})

	t.Run("fails without any user reference", func(t *testing.T) {
		_, err := parseMembership(map[string]any{"role": "admin"}, "g-9")
		assert.Error(t, err)
	})
}

func TestTimeField(t *testing.T) {
	t.Run("tries each supported layout", func(t *testing.T) {
		for _, s := range []string{"2026-01-02T10:11:12Z", "2026-01-02T10:11:12", "2026-01-02"} {
			got := timeField(map[string]any{"completed_at": s}, completedKeys)
			require.NotNil(t, got, s)
			assert.Equal(t, time.January, got.Month())
		}
	})

	t.Run("ignores unparseable values", func(t *testing.T) {
		assert.Nil(t, timeField(map[string]any{"completed_at": "yesterday"}, completedKeys))
	})
}
