package domains

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsExcluded(t *testing.T) {
	t.Run("public providers are excluded", func(t *testing.T) {
		for _, d := range []string{"gmail.com", "outlook.com", "hotmail.com", "yahoo.com", "icloud.com", "aol.com", "protonmail.com", "mailinator.com"} {
			assert.True(t, IsExcluded(d), "%s should be excluded", d)
		}
	})

	t.Run("lookup is case-insensitive", func(t *testing.T) {
		assert.True(t, IsExcluded("Gmail.com"))
		assert.True(t, IsExcluded("GMAIL.COM"))
		assert.True(t, IsExcluded("  gmail.com  "))
	})

	t.Run("organizational domains are not excluded", func(t *testing.T) {
		assert.False(t, IsExcluded("acmecorp.com"))
		assert.False(t, IsExcluded("globex.io"))
	})

	t.Run("empty domain is always excluded", func(t *testing.T) {
		assert.True(t, IsExcluded(""))
		assert.True(t, IsExcluded("   "))
	})

	t.Run("subdomains of providers are not matched", func(t *testing.T) {
		// exact match only; mail.gmail.com is not in the list
		assert.False(t, IsExcluded("mail.gmail.com"))
	})
}

func TestWithExtra(t *testing.T) {
	c := WithExtra("Contractors.example", "vendor.example")

	assert.True(t, c.IsExcluded("contractors.example"))
	assert.True(t, c.IsExcluded("vendor.example"))
	assert.True(t, c.IsExcluded("gmail.com"), "built-in list still applies")
	assert.False(t, c.IsExcluded("acmecorp.com"))
}
