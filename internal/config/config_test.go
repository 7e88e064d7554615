package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                    8080,
		DatabaseURL:             "postgres://localhost/portal",
		LMSBaseURL:              "https://lms.example.com",
		LMSAPIKey:               "key",
		LMSTimeoutSeconds:       10,
		LMSPageSize:             100,
		MatchThreshold:          0.4,
		MatchMaxCandidates:      5,
		GroupNamePrefix:         "ptr_",
		SyncBatchSize:           5,
		SyncBatchDelayMs:        200,
		SyncPendingMaxCycles:    5,
		AnalysisCacheTTLMinutes: 60,
		CertValidityMonths:      24,
		GTMCertValidityMonths:   12,
	}
}

func TestValidate(t *testing.T) {
	t.Run("accepts the defaults", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("rejects a threshold outside [0,1]", func(t *testing.T) {
		cfg := validConfig()
		cfg.MatchThreshold = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects a zero batch size", func(t *testing.T) {
		cfg := validConfig()
		cfg.SyncBatchSize = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects an oversized page size", func(t *testing.T) {
		cfg := validConfig()
		cfg.LMSPageSize = 1000
		assert.Error(t, cfg.Validate())
	})
}

func TestDurationHelpers(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "10s", cfg.LMSTimeout().String())
	assert.Equal(t, "200ms", cfg.SyncBatchDelay().String())
	assert.Equal(t, "1h0m0s", cfg.AnalysisCacheTTL().String())
}
