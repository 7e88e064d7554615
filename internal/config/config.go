package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	LMSBaseURL        string `env:"LMS_BASE_URL,required"`
	LMSAPIKey         string `env:"LMS_API_KEY,required"`
	LMSTimeoutSeconds int    `env:"LMS_TIMEOUT_SECONDS" envDefault:"10"`
	LMSPageSize       int    `env:"LMS_PAGE_SIZE" envDefault:"100"`

	// Group/partner matching tunables. The threshold and candidate cap are
	// product decisions rather than engine constants, so they live here.
	MatchThreshold     float64 `env:"MATCH_THRESHOLD" envDefault:"0.4"`
	MatchMaxCandidates int     `env:"MATCH_MAX_CANDIDATES" envDefault:"5"`
	GroupNamePrefix    string  `env:"GROUP_NAME_PREFIX" envDefault:"ptr_"`

	SyncBatchSize        int `env:"SYNC_BATCH_SIZE" envDefault:"5"`
	SyncBatchDelayMs     int `env:"SYNC_BATCH_DELAY_MS" envDefault:"200"`
	SyncPendingMaxCycles int `env:"SYNC_PENDING_MAX_CYCLES" envDefault:"5"`

	AllPartnersGroupID string `env:"ALL_PARTNERS_GROUP_ID"`

	AnalysisCacheTTLMinutes int `env:"ANALYSIS_CACHE_TTL_MINUTES" envDefault:"60"`

	CertValidityMonths    int `env:"CERT_VALIDITY_MONTHS" envDefault:"24"`
	GTMCertValidityMonths int `env:"GTM_CERT_VALIDITY_MONTHS" envDefault:"12"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) LMSTimeout() time.Duration {
	return time.Duration(c.LMSTimeoutSeconds) * time.Second
}

func (c *Config) SyncBatchDelay() time.Duration {
	return time.Duration(c.SyncBatchDelayMs) * time.Millisecond
}

func (c *Config) AnalysisCacheTTL() time.Duration {
	return time.Duration(c.AnalysisCacheTTLMinutes) * time.Minute
}

func (c *Config) Validate() error {
	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be within [0,1], got %v", c.MatchThreshold)
	}
	if c.MatchMaxCandidates < 1 {
		return fmt.Errorf("MATCH_MAX_CANDIDATES must be at least 1, got %d", c.MatchMaxCandidates)
	}
	if c.SyncBatchSize < 1 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be at least 1, got %d", c.SyncBatchSize)
	}
	if c.SyncPendingMaxCycles < 1 {
		return fmt.Errorf("SYNC_PENDING_MAX_CYCLES must be at least 1, got %d", c.SyncPendingMaxCycles)
	}
	if c.LMSPageSize < 1 || c.LMSPageSize > 500 {
		return fmt.Errorf("LMS_PAGE_SIZE must be within [1,500], got %d", c.LMSPageSize)
	}
	if c.CertValidityMonths < 1 || c.GTMCertValidityMonths < 1 {
		return fmt.Errorf("certification validity windows must be at least one month")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
