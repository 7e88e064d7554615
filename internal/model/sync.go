package model

import (
	"encoding/json"
	"time"
)

// SyncLog is the append-only audit record of one sync run.
type SyncLog struct {
	ID          string     `db:"id" json:"id"`
	SyncType    SyncType   `db:"sync_type" json:"syncType"`
	SyncMode    SyncMode   `db:"sync_mode" json:"syncMode"`
	Status      SyncStatus `db:"status" json:"status"`
	Processed   int        `db:"processed" json:"processed"`
	Created     int        `db:"created" json:"created"`
	Updated     int        `db:"updated" json:"updated"`
	Failed      int        `db:"failed" json:"failed"`
	Error       string     `db:"error" json:"error,omitempty"`
	StartedAt   time.Time  `db:"started_at" json:"startedAt"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}

// SyncState is the singleton lock row guarding sync runs.
type SyncState struct {
	ID        int        `db:"id" json:"-"`
	Status    SyncStatus `db:"status" json:"status"`
	RunID     string     `db:"run_id" json:"runId,omitempty"`
	StartedAt *time.Time `db:"started_at" json:"startedAt,omitempty"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
}

// SyncSchedule is the singleton scheduled-sync configuration.
type SyncSchedule struct {
	ID            int        `db:"id" json:"-"`
	Enabled       bool       `db:"enabled" json:"enabled"`
	IntervalHours int        `db:"interval_hours" json:"intervalHours"`
	SyncTypes     string     `db:"sync_types" json:"syncTypes"`
	LastRunAt     *time.Time `db:"last_run_at" json:"lastRunAt,omitempty"`
	NextRunAt     *time.Time `db:"next_run_at" json:"nextRunAt,omitempty"`
}

type SyncWatermark struct {
	EntityType string    `db:"entity_type" json:"entityType"`
	SyncedAt   time.Time `db:"synced_at" json:"syncedAt"`
}

// PortalSettings is the singleton settings row. TierRequirements maps a partner
// tier name to its required NPCU.
type PortalSettings struct {
	ID               int       `db:"id" json:"-"`
	TierRequirements string    `db:"tier_requirements" json:"-"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

func (s PortalSettings) TierMap() (map[string]int, error) {
	tiers := make(map[string]int)
	if err := json.Unmarshal([]byte(s.TierRequirements), &tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}
