package model

// SyncType identifies which LMS entity a sync run covers. A full run iterates
// all entity types in dependency order.
type SyncType string

const (
	SyncTypeUsers       SyncType = "users"
	SyncTypeGroups      SyncType = "groups"
	SyncTypeMemberships SyncType = "memberships"
	SyncTypeCourses     SyncType = "courses"
	SyncTypeEnrollments SyncType = "enrollments"
	SyncTypeFull        SyncType = "full"
)

type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "idle"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// PendingSource tags a membership row with where it came from. A "local" row is
// an optimistic write not yet confirmed by the LMS API; the next membership
// sync either promotes it to "api" or leaves it pending.
type PendingSource string

const (
	PendingSourceAPI   PendingSource = "api"
	PendingSourceLocal PendingSource = "local"
)

type DomainOverrideKind string

const (
	DomainOverrideBlocked DomainOverrideKind = "blocked"
	DomainOverrideCustom  DomainOverrideKind = "custom"
)

type LmsUserStatus string

const (
	LmsUserActive      LmsUserStatus = "active"
	LmsUserDeactivated LmsUserStatus = "deactivated"
)
