package model

import (
	"strings"
	"time"
)

type LmsUser struct {
	ID           string        `db:"id" json:"id"`
	Email        string        `db:"email" json:"email"`
	FirstName    string        `db:"first_name" json:"firstName"`
	LastName     string        `db:"last_name" json:"lastName"`
	Status       LmsUserStatus `db:"status" json:"status"`
	LastActiveAt *time.Time    `db:"last_active_at" json:"lastActiveAt,omitempty"`
	ContactID    *string       `db:"contact_id" json:"contactId,omitempty"`
	SyncedAt     time.Time     `db:"synced_at" json:"syncedAt"`
}

// EmailDomain returns the lowercased domain portion of the user's email, or ""
// when the address has no domain.
func (u LmsUser) EmailDomain() string {
	return EmailDomain(u.Email)
}

func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

type LmsGroup struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	UserCount int       `db:"user_count" json:"userCount"`
	PartnerID *string   `db:"partner_id" json:"partnerId,omitempty"`
	SyncedAt  time.Time `db:"synced_at" json:"syncedAt"`
}

type LmsGroupMember struct {
	GroupID          string        `db:"group_id" json:"groupId"`
	UserID           string        `db:"user_id" json:"userId"`
	PendingSource    PendingSource `db:"pending_source" json:"pendingSource"`
	UnconfirmedSyncs int           `db:"unconfirmed_syncs" json:"unconfirmedSyncs"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
}

type LmsCourse struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	NPCUValue       int       `db:"npcu_value" json:"npcuValue"`
	ProductCategory string    `db:"product_category" json:"productCategory"`
	SyncedAt        time.Time `db:"synced_at" json:"syncedAt"`
}

// IsCertification reports whether completing this course earns NPCU.
func (c LmsCourse) IsCertification() bool {
	return c.NPCUValue > 0
}

type LmsEnrollment struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"userId"`
	CourseID    string     `db:"course_id" json:"courseId"`
	Status      string     `db:"status" json:"status"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expiresAt,omitempty"`
	Score       *float64   `db:"score" json:"score,omitempty"`
	SyncedAt    time.Time  `db:"synced_at" json:"syncedAt"`
}

type GroupDomainOverride struct {
	GroupID   string             `db:"group_id" json:"groupId"`
	Domain    string             `db:"domain" json:"domain"`
	Kind      DomainOverrideKind `db:"kind" json:"kind"`
	CreatedAt time.Time          `db:"created_at" json:"createdAt"`
}

type GroupAnalysisRecord struct {
	GroupID          string    `db:"group_id" json:"groupId"`
	Domains          string    `db:"domains" json:"domains"`
	PotentialUsers   int       `db:"potential_users" json:"potentialUsers"`
	ContactsNotInLms int       `db:"contacts_not_in_lms" json:"contactsNotInLms"`
	ContactsUnknown  int       `db:"contacts_unknown" json:"contactsUnknown"`
	AnalyzedAt       time.Time `db:"analyzed_at" json:"analyzedAt"`
}
