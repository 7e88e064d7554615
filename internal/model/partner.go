package model

import "time"

type Partner struct {
	ID            string    `db:"id" json:"id"`
	AccountName   string    `db:"account_name" json:"accountName"`
	PartnerTier   string    `db:"partner_tier" json:"partnerTier"`
	AccountRegion string    `db:"account_region" json:"accountRegion"`
	AccountOwner  string    `db:"account_owner" json:"accountOwner"`
	SalesforceID  string    `db:"salesforce_id" json:"salesforceId"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

type UpsertPartnerParams struct {
	AccountName   string
	PartnerTier   string
	AccountRegion string
	AccountOwner  string
	SalesforceID  string
}

type Contact struct {
	ID        string    `db:"id" json:"id"`
	PartnerID *string   `db:"partner_id" json:"partnerId,omitempty"`
	Email     string    `db:"email" json:"email"`
	FirstName string    `db:"first_name" json:"firstName"`
	LastName  string    `db:"last_name" json:"lastName"`
	LmsUserID *string   `db:"lms_user_id" json:"lmsUserId,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type UpsertContactParams struct {
	Email     string
	FirstName string
	LastName  string
	PartnerID *string
}
