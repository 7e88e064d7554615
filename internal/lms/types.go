// Package lms is the adapter layer for the LMS API. Upstream responses are
// duck-typed (the same concept appears under several field names depending on
// endpoint version); every response is translated into one canonical struct
// here, failing loudly on unrecognized shapes instead of falling back silently.
package lms

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for mutation outcomes.
var (
	// ErrAlreadyMember is returned by AddGroupMember when the LMS reports the
	// user is already in the group.
	ErrAlreadyMember = errors.New("user is already a member of the group")
	// ErrNotFound is returned by lookups when the LMS has no matching entity.
	ErrNotFound = errors.New("not found in LMS")
)

type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	Status       string
	LastActiveAt *time.Time
}

type Group struct {
	ID        string
	Name      string
	UserCount int
}

type Course struct {
	ID              string
	Name            string
	NPCUValue       int
	ProductCategory string
}

type Enrollment struct {
	ID          string
	UserID      string
	CourseID    string
	Status      string
	CompletedAt *time.Time
	ExpiresAt   *time.Time
	Score       *float64
}

type Membership struct {
	GroupID string
	UserID  string
}

// ListOptions controls pagination and incremental filtering of list calls.
// A nil Since fetches everything; a non-nil Since asks the server for records
// modified after that instant, falling back to an unfiltered fetch when the
// server rejects the filter.
type ListOptions struct {
	Page    int
	PerPage int
	Since   *time.Time
}

// Page wraps one page of parsed records. Malformed counts records on the page
// that failed canonical parsing and were skipped.
type Page[T any] struct {
	Items     int
	Malformed int
	HasMore   bool
	Records   []T
}

// Client is the LMS API surface the sync and mutation services depend on.
type Client interface {
	ListUsers(ctx context.Context, opts ListOptions) (*Page[User], error)
	ListGroups(ctx context.Context, opts ListOptions) (*Page[Group], error)
	ListCourses(ctx context.Context, opts ListOptions) (*Page[Course], error)
	ListEnrollments(ctx context.Context, opts ListOptions) (*Page[Enrollment], error)
	ListGroupMembers(ctx context.Context, groupID string, opts ListOptions) (*Page[Membership], error)

	// FindUserByEmail returns ErrNotFound when the LMS has no account for the
	// address. Lookups return zero or one user.
	FindUserByEmail(ctx context.Context, email string) (*User, error)

	AddGroupMember(ctx context.Context, groupID, userID string) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error
	CreateGroup(ctx context.Context, name string) (*Group, error)
	RenameGroup(ctx context.Context, groupID, name string) error
	DeleteGroup(ctx context.Context, groupID string) error
}
