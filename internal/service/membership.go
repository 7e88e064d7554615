package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/partnerops/portal-sync/internal/audit"
	"github.com/partnerops/portal-sync/internal/cache"
	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/lms"
	"github.com/partnerops/portal-sync/internal/model"
	"github.com/partnerops/portal-sync/internal/repository"
)

// MembershipOptions carries the mutation tunables from configuration.
type MembershipOptions struct {
	// PaceDelay is inserted between consecutive LMS mutation calls.
	PaceDelay time.Duration
	// AllPartnersGroupID names the umbrella group used when a caller requests
	// the companion add. Requests against an empty value fail per user.
	AllPartnersGroupID string
}

type AddFailure struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// GroupAddResult reports each requested user in exactly one bucket.
// AlreadyMembers is not an error: the desired state already held.
type GroupAddResult struct {
	Added          []string     `json:"added"`
	AlreadyMembers []string     `json:"alreadyMembers"`
	Failed         []AddFailure `json:"failed"`
}

func newGroupAddResult() *GroupAddResult {
	return &GroupAddResult{Added: []string{}, AlreadyMembers: []string{}, Failed: []AddFailure{}}
}

// AddMembersResult carries one bucket set for the target group and, when the
// caller asked for the companion add, a second set for the All Partners group.
type AddMembersResult struct {
	PrimaryGroup     *GroupAddResult `json:"primaryGroup"`
	AllPartnersGroup *GroupAddResult `json:"allPartnersGroup,omitempty"`
}

// MembershipService performs group mutations against the LMS and mirrors each
// confirmed outcome into the local store as an optimistic pending row. The next
// membership sync promotes or expires those rows.
type MembershipService struct {
	client  lms.Client
	groups  repository.LmsGroupRepository
	members repository.GroupMemberRepository
	users   repository.LmsUserRepository
	cache   *cache.Cache
	opts    MembershipOptions
}

func NewMembershipService(
	client lms.Client,
	groups repository.LmsGroupRepository,
	members repository.GroupMemberRepository,
	users repository.LmsUserRepository,
	analysisCache *cache.Cache,
	opts MembershipOptions,
) *MembershipService {
	return &MembershipService{
		client:  client,
		groups:  groups,
		members: members,
		users:   users,
		cache:   analysisCache,
		opts:    opts,
	}
}

// AddUsersToGroup adds each user to the group via the LMS, one call at a time
// with pacing between calls. Per-user failures never abort the batch. When
// alsoAddToAllPartners is set, every user the target group now holds is also
// added to the All Partners umbrella group, with its own outcome bucket: a
// companion failure is reported, never swallowed.
func (s *MembershipService) AddUsersToGroup(ctx context.Context, groupID string, userIDs []string, alsoAddToAllPartners bool) (*AddMembersResult, error) {
	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if group == nil {
		return nil, apperrors.NotFound("group")
	}
	if len(userIDs) == 0 {
		return nil, apperrors.MissingRequired("userIds")
	}

	result := &AddMembersResult{PrimaryGroup: newGroupAddResult()}
	primary := result.PrimaryGroup
	var placed []string

	for i, userID := range userIDs {
		if i > 0 {
			s.pace(ctx)
		}

		user, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if user == nil {
			primary.Failed = append(primary.Failed, AddFailure{UserID: userID, Reason: "unknown user"})
			continue
		}

		switch err := s.client.AddGroupMember(ctx, groupID, userID); {
		case err == nil:
			if _, err := s.members.InsertLocal(ctx, groupID, userID); err != nil {
				return nil, apperrors.Database(err)
			}
			primary.Added = append(primary.Added, userID)
			placed = append(placed, userID)
		case errors.Is(err, lms.ErrAlreadyMember):
			// Desired state already holds; make sure the local mirror agrees.
			if _, err := s.members.InsertLocal(ctx, groupID, userID); err != nil {
				return nil, apperrors.Database(err)
			}
			primary.AlreadyMembers = append(primary.AlreadyMembers, userID)
			placed = append(placed, userID)
		default:
			log.Warn().Err(err).Str("groupId", groupID).Str("userId", userID).Msg("LMS add member failed")
			primary.Failed = append(primary.Failed, AddFailure{UserID: userID, Reason: err.Error()})
		}
	}

	if alsoAddToAllPartners {
		companion, err := s.addToAllPartners(ctx, groupID, placed)
		if err != nil {
			return nil, err
		}
		result.AllPartnersGroup = companion
	}

	s.cache.InvalidateAnalysis(ctx, groupID)

	details := map[string]interface{}{
		"requested": len(userIDs),
		"added":     len(primary.Added),
		"existing":  len(primary.AlreadyMembers),
		"failed":    len(primary.Failed),
	}
	if result.AllPartnersGroup != nil {
		details["allPartnersAdded"] = len(result.AllPartnersGroup.Added)
		details["allPartnersFailed"] = len(result.AllPartnersGroup.Failed)
	}
	audit.Log(ctx, audit.Event{Type: audit.EventMembershipAdd, GroupID: groupID, Details: details})
	return result, nil
}

// addToAllPartners repeats the add against the umbrella group for the users
// the primary group now holds, classifying each outcome in its own bucket.
func (s *MembershipService) addToAllPartners(ctx context.Context, groupID string, userIDs []string) (*GroupAddResult, error) {
	out := newGroupAddResult()
	umbrella := s.opts.AllPartnersGroupID
	if umbrella == "" {
		for _, userID := range userIDs {
			out.Failed = append(out.Failed, AddFailure{UserID: userID, Reason: "no All Partners group configured"})
		}
		return out, nil
	}
	if umbrella == groupID {
		// The request already targeted the umbrella group.
		out.AlreadyMembers = append(out.AlreadyMembers, userIDs...)
		return out, nil
	}

	for _, userID := range userIDs {
		s.pace(ctx)
		switch err := s.client.AddGroupMember(ctx, umbrella, userID); {
		case err == nil:
			if _, err := s.members.InsertLocal(ctx, umbrella, userID); err != nil {
				return nil, apperrors.Database(err)
			}
			out.Added = append(out.Added, userID)
		case errors.Is(err, lms.ErrAlreadyMember):
			if _, err := s.members.InsertLocal(ctx, umbrella, userID); err != nil {
				return nil, apperrors.Database(err)
			}
			out.AlreadyMembers = append(out.AlreadyMembers, userID)
		default:
			log.Warn().Err(err).Str("userId", userID).Msg("failed to add user to All Partners group")
			out.Failed = append(out.Failed, AddFailure{UserID: userID, Reason: err.Error()})
		}
	}

	if len(out.Added) > 0 {
		s.cache.InvalidateAnalysis(ctx, umbrella)
	}
	return out, nil
}

// RemoveUserFromGroup removes the membership upstream and locally. A user the
// LMS no longer knows about is treated as already removed.
func (s *MembershipService) RemoveUserFromGroup(ctx context.Context, groupID, userID string) error {
	err := s.client.RemoveGroupMember(ctx, groupID, userID)
	if err != nil && !errors.Is(err, lms.ErrNotFound) {
		return apperrors.External("lms", err)
	}
	if err := s.members.Delete(ctx, groupID, userID); err != nil {
		return apperrors.Database(err)
	}
	s.cache.InvalidateAnalysis(ctx, groupID)
	return nil
}

// CreateGroup creates the group upstream and mirrors it locally.
func (s *MembershipService) CreateGroup(ctx context.Context, name string) (*model.LmsGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.MissingRequired("name")
	}

	created, err := s.client.CreateGroup(ctx, name)
	if err != nil {
		return nil, apperrors.External("lms", err)
	}

	now := time.Now().UTC()
	if _, err := s.groups.Upsert(ctx, repository.UpsertLmsGroupParams{
		ID:        created.ID,
		Name:      created.Name,
		UserCount: created.UserCount,
		SyncedAt:  now,
	}); err != nil {
		return nil, apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{Type: audit.EventGroupCreate, GroupID: created.ID, Details: map[string]interface{}{"name": created.Name}})
	return s.groups.FindByID(ctx, created.ID)
}

// UpdateGroupName renames the group upstream, then locally.
func (s *MembershipService) UpdateGroupName(ctx context.Context, groupID, name string) (*model.LmsGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.MissingRequired("name")
	}

	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if group == nil {
		return nil, apperrors.NotFound("group")
	}

	if err := s.client.RenameGroup(ctx, groupID, name); err != nil {
		return nil, apperrors.External("lms", err)
	}
	if err := s.groups.UpdateName(ctx, groupID, name); err != nil {
		return nil, apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{Type: audit.EventGroupRename, GroupID: groupID, Details: map[string]interface{}{
		"from": group.Name,
		"to":   name,
	}})
	return s.groups.FindByID(ctx, groupID)
}

// DeleteGroup deletes the group upstream and locally. Memberships cascade; the
// partner link on the row disappears with it.
func (s *MembershipService) DeleteGroup(ctx context.Context, groupID string) error {
	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		return apperrors.Database(err)
	}
	if group == nil {
		return apperrors.NotFound("group")
	}

	if err := s.client.DeleteGroup(ctx, groupID); err != nil && !errors.Is(err, lms.ErrNotFound) {
		return apperrors.External("lms", err)
	}
	if err := s.groups.Delete(ctx, groupID); err != nil {
		return apperrors.Database(err)
	}

	s.cache.InvalidateAnalysis(ctx, groupID)
	audit.Log(ctx, audit.Event{Type: audit.EventGroupDelete, GroupID: groupID, Details: map[string]interface{}{"name": group.Name}})
	return nil
}

func (s *MembershipService) pace(ctx context.Context) {
	if s.opts.PaceDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.opts.PaceDelay):
	}
}
