package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/partnerops/portal-sync/internal/audit"
	"github.com/partnerops/portal-sync/internal/cache"
	"github.com/partnerops/portal-sync/internal/domains"
	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/lms"
	"github.com/partnerops/portal-sync/internal/match"
	"github.com/partnerops/portal-sync/internal/model"
	"github.com/partnerops/portal-sync/internal/repository"
)

// MatchOptions carries the matching tunables from configuration.
type MatchOptions struct {
	Threshold     float64
	MaxCandidates int
	GroupPrefix   string
}

type MatchCandidate struct {
	Partner    model.Partner `json:"partner"`
	Similarity float64       `json:"similarity"`
}

// MatchResult is the outcome of matching one group against all partners.
// An exact normalized-name match always wins and empties CloseMatches.
type MatchResult struct {
	ExactMatch   *model.Partner   `json:"exactMatch,omitempty"`
	CloseMatches []MatchCandidate `json:"closeMatches"`
}

// GroupAnalysis is a pure read over a group's membership: its organizational
// email domains, LMS users who share those domains but are not members yet,
// and (when a partner is matched) CRM contacts with no LMS account. Contacts
// whose LMS lookup failed are reported separately rather than presumed absent.
type GroupAnalysis struct {
	Domains             []string        `json:"domains"`
	PotentialUsers      []model.LmsUser `json:"potentialUsers"`
	CRMContactsNotInLms []model.Contact `json:"crmContactsNotInLms"`
	CRMContactsUnknown  []model.Contact `json:"crmContactsUnknown"`
	AnalyzedAt          time.Time       `json:"analyzedAt"`
}

type MergeResult struct {
	UsersMoved    int      `json:"usersMoved"`
	GroupsDeleted int      `json:"groupsDeleted"`
	Errors        []string `json:"errors"`
}

// ReconcileService matches LMS groups to CRM partners and derives group
// analyses. All matching is read-only; RecordMatch and RecordAnalysis are the
// explicit writes, composed by the caller.
type ReconcileService struct {
	client     lms.Client
	partners   repository.PartnerRepository
	contacts   repository.ContactRepository
	users      repository.LmsUserRepository
	groups     repository.LmsGroupRepository
	members    repository.GroupMemberRepository
	overrides  repository.DomainOverrideRepository
	analyses   repository.GroupAnalysisRepository
	classifier domains.Classifier
	cache      *cache.Cache
	opts       MatchOptions
}

func NewReconcileService(
	client lms.Client,
	partners repository.PartnerRepository,
	contacts repository.ContactRepository,
	users repository.LmsUserRepository,
	groups repository.LmsGroupRepository,
	members repository.GroupMemberRepository,
	overrides repository.DomainOverrideRepository,
	analyses repository.GroupAnalysisRepository,
	analysisCache *cache.Cache,
	opts MatchOptions,
) *ReconcileService {
	return &ReconcileService{
		client:     client,
		partners:   partners,
		contacts:   contacts,
		users:      users,
		groups:     groups,
		members:    members,
		overrides:  overrides,
		analyses:   analyses,
		classifier: domains.Classifier{},
		cache:      analysisCache,
		opts:       opts,
	}
}

// MatchGroupToPartner scores the group name (with and without the naming
// prefix) against every partner account name. An exact normalized match wins
// outright; otherwise candidates at or above the threshold are returned in
// descending similarity order, ties broken alphabetically, capped at the
// configured maximum.
func (s *ReconcileService) MatchGroupToPartner(ctx context.Context, groupID string) (*MatchResult, error) {
	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if group == nil {
		return nil, apperrors.NotFound("group")
	}

	partners, err := s.partners.List(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	variants := []string{match.Normalize(group.Name)}
	if s.opts.GroupPrefix != "" && strings.HasPrefix(strings.ToLower(group.Name), strings.ToLower(s.opts.GroupPrefix)) {
		variants = append(variants, match.Normalize(group.Name[len(s.opts.GroupPrefix):]))
	}

	// partners.List is alphabetical, so the first exact hit is the tie-break
	// winner on normalized-name collisions.
	for i := range partners {
		normalized := match.Normalize(partners[i].AccountName)
		for _, v := range variants {
			if v != "" && v == normalized {
				log.Debug().Str("groupId", groupID).Str("partnerId", partners[i].ID).Msg("exact partner match")
				return &MatchResult{ExactMatch: &partners[i], CloseMatches: []MatchCandidate{}}, nil
			}
		}
	}

	var candidates []MatchCandidate
	for _, p := range partners {
		score := match.SimilarityWithPrefix(group.Name, p.AccountName, s.opts.GroupPrefix)
		if score >= s.opts.Threshold {
			candidates = append(candidates, MatchCandidate{Partner: p, Similarity: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Partner.AccountName < candidates[j].Partner.AccountName
	})
	if len(candidates) > s.opts.MaxCandidates {
		candidates = candidates[:s.opts.MaxCandidates]
	}
	if candidates == nil {
		candidates = []MatchCandidate{}
	}

	return &MatchResult{CloseMatches: candidates}, nil
}

// RecordMatch persists (or clears, with a nil partnerID) a group's matched
// partner.
func (s *ReconcileService) RecordMatch(ctx context.Context, groupID string, partnerID *string) error {
	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		return apperrors.Database(err)
	}
	if group == nil {
		return apperrors.NotFound("group")
	}

	if partnerID != nil {
		partner, err := s.partners.FindByID(ctx, *partnerID)
		if err != nil {
			return apperrors.Database(err)
		}
		if partner == nil {
			return apperrors.NotFound("partner")
		}
	}

	if err := s.groups.SetPartnerID(ctx, groupID, partnerID); err != nil {
		return apperrors.Database(err)
	}
	// The contact partition of the analysis depends on the partner link.
	s.cache.InvalidateAnalysis(ctx, groupID)

	eventType := audit.EventPartnerMatch
	if partnerID == nil {
		eventType = audit.EventPartnerUnmatch
	}
	audit.Log(ctx, audit.Event{Type: eventType, GroupID: groupID})
	return nil
}

// AnalyzeGroup computes the group's domain and potential-user analysis. Pure
// read; results are memoized in Redis under the configured TTL.
func (s *ReconcileService) AnalyzeGroup(ctx context.Context, groupID string) (*GroupAnalysis, error) {
	var cached GroupAnalysis
	if s.cache.GetAnalysis(ctx, groupID, &cached) {
		return &cached, nil
	}

	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if group == nil {
		return nil, apperrors.NotFound("group")
	}

	memberUsers, err := s.members.MemberUsers(ctx, groupID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	blocked, custom, err := s.groupOverrides(ctx, groupID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	domainSet := make(map[string]struct{})
	memberEmails := make(map[string]struct{}, len(memberUsers))
	for _, u := range memberUsers {
		memberEmails[strings.ToLower(u.Email)] = struct{}{}
		d := u.EmailDomain()
		if d == "" || s.classifier.IsExcluded(d) {
			continue
		}
		if _, isBlocked := blocked[d]; isBlocked {
			continue
		}
		domainSet[d] = struct{}{}
	}
	// Custom domains are operator-added and count even with zero current
	// members, which is how a fresh group gets bootstrapped.
	for d := range custom {
		if _, isBlocked := blocked[d]; !isBlocked {
			domainSet[d] = struct{}{}
		}
	}

	analysis := &GroupAnalysis{
		Domains:             make([]string, 0, len(domainSet)),
		PotentialUsers:      []model.LmsUser{},
		CRMContactsNotInLms: []model.Contact{},
		CRMContactsUnknown:  []model.Contact{},
		AnalyzedAt:          time.Now().UTC(),
	}
	for d := range domainSet {
		analysis.Domains = append(analysis.Domains, d)
	}
	sort.Strings(analysis.Domains)

	seen := make(map[string]struct{})
	for _, d := range analysis.Domains {
		users, err := s.users.ListByDomainNotInGroup(ctx, d, groupID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		for _, u := range users {
			// Defense in depth: an excluded domain never yields potential
			// users, even if it slipped into the domain list.
			if _, isCustom := custom[u.EmailDomain()]; !isCustom && s.classifier.IsExcluded(u.EmailDomain()) {
				continue
			}
			if _, dup := seen[u.ID]; dup {
				continue
			}
			seen[u.ID] = struct{}{}
			analysis.PotentialUsers = append(analysis.PotentialUsers, u)
		}
	}

	if group.PartnerID != nil {
		if err := s.partitionContacts(ctx, *group.PartnerID, memberEmails, analysis); err != nil {
			return nil, err
		}
	}

	s.cache.SetAnalysis(ctx, groupID, analysis)
	return analysis, nil
}

// partitionContacts sorts the partner's CRM contacts into "has no LMS account"
// and "lookup failed". Contacts already in the group or found in the LMS are
// dropped. A failed lookup is reported as unknown, never as absent.
func (s *ReconcileService) partitionContacts(ctx context.Context, partnerID string, memberEmails map[string]struct{}, analysis *GroupAnalysis) error {
	contacts, err := s.contacts.FindByPartnerID(ctx, partnerID)
	if err != nil {
		return apperrors.Database(err)
	}

	for _, contact := range contacts {
		email := strings.ToLower(contact.Email)
		if _, member := memberEmails[email]; member {
			continue
		}

		// Local store first; an account synced down already answers the
		// question without an API round trip.
		local, err := s.users.FindByEmail(ctx, email)
		if err != nil {
			return apperrors.Database(err)
		}
		if local != nil {
			continue
		}

		_, err = s.client.FindUserByEmail(ctx, email)
		switch {
		case err == nil:
			// Exists upstream, just not synced yet.
		case errors.Is(err, lms.ErrNotFound):
			analysis.CRMContactsNotInLms = append(analysis.CRMContactsNotInLms, contact)
		default:
			log.Warn().Err(err).Str("email", email).Msg("LMS lookup failed during analysis")
			analysis.CRMContactsUnknown = append(analysis.CRMContactsUnknown, contact)
		}
	}
	return nil
}

func (s *ReconcileService) groupOverrides(ctx context.Context, groupID string) (blocked, custom map[string]struct{}, err error) {
	overrides, err := s.overrides.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}

	blocked = make(map[string]struct{})
	custom = make(map[string]struct{})
	for _, o := range overrides {
		d := strings.ToLower(o.Domain)
		switch o.Kind {
		case model.DomainOverrideBlocked:
			blocked[d] = struct{}{}
		case model.DomainOverrideCustom:
			custom[d] = struct{}{}
		}
	}
	return blocked, custom, nil
}

// ListDomainOverrides returns the group's operator overrides.
func (s *ReconcileService) ListDomainOverrides(ctx context.Context, groupID string) ([]model.GroupDomainOverride, error) {
	overrides, err := s.overrides.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if overrides == nil {
		overrides = []model.GroupDomainOverride{}
	}
	return overrides, nil
}

// AddDomainOverride records a per-group blocked or custom domain and drops the
// group's cached analysis.
func (s *ReconcileService) AddDomainOverride(ctx context.Context, groupID, domain string, kind model.DomainOverrideKind) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return apperrors.MissingRequired("domain")
	}
	if kind != model.DomainOverrideBlocked && kind != model.DomainOverrideCustom {
		return apperrors.InvalidInput("kind", string(kind))
	}

	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		return apperrors.Database(err)
	}
	if group == nil {
		return apperrors.NotFound("group")
	}

	if err := s.overrides.Add(ctx, groupID, domain, kind); err != nil {
		return apperrors.Database(err)
	}
	s.cache.InvalidateAnalysis(ctx, groupID)
	return nil
}

// RemoveDomainOverride deletes an override and drops the cached analysis.
func (s *ReconcileService) RemoveDomainOverride(ctx context.Context, groupID, domain string, kind model.DomainOverrideKind) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if err := s.overrides.Remove(ctx, groupID, domain, kind); err != nil {
		return apperrors.Database(err)
	}
	s.cache.InvalidateAnalysis(ctx, groupID)
	return nil
}

// RecordAnalysis persists a snapshot of an analysis so dashboards can read the
// latest result without recomputing it.
func (s *ReconcileService) RecordAnalysis(ctx context.Context, groupID string, analysis *GroupAnalysis) error {
	domainsJSON, err := json.Marshal(analysis.Domains)
	if err != nil {
		return apperrors.Internal("failed to encode analysis domains").WithCause(err)
	}

	err = s.analyses.Upsert(ctx, model.GroupAnalysisRecord{
		GroupID:          groupID,
		Domains:          string(domainsJSON),
		PotentialUsers:   len(analysis.PotentialUsers),
		ContactsNotInLms: len(analysis.CRMContactsNotInLms),
		ContactsUnknown:  len(analysis.CRMContactsUnknown),
		AnalyzedAt:       analysis.AnalyzedAt,
	})
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// LinkContacts connects unlinked CRM contacts to LMS accounts by email.
// Cross-links (contact_id, lms_user_id) are this engine's exclusive write
// surface. Returns the number of newly linked pairs.
func (s *ReconcileService) LinkContacts(ctx context.Context) (int, error) {
	unlinked, err := s.contacts.ListUnlinked(ctx)
	if err != nil {
		return 0, apperrors.Database(err)
	}

	linked := 0
	for _, contact := range unlinked {
		user, err := s.users.FindByEmail(ctx, contact.Email)
		if err != nil {
			return linked, apperrors.Database(err)
		}
		if user == nil {
			continue
		}

		if err := s.contacts.SetLmsUserID(ctx, contact.ID, user.ID); err != nil {
			return linked, apperrors.Database(err)
		}
		if err := s.users.SetContactID(ctx, user.ID, contact.ID); err != nil {
			return linked, apperrors.Database(err)
		}
		linked++
	}
	return linked, nil
}

// MergeGroups moves every member of each source group into the target, then
// deletes the source. Best-effort: each failed user or group is recorded and
// the merge continues.
func (s *ReconcileService) MergeGroups(ctx context.Context, targetID string, sourceIDs []string) (*MergeResult, error) {
	target, err := s.groups.FindByID(ctx, targetID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if target == nil {
		return nil, apperrors.NotFound("target group")
	}

	result := &MergeResult{Errors: []string{}}
	for _, sourceID := range sourceIDs {
		if sourceID == targetID {
			result.Errors = append(result.Errors, "cannot merge a group into itself")
			continue
		}

		source, err := s.groups.FindByID(ctx, sourceID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("group %s: %v", sourceID, err))
			continue
		}
		if source == nil {
			result.Errors = append(result.Errors, fmt.Sprintf("group %s: not found", sourceID))
			continue
		}

		members, err := s.members.ListByGroup(ctx, sourceID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("group %s: list members: %v", sourceID, err))
			continue
		}

		for _, member := range members {
			existing, err := s.members.Find(ctx, targetID, member.UserID)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("user %s: %v", member.UserID, err))
				continue
			}
			if existing != nil {
				continue
			}

			err = s.client.AddGroupMember(ctx, targetID, member.UserID)
			if err != nil && !errors.Is(err, lms.ErrAlreadyMember) {
				result.Errors = append(result.Errors, fmt.Sprintf("user %s: %v", member.UserID, err))
				continue
			}

			if _, err := s.members.InsertLocal(ctx, targetID, member.UserID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("user %s: record membership: %v", member.UserID, err))
				continue
			}
			result.UsersMoved++
		}

		if err := s.client.DeleteGroup(ctx, sourceID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("group %s: delete upstream: %v", sourceID, err))
			continue
		}
		if err := s.groups.Delete(ctx, sourceID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("group %s: delete local: %v", sourceID, err))
			continue
		}
		result.GroupsDeleted++
		s.cache.InvalidateAnalysis(ctx, sourceID)
	}

	s.cache.InvalidateAnalysis(ctx, targetID)
	audit.Log(ctx, audit.Event{Type: audit.EventGroupMerge, GroupID: targetID, Details: map[string]interface{}{
		"sources":       len(sourceIDs),
		"usersMoved":    result.UsersMoved,
		"groupsDeleted": result.GroupsDeleted,
		"errors":        len(result.Errors),
	}})
	return result, nil
}
