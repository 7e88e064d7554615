package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/model"
	"github.com/partnerops/portal-sync/internal/repository"
	"github.com/partnerops/portal-sync/internal/service"
)

type GroupHandler struct {
	groups      repository.LmsGroupRepository
	members     repository.GroupMemberRepository
	reconcile   *service.ReconcileService
	memberships *service.MembershipService
}

func NewGroupHandler(
	groups repository.LmsGroupRepository,
	members repository.GroupMemberRepository,
	reconcile *service.ReconcileService,
	memberships *service.MembershipService,
) *GroupHandler {
	return &GroupHandler{
		groups:      groups,
		members:     members,
		reconcile:   reconcile,
		memberships: memberships,
	}
}

func (h *GroupHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Rename)
	r.Delete("/{id}", h.Delete)

	r.Get("/{id}/match", h.Match)
	r.Put("/{id}/partner", h.SetPartner)
	r.Get("/{id}/analysis", h.Analyze)
	r.Get("/{id}/members", h.ListMembers)
	r.Post("/{id}/members", h.AddMembers)
	r.Delete("/{id}/members/{userId}", h.RemoveMember)
	r.Post("/{id}/merge", h.Merge)

	r.Get("/{id}/domain-overrides", h.ListOverrides)
	r.Post("/{id}/domain-overrides", h.AddOverride)
	r.Delete("/{id}/domain-overrides", h.RemoveOverride)

	return r
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.List(r.Context())
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if groups == nil {
		groups = []model.LmsGroup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	group, err := h.groups.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if group == nil {
		writeError(w, apperrors.NotFound("group"))
		return
	}
	writeJSON(w, http.StatusOK, group)
}

type createGroupRequest struct {
	Name string `json:"name"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	group, err := h.memberships.CreateGroup(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

type renameGroupRequest struct {
	Name string `json:"name"`
}

func (h *GroupHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	group, err := h.memberships.UpdateGroupName(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.memberships.DeleteGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *GroupHandler) Match(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconcile.MatchGroupToPartner(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type setPartnerRequest struct {
	PartnerID *string `json:"partnerId"`
}

// SetPartner records or clears (null partnerId) the group's matched partner.
func (h *GroupHandler) SetPartner(w http.ResponseWriter, r *http.Request) {
	var req setPartnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	groupID := chi.URLParam(r, "id")
	if err := h.reconcile.RecordMatch(r.Context(), groupID, req.PartnerID); err != nil {
		writeError(w, err)
		return
	}

	group, err := h.groups.FindByID(r.Context(), groupID)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *GroupHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	analysis, err := h.reconcile.AnalyzeGroup(r.Context(), groupID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.reconcile.RecordAnalysis(r.Context(), groupID, analysis); err != nil {
		log.Warn().Err(err).Str("groupId", groupID).Msg("failed to persist analysis snapshot")
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (h *GroupHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	users, err := h.members.MemberUsers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if users == nil {
		users = []model.LmsUser{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": users})
}

type addMembersRequest struct {
	UserIDs              []string `json:"userIds"`
	AlsoAddToAllPartners bool     `json:"alsoAddToAllPartners"`
}

func (h *GroupHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	var req addMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := h.memberships.AddUsersToGroup(r.Context(), chi.URLParam(r, "id"), req.UserIDs, req.AlsoAddToAllPartners)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	err := h.memberships.RemoveUserFromGroup(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

type mergeRequest struct {
	SourceIDs []string `json:"sourceIds"`
}

func (h *GroupHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if len(req.SourceIDs) == 0 {
		writeError(w, apperrors.MissingRequired("sourceIds"))
		return
	}

	result, err := h.reconcile.MergeGroups(r.Context(), chi.URLParam(r, "id"), req.SourceIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *GroupHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.reconcile.ListDomainOverrides(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": overrides})
}

type overrideRequest struct {
	Domain string `json:"domain"`
	Kind   string `json:"kind"`
}

func (h *GroupHandler) AddOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	groupID := chi.URLParam(r, "id")
	if err := h.reconcile.AddDomainOverride(r.Context(), groupID, req.Domain, model.DomainOverrideKind(req.Kind)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"added": true})
}

func (h *GroupHandler) RemoveOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	groupID := chi.URLParam(r, "id")
	if err := h.reconcile.RemoveDomainOverride(r.Context(), groupID, req.Domain, model.DomainOverrideKind(req.Kind)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}
