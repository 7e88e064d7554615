package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/repository"
	"github.com/partnerops/portal-sync/internal/service"
)

type SettingsHandler struct {
	settings   repository.PortalSettingsRepository
	compliance *service.ComplianceService
}

func NewSettingsHandler(settings repository.PortalSettingsRepository, compliance *service.ComplianceService) *SettingsHandler {
	return &SettingsHandler{settings: settings, compliance: compliance}
}

func (h *SettingsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/tiers", h.GetTiers)
	r.Put("/tiers", h.UpdateTiers)

	return r
}

func (h *SettingsHandler) GetTiers(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if settings == nil {
		writeError(w, apperrors.NotFound("portal settings"))
		return
	}

	tiers, err := settings.TierMap()
	if err != nil {
		writeError(w, apperrors.Internal("tier requirements setting is corrupt").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tierRequirements": tiers, "updatedAt": settings.UpdatedAt})
}

type updateTiersRequest struct {
	TierRequirements map[string]int `json:"tierRequirements"`
}

func (h *SettingsHandler) UpdateTiers(w http.ResponseWriter, r *http.Request) {
	var req updateTiersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := h.compliance.UpdateTierRequirements(r.Context(), req.TierRequirements); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tierRequirements": req.TierRequirements})
}
