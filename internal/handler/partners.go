package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/model"
	"github.com/partnerops/portal-sync/internal/repository"
	"github.com/partnerops/portal-sync/internal/service"
)

type PartnerHandler struct {
	partners   repository.PartnerRepository
	contacts   repository.ContactRepository
	compliance *service.ComplianceService
	importer   *service.ImportService
}

func NewPartnerHandler(
	partners repository.PartnerRepository,
	contacts repository.ContactRepository,
	compliance *service.ComplianceService,
	importer *service.ImportService,
) *PartnerHandler {
	return &PartnerHandler{
		partners:   partners,
		contacts:   contacts,
		compliance: compliance,
		importer:   importer,
	}
}

func (h *PartnerHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/contacts", h.ListContacts)
	r.Get("/{id}/compliance", h.Compliance)
	r.Get("/compliance/report", h.Report)
	r.Post("/import", h.ImportPartners)
	r.Post("/import/contacts", h.ImportContacts)

	return r
}

func (h *PartnerHandler) List(w http.ResponseWriter, r *http.Request) {
	partners, err := h.partners.List(r.Context())
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if partners == nil {
		partners = []model.Partner{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"partners": partners})
}

func (h *PartnerHandler) Get(w http.ResponseWriter, r *http.Request) {
	partner, err := h.partners.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if partner == nil {
		writeError(w, apperrors.NotFound("partner"))
		return
	}
	writeJSON(w, http.StatusOK, partner)
}

func (h *PartnerHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.contacts.FindByPartnerID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (h *PartnerHandler) Compliance(w http.ResponseWriter, r *http.Request) {
	result, err := h.compliance.PartnerNPCU(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PartnerHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.compliance.Report(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type importPartnersRequest struct {
	Partners []service.PartnerImport `json:"partners"`
}

func (h *PartnerHandler) ImportPartners(w http.ResponseWriter, r *http.Request) {
	var req importPartnersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := h.importer.ImportPartners(r.Context(), req.Partners)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type importContactsRequest struct {
	Contacts []service.ContactImport `json:"contacts"`
}

func (h *PartnerHandler) ImportContacts(w http.ResponseWriter, r *http.Request) {
	var req importContactsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := h.importer.ImportContacts(r.Context(), req.Contacts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
