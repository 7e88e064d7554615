package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/partnerops/portal-sync/internal/audit"
	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/model"
	"github.com/partnerops/portal-sync/internal/repository"
	"github.com/partnerops/portal-sync/internal/service"
)

type SyncHandler struct {
	syncService *service.SyncService
	lockService *service.LockService
	logs        repository.SyncLogRepository
	schedules   repository.SyncScheduleRepository
}

func NewSyncHandler(
	syncService *service.SyncService,
	lockService *service.LockService,
	logs repository.SyncLogRepository,
	schedules repository.SyncScheduleRepository,
) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		lockService: lockService,
		logs:        logs,
		schedules:   schedules,
	}
}

func (h *SyncHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/run", h.Run)
	r.Get("/status", h.Status)
	r.Post("/reset", h.Reset)
	r.Get("/logs", h.ListLogs)
	r.Get("/schedule", h.GetSchedule)
	r.Put("/schedule", h.UpdateSchedule)

	return r
}

type runSyncRequest struct {
	SyncType string `json:"syncType"`
	SyncMode string `json:"syncMode"`
}

// Run triggers a sync. The call blocks until the run finishes; a second
// request while one is running gets 409.
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req runSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.SyncType == "" {
		req.SyncType = string(model.SyncTypeFull)
	}
	if req.SyncMode == "" {
		req.SyncMode = string(model.SyncModeFull)
	}
	if m := model.SyncMode(req.SyncMode); m != model.SyncModeFull && m != model.SyncModeIncremental {
		writeError(w, apperrors.InvalidInput("syncMode", req.SyncMode))
		return
	}

	result, err := h.syncService.Run(r.Context(), model.SyncType(req.SyncType), model.SyncMode(req.SyncMode))
	if err != nil {
		// A failed run still produced a log row worth returning.
		if result != nil {
			writeJSON(w, http.StatusBadGateway, result)
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.lockService.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Reset force-clears a stuck sync lock.
func (h *SyncHandler) Reset(w http.ResponseWriter, r *http.Request) {
	audit.LogFromRequest(r, audit.Event{Type: audit.EventSyncLockReset})
	if err := h.lockService.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (h *SyncHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	logs, err := h.logs.List(r.Context(), p.Limit, p.Offset)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if logs == nil {
		logs = []model.SyncLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "limit": p.Limit, "offset": p.Offset})
}

func (h *SyncHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.schedules.Get(r.Context())
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if schedule == nil {
		writeError(w, apperrors.NotFound("sync schedule"))
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

type updateScheduleRequest struct {
	Enabled       bool   `json:"enabled"`
	IntervalHours int    `json:"intervalHours"`
	SyncTypes     string `json:"syncTypes"`
}

func (h *SyncHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req updateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.Enabled && req.IntervalHours <= 0 {
		writeError(w, apperrors.InvalidInput("intervalHours", "must be positive when the schedule is enabled"))
		return
	}

	var nextRunAt *time.Time
	if req.Enabled {
		next := time.Now().UTC().Add(time.Duration(req.IntervalHours) * time.Hour)
		nextRunAt = &next
	}
	if err := h.schedules.Update(r.Context(), req.Enabled, req.IntervalHours, req.SyncTypes, nextRunAt); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	schedule, err := h.schedules.Get(r.Context())
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}
