package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/partnerops/portal-sync/internal/errors"
	"github.com/partnerops/portal-sync/internal/model"
	"github.com/partnerops/portal-sync/internal/repository"
)

type UserHandler struct {
	users repository.LmsUserRepository
}

func NewUserHandler(users repository.LmsUserRepository) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/{id}", h.Get)

	return r
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if users == nil {
		users = []model.LmsUser{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if user == nil {
		writeError(w, apperrors.NotFound("user"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}
