package patient

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-klinik/internal/common"
)

// Handler exposes REST endpoints for patient records.
type Handler struct {
	Service *Service
}

// Routes mounts the patient endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/patients", h.List)
	r.Post("/patients", h.Create)
	r.Get("/patients/{patientID}", h.Get)
}

// List handles GET /api/v1/patients.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "patient service not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	q := r.URL.Query()
	patients, total, err := h.Service.List(r.Context(), ParseFilter(q.Get("filter")), q.Get("q"), page, perPage)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       patients,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// Create handles POST /api/v1/patients.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "patient service not configured", nil)
		return
	}
	var req CreateInput
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	p, err := h.Service.Create(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": p})
}

// Get handles GET /api/v1/patients/{patientID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "patient service not configured", nil)
		return
	}
	id, err := common.PathID(r, "patientID")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	p, err := h.Service.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}
