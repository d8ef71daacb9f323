package analytics

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-klinik/internal/common"
)

// Handler exposes analytics read endpoints.
type Handler struct {
	Svc *Service
}

// Routes mounts the analytics endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/analytics/overview", h.Overview)
	r.Get("/analytics/revenue", h.Revenue)
}

// Overview returns clinic-wide billing totals.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	ov, err := h.Svc.Overview(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "failed to load overview", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ov})
}

// Revenue returns monthly revenue for the requested number of months.
func (h *Handler) Revenue(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	months := common.QueryInt(r, "months", 0)
	if months < 0 || months > 36 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "months must be between 1 and 36", nil)
		return
	}
	rows, err := h.Svc.MonthlyRevenue(r.Context(), months)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "failed to load revenue", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}
