package audit

import (
	"net/http"

	"github.com/noah-isme/backend-klinik/internal/common"
)

// Handler serves the audit trail to administrators.
type Handler struct {
	Store Store
}

// List handles GET /api/v1/audit?page=&per_page=, newest entries first.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	rows, err := h.Store.ListAuditLogs(r.Context(), perPage, common.Offset(page, perPage))
	if err != nil {
		common.WriteError(w, common.Persistence("unable to fetch audit logs", err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       rows,
		"pagination": map[string]int{"page": page, "per_page": perPage},
	})
}
