package billing

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-klinik/internal/common"
	"github.com/noah-isme/backend-klinik/internal/invoice"
	"github.com/noah-isme/backend-klinik/internal/ledger"
	"github.com/noah-isme/backend-klinik/internal/obs"
)

// Handler exposes billing endpoints.
type Handler struct {
	Service *Service
	// Write wraps mutating routes, e.g. with idempotency middleware.
	Write func(http.Handler) http.Handler
	// Admin guards operator maintenance routes.
	Admin func(http.Handler) http.Handler
}

type submissionRequest struct {
	Kind       string           `json:"kind" validate:"omitempty,oneof=new_bill edit_bill standalone_payment"`
	BillID     string           `json:"bill_id"`
	Items      []ledger.Input   `json:"items" validate:"max=200"`
	Notes      string           `json:"notes" validate:"max=2000"`
	PaidAmount ledger.RawAmount `json:"paid_amount"`
	Mode       string           `json:"mode" validate:"omitempty,oneof=cash card upi bank_transfer insurance other"`
}

type paymentRequest struct {
	Amount ledger.RawAmount `json:"amount"`
	Mode   string           `json:"mode" validate:"omitempty,oneof=cash card upi bank_transfer insurance other"`
	Notes  string           `json:"notes" validate:"max=2000"`
}

// Routes mounts the billing endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	write, admin := h.Write, h.Admin
	if write == nil {
		write = passThrough
	}
	if admin == nil {
		admin = passThrough
	}
	r.Get("/patients/{patientID}/bills", h.ListBills)
	r.Get("/patients/{patientID}/payments", h.ListPayments)
	r.Get("/patients/{patientID}/bills/{billID}/invoice", h.Invoice)
	r.Get("/bills/{billID}", h.GetBill)
	r.With(write).Post("/patients/{patientID}/bills", h.Submit)
	r.With(write).Post("/patients/{patientID}/bills/{billID}/cancel", h.Cancel)
	r.With(write).Post("/patients/{patientID}/payments", h.Pay)
	r.With(admin, write).Post("/patients/{patientID}/recompute", h.Recompute)
}

func passThrough(next http.Handler) http.Handler { return next }

func (h *Handler) configured(w http.ResponseWriter) bool {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "billing service not configured", nil)
		return false
	}
	return true
}

// Submit handles POST /api/v1/patients/{patientID}/bills.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	var req submissionRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(req); err != nil {
		common.WriteError(w, err)
		return
	}
	patientID, err := common.PathID(r, "patientID")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.BillID) != "" {
		if req.BillID, err = common.ParseID("bill_id", req.BillID); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	paid, err := ParsePaidAmount(req.PaidAmount.String())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	kind := SubmissionKind(req.Kind)
	if kind == "" {
		kind = KindNewBill
		if strings.TrimSpace(req.BillID) != "" {
			kind = KindEditBill
		}
	}
	items, err := ParseItems(req.Items)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.Service.GenerateOrUpdateBill(r.Context(), Submission{
		Kind:       kind,
		PatientID:  patientID,
		BillID:     req.BillID,
		Items:      items,
		Notes:      req.Notes,
		PaidAmount: paid,
		Mode:       PaymentMode(req.Mode),
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if kind != KindEditBill {
		status = http.StatusCreated
	}
	common.JSON(w, status, map[string]any{"data": res})
}

// Pay handles POST /api/v1/patients/{patientID}/payments.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	var req paymentRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(req); err != nil {
		common.WriteError(w, err)
		return
	}
	patientID, err := common.PathID(r, "patientID")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	amount, err := ParsePaidAmount(req.Amount.String())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.Service.PayPendingBalance(r.Context(), patientID, amount, PaymentMode(req.Mode), req.Notes)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": res})
}

// Cancel handles POST /api/v1/patients/{patientID}/bills/{billID}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	patientID, billID, ok := h.billPath(w, r)
	if !ok {
		return
	}
	res, err := h.Service.CancelBill(r.Context(), patientID, billID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

// Recompute handles POST /api/v1/patients/{patientID}/recompute.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	patientID, err := common.PathID(r, "patientID")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	totals, drifted, err := h.Service.RecomputePatient(r.Context(), patientID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"totals": totals, "repaired": drifted}})
}

// ListBills handles GET /api/v1/patients/{patientID}/bills.
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	patientID, err := common.PathID(r, "patientID")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	bills, err := h.Service.ListBills(r.Context(), patientID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bills})
}

// ListPayments handles GET /api/v1/patients/{patientID}/payments.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	patientID, err := common.PathID(r, "patientID")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	payments, err := h.Service.ListPayments(r.Context(), patientID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": payments})
}

// GetBill handles GET /api/v1/bills/{billID}.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	billID, err := common.PathID(r, "billID")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	bill, err := h.Service.GetBill(r.Context(), billID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// Invoice handles GET /api/v1/patients/{patientID}/bills/{billID}/invoice.
// The text rendering is returned unless format=json is requested.
func (h *Handler) Invoice(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	patientID, billID, ok := h.billPath(w, r)
	if !ok {
		return
	}
	doc, err := h.Service.RenderInvoice(r.Context(), patientID, billID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		obs.ObserveInvoiceRender("json")
		common.JSON(w, http.StatusOK, map[string]any{"data": doc})
		return
	}
	obs.ObserveInvoiceRender("text")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="invoice-`+doc.InvoiceNumber+`.txt"`)
	w.WriteHeader(http.StatusOK)
	if err := invoice.Render(w, doc); err != nil {
		h.Service.Log.Warn().Err(err).Str("bill_id", billID).Msg("invoice_write_failed")
	}
}

func (h *Handler) billPath(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	patientID, err := common.PathID(r, "patientID")
	if err != nil {
		common.WriteError(w, err)
		return "", "", false
	}
	billID, err := common.PathID(r, "billID")
	if err != nil {
		common.WriteError(w, err)
		return "", "", false
	}
	return patientID, billID, true
}
