package billing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-klinik/internal/ledger"
	"github.com/noah-isme/backend-klinik/internal/patient"
)

// Totals are the derived billing aggregates of one patient.
type Totals struct {
	TotalCost     decimal.Decimal `json:"total_cost"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	ServicesUsed  []string        `json:"services_used"`
}

// Recompute derives a patient's totals from their bills and payments.
// Records belonging to other patients are ignored, cancelled bills do not
// count towards the cost and only completed payments reduce the balance.
// The result depends only on its inputs.
func Recompute(patientID string, bills []Bill, payments []Payment) Totals {
	cost := decimal.Zero
	services := make([]string, 0)
	seen := make(map[string]struct{})
	for _, b := range bills {
		if b.PatientID != patientID || b.Status == BillCancelled {
			continue
		}
		cost = cost.Add(b.TotalAmount)
		for _, label := range ledger.Labels(b.Items) {
			key := strings.ToLower(label)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			services = append(services, label)
		}
	}
	paid := decimal.Zero
	for _, p := range payments {
		if p.PatientID != patientID || p.Status != PaymentCompleted {
			continue
		}
		paid = paid.Add(p.Amount)
	}
	pending := cost.Sub(paid)
	if pending.IsNegative() {
		pending = decimal.Zero
	}
	return Totals{TotalCost: cost, PendingAmount: pending, ServicesUsed: services}
}

// Matches reports whether the stored aggregates on p equal t.
func (t Totals) Matches(p patient.Patient) bool {
	if !t.TotalCost.Equal(p.TotalCost) || !t.PendingAmount.Equal(p.PendingAmount) {
		return false
	}
	if len(t.ServicesUsed) != len(p.ServicesUsed) {
		return false
	}
	for i := range t.ServicesUsed {
		if t.ServicesUsed[i] != p.ServicesUsed[i] {
			return false
		}
	}
	return true
}

// Apply copies t onto p.
func (t Totals) Apply(p patient.Patient) patient.Patient {
	p.TotalCost = t.TotalCost
	p.PendingAmount = t.PendingAmount
	p.ServicesUsed = append([]string{}, t.ServicesUsed...)
	return p
}
