package billing

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-klinik/internal/common"
	"github.com/noah-isme/backend-klinik/internal/ledger"
)

// MinNotesLength is the shortest accepted free-text note on a bill or payment.
const MinNotesLength = 10

// Submission is one operator request against a patient's account.
type Submission struct {
	Kind       SubmissionKind  `json:"kind"`
	PatientID  string          `json:"patient_id"`
	BillID     string          `json:"bill_id,omitempty"`
	Items      []ledger.Item   `json:"items"`
	Notes      string          `json:"notes,omitempty"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Mode       PaymentMode     `json:"mode,omitempty"`
}

// Plan lists the writes a submission needs. Bill is inserted for a new bill
// and updated for an edit; Payment is inserted when present.
type Plan struct {
	Kind    SubmissionKind
	Bill    *Bill
	Payment *Payment
	Change  decimal.Decimal
}

// Engine turns submissions into plans. It performs no I/O.
type Engine struct {
	Policy ExcessPolicy
	Now    func() time.Time
	NewID  func() string
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// ParsePaidAmount parses the amount handed over with a submission. Blank
// input means nothing was paid.
func ParsePaidAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, invalidAmount("paid amount must be a number")
	}
	if err := checkAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ParseItems converts submitted line items. A blank amount is zero; anything
// else must be a non-negative number.
func ParseItems(inputs []ledger.Input) ([]ledger.Item, error) {
	items := make([]ledger.Item, 0, len(inputs))
	for i, in := range inputs {
		amount := decimal.Zero
		if raw := strings.TrimSpace(in.Amount.String()); raw != "" {
			d, err := decimal.NewFromString(raw)
			if err != nil || d.IsNegative() {
				return nil, invalidItemAmount(i, raw)
			}
			amount = d
		}
		items = append(items, ledger.Item{Label: in.Label, Description: in.Description, Amount: amount})
	}
	return items, nil
}

func invalidItemAmount(index int, raw string) error {
	return common.Validation("INVALID_ITEM", "line item amount must be a non-negative number", ErrInvalidItem).
		WithDetails(map[string]any{"index": index, "amount": raw})
}

func checkAmount(d decimal.Decimal) error {
	if d.IsNegative() {
		return invalidAmount("paid amount must not be negative")
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return invalidAmount("paid amount must not have more than two decimal places")
	}
	return nil
}

// StatusFor derives a bill's status from the amount paid against its total.
func StatusFor(paid, total decimal.Decimal) BillStatus {
	if paid.GreaterThanOrEqual(total) {
		return BillPaid
	}
	return BillPending
}

// Plan validates sub and decides its writes. existing must be set for an
// edit; pending is the patient's current pending amount.
func (e Engine) Plan(sub Submission, existing *Bill, pending decimal.Decimal) (Plan, error) {
	if !sub.Kind.Valid() {
		return Plan{}, common.Validation("INVALID_KIND", "submission kind must be new_bill, edit_bill or standalone_payment", ErrInvalidKind)
	}
	if err := checkAmount(sub.PaidAmount); err != nil {
		return Plan{}, err
	}
	if sub.Mode == "" {
		sub.Mode = ModeCash
	}
	if !sub.Mode.Valid() {
		return Plan{}, common.Validation("INVALID_MODE", "unknown payment mode", ErrInvalidMode)
	}
	sub.Notes = strings.TrimSpace(sub.Notes)
	if sub.Notes != "" && utf8.RuneCountInString(sub.Notes) < MinNotesLength {
		return Plan{}, common.Validation("", "notes must be at least 10 characters", ErrNotesTooShort)
	}

	switch sub.Kind {
	case KindStandalonePayment:
		return e.planStandalone(sub, pending)
	case KindEditBill:
		return e.planEdit(sub, existing)
	default:
		return e.planNew(sub)
	}
}

func (e Engine) planNew(sub Submission) (Plan, error) {
	if strings.TrimSpace(sub.BillID) != "" {
		return Plan{}, common.Validation("INVALID_KIND", "a new bill must not reference an existing bill", ErrInvalidKind)
	}
	items, err := normalizeItems(sub.Items)
	if err != nil {
		return Plan{}, err
	}
	now := e.now()
	total := ledger.Sum(items)
	bill := &Bill{
		ID:              e.newID(),
		PatientID:       sub.PatientID,
		Items:           items,
		TotalAmount:     total,
		Status:          StatusFor(sub.PaidAmount, total),
		IssueDate:       now,
		Notes:           sub.Notes,
		ServicesSummary: ledger.Summary(items),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	plan := Plan{Kind: KindNewBill, Bill: bill, Change: decimal.Zero}

	recorded := sub.PaidAmount
	if e.Policy != ApplyToBalance && recorded.GreaterThan(total) {
		recorded = total
	}
	plan.Change = sub.PaidAmount.Sub(recorded)
	if recorded.IsPositive() {
		billID := bill.ID
		plan.Payment = &Payment{
			ID:        e.newID(),
			PatientID: sub.PatientID,
			BillID:    &billID,
			Amount:    recorded,
			Mode:      sub.Mode,
			Status:    PaymentCompleted,
			Date:      now,
		}
	}
	return plan, nil
}

func (e Engine) planEdit(sub Submission, existing *Bill) (Plan, error) {
	if existing == nil || strings.TrimSpace(sub.BillID) == "" {
		return Plan{}, common.Validation("INVALID_KIND", "editing requires an existing bill id", ErrInvalidKind)
	}
	if existing.PatientID != sub.PatientID {
		return Plan{}, common.Conflict("BILL_PATIENT_MISMATCH", "bill does not belong to this patient", ErrBillPatientMismatch)
	}
	if existing.Status == BillCancelled {
		return Plan{}, common.Conflict("BILL_CANCELLED", "cancelled bills cannot be edited", ErrBillCancelled)
	}
	items, err := normalizeItems(sub.Items)
	if err != nil {
		return Plan{}, err
	}
	updated := *existing
	updated.Items = items
	updated.TotalAmount = ledger.Sum(items)
	updated.ServicesSummary = ledger.Summary(items)
	updated.Notes = sub.Notes
	updated.Status = StatusFor(sub.PaidAmount, updated.TotalAmount)
	updated.UpdatedAt = e.now()
	return Plan{Kind: KindEditBill, Bill: &updated, Change: decimal.Zero}, nil
}

func (e Engine) planStandalone(sub Submission, pending decimal.Decimal) (Plan, error) {
	if strings.TrimSpace(sub.BillID) != "" {
		return Plan{}, common.Validation("INVALID_KIND", "a standalone payment must not reference a bill", ErrInvalidKind)
	}
	if ledger.Sum(sub.Items).IsPositive() {
		return Plan{}, common.Validation("INVALID_KIND", "a standalone payment cannot carry charges", ErrInvalidKind)
	}
	if !sub.PaidAmount.IsPositive() {
		return Plan{}, invalidAmount("payment amount must be greater than zero")
	}
	recorded := sub.PaidAmount
	if e.Policy != ApplyToBalance {
		if !pending.IsPositive() {
			return Plan{}, common.NewAppError("NO_PENDING_BALANCE", "patient has no pending balance", http.StatusUnprocessableEntity, ErrNothingPending)
		}
		if recorded.GreaterThan(pending) {
			recorded = pending
		}
	}
	return Plan{
		Kind: KindStandalonePayment,
		Payment: &Payment{
			ID:        e.newID(),
			PatientID: sub.PatientID,
			Amount:    recorded,
			Mode:      sub.Mode,
			Status:    PaymentCompleted,
			Date:      e.now(),
			Notes:     sub.Notes,
		},
		Change: sub.PaidAmount.Sub(recorded),
	}, nil
}

func normalizeItems(items []ledger.Item) ([]ledger.Item, error) {
	for i, it := range items {
		if it.Amount.IsNegative() {
			return nil, invalidItemAmount(i, it.Amount.String())
		}
	}
	compact := ledger.FromItems(items).Compact()
	for i := range compact {
		compact[i].Label = strings.TrimSpace(compact[i].Label)
		compact[i].Description = strings.TrimSpace(compact[i].Description)
		compact[i].Amount = compact[i].Amount.Round(2)
		if compact[i].Label == "" {
			return nil, common.Validation("INVALID_ITEM", "every charged line item needs a service name", ErrInvalidItem)
		}
	}
	if len(compact) == 0 {
		return nil, common.Validation("EMPTY_BILL", "a bill needs at least one line item", ErrEmptyBill)
	}
	return compact, nil
}
