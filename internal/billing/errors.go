package billing

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/noah-isme/backend-klinik/internal/common"
)

var (
	ErrInvalidAmount       = errors.New("billing: invalid amount")
	ErrEmptyBill           = errors.New("billing: bill has no line items")
	ErrInvalidItem         = errors.New("billing: invalid line item")
	ErrNotesTooShort       = errors.New("billing: notes below minimum length")
	ErrInvalidKind         = errors.New("billing: invalid submission kind")
	ErrInvalidMode         = errors.New("billing: invalid payment mode")
	ErrNothingPending      = errors.New("billing: no pending balance")
	ErrBillCancelled       = errors.New("billing: bill is cancelled")
	ErrBillPatientMismatch = errors.New("billing: bill belongs to another patient")
	ErrPartialFailure      = errors.New("billing: partial failure")
)

// Write stages, in the order they are performed.
const (
	StageBill      = "bill"
	StagePayment   = "payment"
	StageAggregate = "aggregate"
)

// PartialFailureError reports a reconciliation that stopped after some
// writes had already been persisted. Nothing is rolled back.
type PartialFailureError struct {
	Stage     string
	PatientID string
	BillID    string
	PaymentID string
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("billing: partial failure at %s stage (patient %s, bill %s): %v", e.Stage, e.PatientID, e.BillID, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// Is matches ErrPartialFailure.
func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

func invalidAmount(message string) error {
	return common.Validation("INVALID_AMOUNT", message, ErrInvalidAmount)
}

func partialFailure(pf *PartialFailureError) error {
	details := map[string]any{"stage": pf.Stage, "patient_id": pf.PatientID}
	if pf.BillID != "" {
		details["bill_id"] = pf.BillID
	}
	if pf.PaymentID != "" {
		details["payment_id"] = pf.PaymentID
	}
	return common.NewAppError("PARTIAL_FAILURE", "operation partially applied; manual reconciliation required", http.StatusInternalServerError, pf).WithDetails(details)
}
