// Package billing reconciles bills, payments and patient balances.
package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-klinik/internal/ledger"
)

// BillStatus is the settlement state of a bill.
type BillStatus string

const (
	BillPending   BillStatus = "pending"
	BillPaid      BillStatus = "paid"
	BillCancelled BillStatus = "cancelled"
)

// PaymentMode is how money was handed over.
type PaymentMode string

const (
	ModeCash         PaymentMode = "cash"
	ModeCard         PaymentMode = "card"
	ModeUPI          PaymentMode = "upi"
	ModeBankTransfer PaymentMode = "bank_transfer"
	ModeInsurance    PaymentMode = "insurance"
	ModeOther        PaymentMode = "other"
)

// Valid reports whether m is a known payment mode.
func (m PaymentMode) Valid() bool {
	switch m {
	case ModeCash, ModeCard, ModeUPI, ModeBankTransfer, ModeInsurance, ModeOther:
		return true
	}
	return false
}

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// SubmissionKind selects which reconciliation case a submission follows.
type SubmissionKind string

const (
	KindNewBill           SubmissionKind = "new_bill"
	KindEditBill          SubmissionKind = "edit_bill"
	KindStandalonePayment SubmissionKind = "standalone_payment"
)

// Valid reports whether k is a known submission kind.
func (k SubmissionKind) Valid() bool {
	switch k {
	case KindNewBill, KindEditBill, KindStandalonePayment:
		return true
	}
	return false
}

// ExcessPolicy decides what happens to money paid beyond what is owed.
type ExcessPolicy string

const (
	// ReturnChange caps recorded payments at the amount owed and reports the
	// difference as change.
	ReturnChange ExcessPolicy = "return_change"
	// ApplyToBalance records the full amount, so any excess reduces older
	// pending balance.
	ApplyToBalance ExcessPolicy = "apply_to_balance"
)

// ParseExcessPolicy maps configuration input onto a policy, defaulting to ReturnChange.
func ParseExcessPolicy(raw string) ExcessPolicy {
	if ExcessPolicy(raw) == ApplyToBalance {
		return ApplyToBalance
	}
	return ReturnChange
}

// Bill is an itemized charge issued to a patient.
type Bill struct {
	ID              string          `json:"id"`
	PatientID       string          `json:"patient_id"`
	Items           []ledger.Item   `json:"items"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          BillStatus      `json:"status"`
	IssueDate       time.Time       `json:"issue_date"`
	Notes           string          `json:"notes,omitempty"`
	ServicesSummary string          `json:"services_summary"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Payment is money received from a patient. A nil BillID marks a standalone
// payment against the patient's overall balance.
type Payment struct {
	ID        string          `json:"id"`
	PatientID string          `json:"patient_id"`
	BillID    *string         `json:"bill_id"`
	Amount    decimal.Decimal `json:"amount"`
	Mode      PaymentMode     `json:"mode"`
	Status    PaymentStatus   `json:"status"`
	Date      time.Time       `json:"date"`
	Notes     string          `json:"notes,omitempty"`
}
