// Package patient manages patient records. Billing aggregates on a patient
// are maintained by the billing package and are read-only here.
package patient

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Patient is the aggregation root for bills and payments.
type Patient struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Age            int             `json:"age"`
	Gender         string          `json:"gender,omitempty"`
	Phone          string          `json:"phone"`
	Email          string          `json:"email,omitempty"`
	Address        string          `json:"address,omitempty"`
	MedicalHistory string          `json:"medical_history,omitempty"`
	ServicesUsed   []string        `json:"services_used"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	PendingAmount  decimal.Decimal `json:"pending_amount"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasPending reports whether the patient owes money.
func (p Patient) HasPending() bool {
	return p.PendingAmount.IsPositive()
}

// Filter narrows patient listings by balance state.
type Filter string

const (
	FilterAll     Filter = "all"
	FilterPending Filter = "pending"
	FilterPaid    Filter = "paid"
)

// ParseFilter maps query input onto a Filter, defaulting to FilterAll.
func ParseFilter(raw string) Filter {
	switch Filter(strings.ToLower(strings.TrimSpace(raw))) {
	case FilterPending:
		return FilterPending
	case FilterPaid:
		return FilterPaid
	default:
		return FilterAll
	}
}

// ListParams controls patient listing.
type ListParams struct {
	Filter Filter
	Query  string
	Limit  int
	Offset int
}

// Store is the persistence contract for patient records.
type Store interface {
	CreatePatient(ctx context.Context, p Patient) error
	GetPatient(ctx context.Context, id string) (Patient, error)
	ListPatients(ctx context.Context, params ListParams) ([]Patient, int, error)
}
