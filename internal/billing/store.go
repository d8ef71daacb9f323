package billing

import (
	"context"

	"github.com/noah-isme/backend-klinik/internal/patient"
)

// Store is the record store the reconciliation service writes through.
// Lookups return store.ErrNotFound for missing records.
type Store interface {
	GetPatient(ctx context.Context, id string) (patient.Patient, error)
	ListPatientIDs(ctx context.Context) ([]string, error)

	GetBill(ctx context.Context, id string) (Bill, error)
	InsertBill(ctx context.Context, b Bill) error
	UpdateBill(ctx context.Context, b Bill) error
	ListBillsByPatient(ctx context.Context, patientID string) ([]Bill, error)

	InsertPayment(ctx context.Context, p Payment) error
	ListPaymentsByPatient(ctx context.Context, patientID string) ([]Payment, error)

	// UpdatePatientAggregates writes t when the stored version equals
	// expectedVersion and returns the new version. A mismatch returns
	// store.ErrVersionConflict.
	UpdatePatientAggregates(ctx context.Context, patientID string, t Totals, expectedVersion int64) (int64, error)
}

// Transactor is implemented by stores that can run several writes atomically.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Store) error) error
}
