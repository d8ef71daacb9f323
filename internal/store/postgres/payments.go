package postgres

import (
	"context"

	"github.com/noah-isme/backend-klinik/internal/billing"
)

// InsertPayment stores a payment.
func (s *Store) InsertPayment(ctx context.Context, p billing.Payment) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO payments (id, patient_id, bill_id, amount, mode, status, paid_at, notes)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`,
		p.ID, p.PatientID, p.BillID, p.Amount.String(), string(p.Mode), string(p.Status), p.Date, p.Notes,
	)
	return mapError("insert payment", err)
}

// ListPaymentsByPatient returns a patient's payments, oldest first.
func (s *Store) ListPaymentsByPatient(ctx context.Context, patientID string) ([]billing.Payment, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id::text, patient_id::text, bill_id::text, amount::text, mode, status, paid_at, notes
		 FROM payments WHERE patient_id = $1 ORDER BY paid_at, id`, patientID)
	if err != nil {
		return nil, mapError("list payments", err)
	}
	defer rows.Close()
	out := make([]billing.Payment, 0)
	for rows.Next() {
		var (
			p                    billing.Payment
			amount, mode, status string
		)
		if err := rows.Scan(&p.ID, &p.PatientID, &p.BillID, &amount, &mode, &status, &p.Date, &p.Notes); err != nil {
			return nil, mapError("scan payment", err)
		}
		p.Mode = billing.PaymentMode(mode)
		p.Status = billing.PaymentStatus(status)
		if p.Amount, err = parseMoney(amount); err != nil {
			return nil, err
		}
		p.Date = p.Date.UTC()
		out = append(out, p)
	}
	return out, mapError("iterate payments", rows.Err())
}
