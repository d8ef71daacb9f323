package sqlite

import (
	"context"
	"database/sql"

	"github.com/noah-isme/backend-klinik/internal/billing"
)

const paymentColumns = `id, patient_id, bill_id, amount, mode, status, paid_at, notes`

// InsertPayment stores a payment.
func (s *Store) InsertPayment(ctx context.Context, p billing.Payment) error {
	var billID any
	if p.BillID != nil {
		billID = *p.BillID
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PatientID, billID, formatMoney(p.Amount), string(p.Mode), string(p.Status), formatTime(p.Date), p.Notes,
	)
	return mapError("insert payment", err)
}

// ListPaymentsByPatient returns a patient's payments, oldest first.
func (s *Store) ListPaymentsByPatient(ctx context.Context, patientID string) ([]billing.Payment, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE patient_id = ? ORDER BY paid_at, id`, patientID)
	if err != nil {
		return nil, mapError("list payments", err)
	}
	defer rows.Close()
	out := make([]billing.Payment, 0)
	for rows.Next() {
		var (
			p                    billing.Payment
			billID               sql.NullString
			amount, mode, status string
			paidAt               string
		)
		if err := rows.Scan(&p.ID, &p.PatientID, &billID, &amount, &mode, &status, &paidAt, &p.Notes); err != nil {
			return nil, mapError("scan payment", err)
		}
		if billID.Valid {
			id := billID.String
			p.BillID = &id
		}
		p.Mode = billing.PaymentMode(mode)
		p.Status = billing.PaymentStatus(status)
		if p.Amount, err = parseMoney(amount); err != nil {
			return nil, err
		}
		if p.Date, err = parseTime(paidAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapError("iterate payments", rows.Err())
}
