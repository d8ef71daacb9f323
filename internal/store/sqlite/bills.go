package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/backend-klinik/internal/billing"
	"github.com/noah-isme/backend-klinik/internal/ledger"
	"github.com/noah-isme/backend-klinik/internal/store"
)

const billColumns = `id, patient_id, items, total_amount, status, issue_date, notes, services_summary, created_at, updated_at`

// InsertBill stores a new bill.
func (s *Store) InsertBill(ctx context.Context, b billing.Bill) error {
	items, err := encodeItems(b.Items)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO bills (`+billColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.PatientID, items, formatMoney(b.TotalAmount), string(b.Status), formatTime(b.IssueDate),
		b.Notes, b.ServicesSummary, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	return mapError("insert bill", err)
}

// UpdateBill replaces the mutable fields of an existing bill.
func (s *Store) UpdateBill(ctx context.Context, b billing.Bill) error {
	items, err := encodeItems(b.Items)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE bills
		 SET items = ?, total_amount = ?, status = ?, notes = ?, services_summary = ?, updated_at = ?
		 WHERE id = ?`,
		items, formatMoney(b.TotalAmount), string(b.Status), b.Notes, b.ServicesSummary, formatTime(b.UpdatedAt), b.ID,
	)
	if err != nil {
		return mapError("update bill", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return mapError("update bill", err)
	} else if n == 0 {
		return fmt.Errorf("sqlite: update bill: %w", store.ErrNotFound)
	}
	return nil
}

// GetBill loads one bill.
func (s *Store) GetBill(ctx context.Context, id string) (billing.Bill, error) {
	b, err := scanBill(s.q.QueryRowContext(ctx, `SELECT `+billColumns+` FROM bills WHERE id = ?`, id))
	if err != nil {
		return billing.Bill{}, mapError("get bill", err)
	}
	return b, nil
}

// ListBillsByPatient returns a patient's bills, oldest first.
func (s *Store) ListBillsByPatient(ctx context.Context, patientID string) ([]billing.Bill, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+billColumns+` FROM bills WHERE patient_id = ? ORDER BY issue_date, id`, patientID)
	if err != nil {
		return nil, mapError("list bills", err)
	}
	defer rows.Close()
	out := make([]billing.Bill, 0)
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, mapError("scan bill", err)
		}
		out = append(out, b)
	}
	return out, mapError("iterate bills", rows.Err())
}

func encodeItems(items []ledger.Item) (string, error) {
	if items == nil {
		items = []ledger.Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode items: %w", err)
	}
	return string(data), nil
}

func scanBill(row scanner) (billing.Bill, error) {
	var (
		b                    billing.Bill
		items, total, status string
		issued               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&b.ID, &b.PatientID, &items, &total, &status, &issued, &b.Notes, &b.ServicesSummary, &createdAt, &updatedAt); err != nil {
		return billing.Bill{}, err
	}
	if err := json.Unmarshal([]byte(items), &b.Items); err != nil {
		return billing.Bill{}, fmt.Errorf("decode items: %w", err)
	}
	b.Status = billing.BillStatus(status)
	var err error
	if b.TotalAmount, err = parseMoney(total); err != nil {
		return billing.Bill{}, err
	}
	if b.IssueDate, err = parseTime(issued); err != nil {
		return billing.Bill{}, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return billing.Bill{}, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return billing.Bill{}, err
	}
	return b, nil
}
