package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-klinik/internal/billing"
	"github.com/noah-isme/backend-klinik/internal/ledger"
	"github.com/noah-isme/backend-klinik/internal/store"
)

const billColumns = `id::text, patient_id::text, items, total_amount::text, status, issue_date, notes,
	services_summary, created_at, updated_at`

// InsertBill stores a new bill.
func (s *Store) InsertBill(ctx context.Context, b billing.Bill) error {
	items, err := encodeItems(b.Items)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO bills (id, patient_id, items, total_amount, status, issue_date, notes, services_summary, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, $4::numeric, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.PatientID, items, b.TotalAmount.String(), string(b.Status), b.IssueDate, b.Notes,
		b.ServicesSummary, b.CreatedAt, b.UpdatedAt,
	)
	return mapError("insert bill", err)
}

// UpdateBill replaces the mutable fields of an existing bill.
func (s *Store) UpdateBill(ctx context.Context, b billing.Bill) error {
	items, err := encodeItems(b.Items)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE bills
		 SET items = $2::jsonb, total_amount = $3::numeric, status = $4, notes = $5, services_summary = $6, updated_at = $7
		 WHERE id = $1`,
		b.ID, items, b.TotalAmount.String(), string(b.Status), b.Notes, b.ServicesSummary, b.UpdatedAt,
	)
	if err != nil {
		return mapError("update bill", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update bill: %w", store.ErrNotFound)
	}
	return nil
}

// GetBill loads one bill.
func (s *Store) GetBill(ctx context.Context, id string) (billing.Bill, error) {
	b, err := scanBill(s.q.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, id))
	if err != nil {
		return billing.Bill{}, mapError("get bill", err)
	}
	return b, nil
}

// ListBillsByPatient returns a patient's bills, oldest first.
func (s *Store) ListBillsByPatient(ctx context.Context, patientID string) ([]billing.Bill, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+billColumns+` FROM bills WHERE patient_id = $1 ORDER BY issue_date, id`, patientID)
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
		return "", fmt.Errorf("postgres: encode items: %w", err)
	}
	return string(data), nil
}

func scanBill(row pgx.Row) (billing.Bill, error) {
	var (
		b      billing.Bill
		items  []byte
		total  string
		status string
	)
	if err := row.Scan(&b.ID, &b.PatientID, &items, &total, &status, &b.IssueDate, &b.Notes,
		&b.ServicesSummary, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return billing.Bill{}, err
	}
	if err := json.Unmarshal(items, &b.Items); err != nil {
		return billing.Bill{}, fmt.Errorf("decode items: %w", err)
	}
	b.Status = billing.BillStatus(status)
	var err error
	if b.TotalAmount, err = parseMoney(total); err != nil {
		return billing.Bill{}, err
	}
	b.IssueDate = b.IssueDate.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}
