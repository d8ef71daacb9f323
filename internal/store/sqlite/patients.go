package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noah-isme/backend-klinik/internal/billing"
	"github.com/noah-isme/backend-klinik/internal/patient"
	"github.com/noah-isme/backend-klinik/internal/store"
)

const patientColumns = `id, name, age, gender, phone, email, address, medical_history,
	services_used, total_cost, pending_amount, version, created_at, updated_at`

// CreatePatient inserts p. Phone and email are unique.
func (s *Store) CreatePatient(ctx context.Context, p patient.Patient) error {
	services, err := json.Marshal(nonNil(p.ServicesUsed))
	if err != nil {
		return fmt.Errorf("sqlite: encode services: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO patients (`+patientColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Age, p.Gender, p.Phone, nullString(p.Email), p.Address, p.MedicalHistory,
		string(services), formatMoney(p.TotalCost), formatMoney(p.PendingAmount), p.Version,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return mapError("insert patient", err)
}

// GetPatient loads one patient.
func (s *Store) GetPatient(ctx context.Context, id string) (patient.Patient, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = ?`, id)
	p, err := scanPatient(row)
	if err != nil {
		return patient.Patient{}, mapError("get patient", err)
	}
	return p, nil
}

// ListPatients returns one page of patients, newest first, and the total match count.
func (s *Store) ListPatients(ctx context.Context, params patient.ListParams) ([]patient.Patient, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	switch params.Filter {
	case patient.FilterPending:
		where = append(where, "CAST(pending_amount AS REAL) > 0")
	case patient.FilterPaid:
		where = append(where, "CAST(pending_amount AS REAL) <= 0")
	}
	if q := strings.TrimSpace(params.Query); q != "" {
		like := "%" + q + "%"
		where = append(where, "(name LIKE ? OR phone LIKE ? OR IFNULL(email, '') LIKE ?)")
		args = append(args, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients`+clause, args...).Scan(&total); err != nil {
		return nil, 0, mapError("count patients", err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	pageArgs := append(append([]any{}, args...), limit, params.Offset)
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+patientColumns+` FROM patients`+clause+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		pageArgs...,
	)
	if err != nil {
		return nil, 0, mapError("list patients", err)
	}
	defer rows.Close()

	out := make([]patient.Patient, 0, limit)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, mapError("scan patient", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError("iterate patients", err)
	}
	return out, total, nil
}

// ListPatientIDs returns every patient id, oldest first.
func (s *Store) ListPatientIDs(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM patients ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError("list patient ids", err)
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError("scan patient id", err)
		}
		ids = append(ids, id)
	}
	return ids, mapError("iterate patient ids", rows.Err())
}

// UpdatePatientAggregates writes t if the stored version still equals expectedVersion.
func (s *Store) UpdatePatientAggregates(ctx context.Context, patientID string, t billing.Totals, expectedVersion int64) (int64, error) {
	services, err := json.Marshal(nonNil(t.ServicesUsed))
	if err != nil {
		return 0, fmt.Errorf("sqlite: encode services: %w", err)
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE patients
		 SET total_cost = ?, pending_amount = ?, services_used = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		formatMoney(t.TotalCost), formatMoney(t.PendingAmount), string(services), formatTime(s.now()),
		patientID, expectedVersion,
	)
	if err != nil {
		return 0, mapError("update aggregates", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError("update aggregates", err)
	}
	if n == 1 {
		return expectedVersion + 1, nil
	}
	var current int64
	err = s.q.QueryRowContext(ctx, `SELECT version FROM patients WHERE id = ?`, patientID).Scan(&current)
	if err != nil {
		return 0, mapError("update aggregates", err)
	}
	return 0, fmt.Errorf("sqlite: update aggregates: %w (stored %d, expected %d)", store.ErrVersionConflict, current, expectedVersion)
}

func scanPatient(row scanner) (patient.Patient, error) {
	var (
		p                    patient.Patient
		email                sql.NullString
		services             string
		totalCost, pending   string
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Age, &p.Gender, &p.Phone, &email, &p.Address, &p.MedicalHistory,
		&services, &totalCost, &pending, &p.Version, &createdAt, &updatedAt); err != nil {
		return patient.Patient{}, err
	}
	p.Email = email.String
	if err := json.Unmarshal([]byte(services), &p.ServicesUsed); err != nil {
		return patient.Patient{}, fmt.Errorf("decode services: %w", err)
	}
	p.ServicesUsed = nonNil(p.ServicesUsed)
	var err error
	if p.TotalCost, err = parseMoney(totalCost); err != nil {
		return patient.Patient{}, err
	}
	if p.PendingAmount, err = parseMoney(pending); err != nil {
		return patient.Patient{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return patient.Patient{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return patient.Patient{}, err
	}
	return p, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
