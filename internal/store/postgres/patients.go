package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-klinik/internal/billing"
	"github.com/noah-isme/backend-klinik/internal/patient"
	"github.com/noah-isme/backend-klinik/internal/store"
)

const patientColumns = `id::text, name, age, gender, phone, COALESCE(email, ''), address, medical_history,
	services_used, total_cost::text, pending_amount::text, version, created_at, updated_at`

// CreatePatient inserts p. Phone and email are unique.
func (s *Store) CreatePatient(ctx context.Context, p patient.Patient) error {
	services := p.ServicesUsed
	if services == nil {
		services = []string{}
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO patients (id, name, age, gender, phone, email, address, medical_history,
		 services_used, total_cost, pending_amount, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11::numeric, $12, $13, $14)`,
		p.ID, p.Name, p.Age, p.Gender, p.Phone, nullString(p.Email), p.Address, p.MedicalHistory,
		services, p.TotalCost.String(), p.PendingAmount.String(), p.Version, p.CreatedAt, p.UpdatedAt,
	)
	return mapError("insert patient", err)
}

// GetPatient loads one patient.
func (s *Store) GetPatient(ctx context.Context, id string) (patient.Patient, error) {
	p, err := scanPatient(s.q.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id))
	if err != nil {
		return patient.Patient{}, mapError("get patient", err)
	}
	return p, nil
}

// ListPatients returns one page of patients, newest first, and the total match count.
func (s *Store) ListPatients(ctx context.Context, params patient.ListParams) ([]patient.Patient, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 3)
	switch params.Filter {
	case patient.FilterPending:
		where = append(where, "pending_amount > 0")
	case patient.FilterPaid:
		where = append(where, "pending_amount = 0")
	}
	if q := strings.TrimSpace(params.Query); q != "" {
		args = append(args, "%"+q+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%[1]d OR phone ILIKE $%[1]d OR COALESCE(email, '') ILIKE $%[1]d)", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM patients`+clause, args...).Scan(&total); err != nil {
		return nil, 0, mapError("count patients", err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, params.Offset)
	rows, err := s.q.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM patients%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
			patientColumns, clause, len(args)-1, len(args)),
		args...,
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
	rows, err := s.q.Query(ctx, `SELECT id::text FROM patients ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError("list patient ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError("list patient ids", err)
	}
	return ids, nil
}

// UpdatePatientAggregates writes t if the stored version still equals expectedVersion.
func (s *Store) UpdatePatientAggregates(ctx context.Context, patientID string, t billing.Totals, expectedVersion int64) (int64, error) {
	services := t.ServicesUsed
	if services == nil {
		services = []string{}
	}
	var version int64
	err := s.q.QueryRow(ctx,
		`UPDATE patients
		 SET total_cost = $2::numeric, pending_amount = $3::numeric, services_used = $4,
		     version = version + 1, updated_at = $5
		 WHERE id = $1 AND version = $6
		 RETURNING version`,
		patientID, t.TotalCost.String(), t.PendingAmount.String(), services, s.now(), expectedVersion,
	).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, mapError("update aggregates", err)
	}
	var current int64
	if err := s.q.QueryRow(ctx, `SELECT version FROM patients WHERE id = $1`, patientID).Scan(&current); err != nil {
		return 0, mapError("update aggregates", err)
	}
	return 0, fmt.Errorf("postgres: update aggregates: %w (stored %d, expected %d)", store.ErrVersionConflict, current, expectedVersion)
}

func scanPatient(row pgx.Row) (patient.Patient, error) {
	var (
		p                  patient.Patient
		totalCost, pending string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Age, &p.Gender, &p.Phone, &p.Email, &p.Address, &p.MedicalHistory,
		&p.ServicesUsed, &totalCost, &pending, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return patient.Patient{}, err
	}
	if p.ServicesUsed == nil {
		p.ServicesUsed = []string{}
	}
	var err error
	if p.TotalCost, err = parseMoney(totalCost); err != nil {
		return patient.Patient{}, err
	}
	if p.PendingAmount, err = parseMoney(pending); err != nil {
		return patient.Patient{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
