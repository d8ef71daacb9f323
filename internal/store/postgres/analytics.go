package postgres

import (
	"context"
	"time"

	"github.com/noah-isme/backend-klinik/internal/analytics"
)

// Overview implements analytics.Querier.
func (s *Store) Overview(ctx context.Context) (analytics.Overview, error) {
	var (
		ov                            analytics.Overview
		billed, revenue, pendingTotal string
	)
	err := s.q.QueryRow(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM patients),
		  (SELECT COUNT(*) FROM patients WHERE pending_amount > 0),
		  (SELECT COALESCE(SUM(pending_amount), 0)::text FROM patients),
		  (SELECT COUNT(*) FROM bills WHERE status <> 'cancelled'),
		  (SELECT COUNT(*) FROM bills WHERE status = 'paid'),
		  (SELECT COALESCE(SUM(total_amount), 0)::text FROM bills WHERE status <> 'cancelled'),
		  (SELECT COALESCE(SUM(amount), 0)::text FROM payments WHERE status = 'completed')`,
	).Scan(&ov.TotalPatients, &ov.PatientsWithPending, &pendingTotal, &ov.BillsIssued, &ov.PaidBills, &billed, &revenue)
	if err != nil {
		return analytics.Overview{}, mapError("overview", err)
	}
	if ov.PendingAmount, err = parseMoney(pendingTotal); err != nil {
		return analytics.Overview{}, err
	}
	if ov.TotalBilled, err = parseMoney(billed); err != nil {
		return analytics.Overview{}, err
	}
	if ov.TotalRevenue, err = parseMoney(revenue); err != nil {
		return analytics.Overview{}, err
	}
	return ov, nil
}

// RevenueByMonth implements analytics.Querier.
func (s *Store) RevenueByMonth(ctx context.Context, since time.Time) ([]analytics.MonthRevenue, error) {
	rows, err := s.q.Query(ctx, `
		SELECT to_char(date_trunc('month', paid_at AT TIME ZONE 'UTC'), 'YYYY-MM') AS month,
		       SUM(amount)::text, COUNT(*)
		FROM payments
		WHERE status = 'completed' AND paid_at >= $1
		GROUP BY 1
		ORDER BY 1`, since)
	if err != nil {
		return nil, mapError("revenue by month", err)
	}
	defer rows.Close()
	out := make([]analytics.MonthRevenue, 0)
	for rows.Next() {
		var row analytics.MonthRevenue
		var revenue string
		if err := rows.Scan(&row.Month, &revenue, &row.Payments); err != nil {
			return nil, mapError("revenue by month", err)
		}
		if row.Revenue, err = parseMoney(revenue); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, mapError("revenue by month", rows.Err())
}
