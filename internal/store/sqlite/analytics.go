package sqlite

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-klinik/internal/analytics"
)

// Overview implements analytics.Querier. SQLite has no decimal type, so
// money is summed here rather than in SQL.
func (s *Store) Overview(ctx context.Context) (analytics.Overview, error) {
	ov := analytics.Overview{TotalBilled: decimal.Zero, TotalRevenue: decimal.Zero, PendingAmount: decimal.Zero}

	rows, err := s.q.QueryContext(ctx, `SELECT pending_amount FROM patients`)
	if err != nil {
		return ov, mapError("overview patients", err)
	}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return ov, mapError("overview patients", err)
		}
		amount, err := parseMoney(raw)
		if err != nil {
			rows.Close()
			return ov, err
		}
		ov.TotalPatients++
		if amount.IsPositive() {
			ov.PatientsWithPending++
			ov.PendingAmount = ov.PendingAmount.Add(amount)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ov, mapError("overview patients", err)
	}

	rows, err = s.q.QueryContext(ctx, `SELECT total_amount, status FROM bills WHERE status <> 'cancelled'`)
	if err != nil {
		return ov, mapError("overview bills", err)
	}
	for rows.Next() {
		var raw, status string
		if err := rows.Scan(&raw, &status); err != nil {
			rows.Close()
			return ov, mapError("overview bills", err)
		}
		amount, err := parseMoney(raw)
		if err != nil {
			rows.Close()
			return ov, err
		}
		ov.BillsIssued++
		if status == "paid" {
			ov.PaidBills++
		}
		ov.TotalBilled = ov.TotalBilled.Add(amount)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ov, mapError("overview bills", err)
	}

	rows, err = s.q.QueryContext(ctx, `SELECT amount FROM payments WHERE status = 'completed'`)
	if err != nil {
		return ov, mapError("overview payments", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return ov, mapError("overview payments", err)
		}
		amount, err := parseMoney(raw)
		if err != nil {
			return ov, err
		}
		ov.TotalRevenue = ov.TotalRevenue.Add(amount)
	}
	return ov, mapError("overview payments", rows.Err())
}

// RevenueByMonth implements analytics.Querier.
func (s *Store) RevenueByMonth(ctx context.Context, since time.Time) ([]analytics.MonthRevenue, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT substr(paid_at, 1, 7) AS month, amount FROM payments
		 WHERE status = 'completed' AND paid_at >= ? ORDER BY paid_at`, formatTime(since))
	if err != nil {
		return nil, mapError("revenue by month", err)
	}
	defer rows.Close()

	out := make([]analytics.MonthRevenue, 0)
	for rows.Next() {
		var month, raw string
		if err := rows.Scan(&month, &raw); err != nil {
			return nil, mapError("revenue by month", err)
		}
		amount, err := parseMoney(raw)
		if err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].Month == month {
			out[n-1].Revenue = out[n-1].Revenue.Add(amount)
			out[n-1].Payments++
			continue
		}
		out = append(out, analytics.MonthRevenue{Month: month, Revenue: amount, Payments: 1})
	}
	return out, mapError("revenue by month", rows.Err())
}
