package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Overview summarises the clinic's billing position.
type Overview struct {
	TotalPatients       int             `json:"total_patients"`
	PatientsWithPending int             `json:"patients_with_pending"`
	BillsIssued         int             `json:"bills_issued"`
	PaidBills           int             `json:"paid_bills"`
	TotalBilled         decimal.Decimal `json:"total_billed"`
	TotalRevenue        decimal.Decimal `json:"total_revenue"`
	PendingAmount       decimal.Decimal `json:"pending_amount"`
}

// MonthRevenue is the completed-payment revenue for one calendar month.
type MonthRevenue struct {
	Month    string          `json:"month"`
	Revenue  decimal.Decimal `json:"revenue"`
	Payments int             `json:"payments"`
}

// Querier defines the database access required for analytics operations.
type Querier interface {
	Overview(ctx context.Context) (Overview, error)
	// RevenueByMonth returns months with completed payments at or after
	// since, oldest first, keyed YYYY-MM in UTC.
	RevenueByMonth(ctx context.Context, since time.Time) ([]MonthRevenue, error)
}

// Service provides cached access to billing analytics.
type Service struct {
	Q             Querier
	R             *redis.Client
	TTL           time.Duration
	DefaultMonths int
	Now           func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// Overview returns clinic-wide totals.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	if s == nil || s.Q == nil {
		return Overview{}, fmt.Errorf("analytics service not configured")
	}
	key := cacheKey("an", "overview")
	var cached Overview
	if s.load(ctx, key, &cached) {
		return cached, nil
	}
	ov, err := s.Q.Overview(ctx)
	if err != nil {
		return Overview{}, err
	}
	s.store(ctx, key, ov)
	return ov, nil
}

// MonthlyRevenue returns revenue for the last months calendar months,
// including the current one. Months without payments are reported as zero.
func (s *Service) MonthlyRevenue(ctx context.Context, months int) ([]MonthRevenue, error) {
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("analytics service not configured")
	}
	if months <= 0 {
		months = s.DefaultMonths
	}
	if months <= 0 {
		months = 6
	}
	now := s.now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	key := cacheKey("an", "revenue", first.Format("2006-01"), months)
	var cached []MonthRevenue
	if s.load(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.Q.RevenueByMonth(ctx, first)
	if err != nil {
		return nil, err
	}
	byMonth := make(map[string]MonthRevenue, len(rows))
	for _, row := range rows {
		byMonth[row.Month] = row
	}
	out := make([]MonthRevenue, 0, months)
	for i := 0; i < months; i++ {
		label := first.AddDate(0, i, 0).Format("2006-01")
		row, ok := byMonth[label]
		if !ok {
			row = MonthRevenue{Month: label, Revenue: decimal.Zero}
		}
		out = append(out, row)
	}
	s.store(ctx, key, out)
	return out, nil
}

// Invalidate drops cached analytics after billing writes.
func (s *Service) Invalidate(ctx context.Context) error {
	if s == nil || s.R == nil {
		return nil
	}
	iter := s.R.Scan(ctx, 0, "an:*", 100).Iterator()
	keys := make([]string, 0)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.R.Del(ctx, keys...).Err()
}

func (s *Service) load(ctx context.Context, key string, dst any) bool {
	if s.R == nil || s.TTL <= 0 {
		return false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.R.Set(ctx, key, data, s.TTL).Err()
}
