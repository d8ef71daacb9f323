// Package sqlite implements the record store on an embedded SQLite file using
// the pure Go modernc driver. Money is stored as fixed two-decimal text and
// timestamps as fixed-width UTC strings so both sort and compare as text.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/noah-isme/backend-klinik/internal/billing"
	"github.com/noah-isme/backend-klinik/internal/db"
	"github.com/noah-isme/backend-klinik/internal/store"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var _ billing.Store = (*Store)(nil)
var _ billing.Transactor = (*Store)(nil)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements the patient, billing, event, audit and analytics stores.
type Store struct {
	db  *sql.DB
	q   dbtx
	Now func() time.Time
}

// Open creates the parent directory, opens the database and applies migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single connection serialises writers and lets a transaction own the
	// database for its whole scope.
	conn.SetMaxOpenConns(1)

	m, err := db.NewSQLite(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := db.Run(m, db.Up); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return New(conn), nil
}

// New wraps an already migrated database handle.
func New(conn *sql.DB) *Store {
	return &Store{db: conn, q: conn}
}

// DB exposes the underlying handle, e.g. for migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn against a store bound to one transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(billing.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(&Store{db: s.db, q: tx, Now: s.Now}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", raw, err)
	}
	return t, nil
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func parseMoney(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sqlite: parse amount %q: %w", raw, err)
	}
	return d, nil
}

func nullString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: %s: %w", op, store.ErrNotFound)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("sqlite: %s: %w: %v", op, store.ErrDuplicate, err)
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

type scanner interface {
	Scan(dest ...any) error
}
