package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-klinik/internal/config"
)

func TestLoadDefaultsForSQLite(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"STORE_DRIVER":          "sqlite",
		"SQLITE_PATH":           "/tmp/klinik-test.db",
		"AUTH_REQUIRED":         "false",
		"DATABASE_URL":          "",
		"BILLING_EXCESS_POLICY": "",
		"BILLING_ATOMIC_WRITES": "",
		"BILLING_LOCK_TTL":      "",
		"RATE_LIMIT":            "",
		"PORT":                  "9090",
	})
	require.NoError(t, err)
	require.Equal(t, config.DriverSQLite, cfg.StoreDriver)
	require.Equal(t, "return_change", cfg.ExcessPolicy)
	require.True(t, cfg.AtomicWrites)
	require.Equal(t, 10*time.Second, cfg.LockTTL)
	require.Equal(t, "120-M", cfg.RateLimit)
	require.Equal(t, ":9090", cfg.HTTPAddr())
}

func TestLoadRejectsMissingSettings(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"STORE_DRIVER":          "postgres",
		"DATABASE_URL":          "",
		"AUTH_REQUIRED":         "true",
		"AUTH_JWT_SECRET":       "",
		"BILLING_EXCESS_POLICY": "keep_it",
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "DATABASE_URL")
	require.ErrorContains(t, err, "AUTH_JWT_SECRET")
	require.ErrorContains(t, err, "BILLING_EXCESS_POLICY")
}

func TestLoadParsesOverrides(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"STORE_DRIVER":           "postgres",
		"DATABASE_URL":           "postgres://localhost/klinik",
		"AUTH_JWT_SECRET":        "s3cret",
		"AUTH_REQUIRED":          "",
		"BILLING_EXCESS_POLICY":  "apply_to_balance",
		"BILLING_ATOMIC_WRITES":  "off",
		"INVOICE_LINES_PER_PAGE": "12",
		"BILLING_LOCK_TTL":       "not-a-duration",
	})
	require.NoError(t, err)
	require.True(t, cfg.AuthRequired)
	require.Equal(t, "apply_to_balance", cfg.ExcessPolicy)
	require.False(t, cfg.AtomicWrites)
	require.Equal(t, 12, cfg.InvoiceLinesPerPage)
	require.Equal(t, 10*time.Second, cfg.LockTTL)
}
