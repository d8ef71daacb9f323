package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-klinik/internal/auth"
	"github.com/noah-isme/backend-klinik/internal/billing"
	"github.com/noah-isme/backend-klinik/internal/ledger"
	"github.com/noah-isme/backend-klinik/internal/patient"
	"github.com/noah-isme/backend-klinik/internal/store/sqlite"
)

const testSecret = "billingctl-test-secret-0123456789"

func setEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctl.db")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("REDIS_URL", "")
	t.Setenv("AUTH_JWT_SECRET", testSecret)
	t.Setenv("LOG_LEVEL", "error")
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedBill(t *testing.T, path string) (string, string) {
	t.Helper()
	st, err := sqlite.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	p, err := (&patient.Service{Store: st, Log: zerolog.Nop()}).Create(ctx, patient.CreateInput{Name: "Jane Doe", Phone: "5551234567"})
	require.NoError(t, err)
	res, err := (&billing.Service{Store: st, Log: zerolog.Nop(), Atomic: true}).GenerateOrUpdateBill(ctx, billing.Submission{
		Kind:      billing.KindNewBill,
		PatientID: p.ID,
		Items: []ledger.Item{
			{Label: "Consultation", Amount: decimal.NewFromInt(100)},
			{Label: "Blood test", Amount: decimal.NewFromInt(50)},
		},
		PaidAmount: decimal.Zero,
	})
	require.NoError(t, err)
	return p.ID, res.Bill.ID
}

func TestTokenIssue(t *testing.T) {
	setEnv(t)
	out, err := run(t, "token", "issue", "--subject", "desk-1", "--role", auth.RoleAdmin)
	require.NoError(t, err)

	tokens, err := auth.NewTokens(auth.Config{Secret: testSecret})
	require.NoError(t, err)
	claims, err := tokens.Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "desk-1", claims.Subject)
	require.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestTokenIssueRejectsUnknownRole(t *testing.T) {
	setEnv(t)
	_, err := run(t, "token", "issue", "--subject", "desk-1", "--role", "janitor")
	require.Error(t, err)
}

func TestMigrateUpIsRepeatable(t *testing.T) {
	setEnv(t)
	out, err := run(t, "migrate", "up")
	require.NoError(t, err)
	require.Contains(t, out, "migrations up: ok")
	_, err = run(t, "migrate", "up")
	require.NoError(t, err)
}

func TestRecomputeFlags(t *testing.T) {
	setEnv(t)
	_, err := run(t, "recompute")
	require.Error(t, err)
	_, err = run(t, "recompute", "--all", "--patient", "x")
	require.Error(t, err)
}

func TestRecomputeAndInvoice(t *testing.T) {
	path := setEnv(t)
	patientID, billID := seedBill(t, path)

	out, err := run(t, "recompute", "--patient", patientID)
	require.NoError(t, err)
	require.Contains(t, out, "pending=150.00")
	require.Contains(t, out, "repaired=false")

	out, err = run(t, "recompute", "--all")
	require.NoError(t, err)
	require.Contains(t, out, "repaired 0 patients")

	out, err = run(t, "invoice", "--patient", patientID, "--bill", billID)
	require.NoError(t, err)
	require.Contains(t, out, "MEDICAL BILLING INVOICE")
	require.Contains(t, out, "163.50")

	out, err = run(t, "invoice", "--patient", patientID, "--bill", billID, "--json")
	require.NoError(t, err)
	require.Contains(t, out, `"invoice_number"`)
}
