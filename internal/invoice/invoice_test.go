package invoice_test

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-klinik/internal/invoice"
	"github.com/noah-isme/backend-klinik/internal/ledger"
	"github.com/noah-isme/backend-klinik/internal/patient"
)

var update = flag.Bool("update", false, "rewrite golden files")

func samplePatient() patient.Patient {
	return patient.Patient{
		ID:      "9d7c1f0e-0000-4000-8000-000000000001",
		Name:    "Jane Doe",
		Phone:   "555-010-2020",
		Address: "42 Harbor Lane, Springfield",
		Email:   "jane.doe@example.com",
	}
}

func item(label, desc, amount string) ledger.Item {
	return ledger.Item{Label: label, Description: desc, Amount: decimal.RequireFromString(amount)}
}

func sampleBill(items []ledger.Item, notes string) invoice.Bill {
	return invoice.Bill{
		ID:          "3f2a9c1e-7b4d-4e8a-9c2f-1a2b3c4d5e6f",
		IssueDate:   time.Date(2025, time.January, 15, 10, 30, 0, 0, time.UTC),
		Items:       items,
		TotalAmount: ledger.Sum(items),
		Notes:       notes,
		Status:      "pending",
	}
}

func render(t *testing.T, doc invoice.Document) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, invoice.Render(&buf, doc))
	return buf.Bytes()
}

func assertGolden(t *testing.T, name string, got []byte) {
	t.Helper()
	path := filepath.Join("testdata", name)
	if *update {
		require.NoError(t, os.WriteFile(path, got, 0o644))
	}
	want, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(want), string(got))
}

func TestFormatComputesTotals(t *testing.T) {
	bill := sampleBill([]ledger.Item{
		item("A", "Consultation visit", "100"),
		item("B", "Lab panel", "50"),
	}, "Follow-up in two weeks")

	doc, err := invoice.Formatter{}.Format(samplePatient(), bill)
	require.NoError(t, err)

	require.Equal(t, "150.00", doc.Subtotal.StringFixed(2))
	require.Equal(t, "13.50", doc.Tax.StringFixed(2))
	require.Equal(t, "163.50", doc.Total.StringFixed(2))
	require.Equal(t, "0.09", doc.TaxRate.String())
	require.Equal(t, bill.IssueDate.AddDate(0, 0, 30), doc.DueDate)
	require.Equal(t, "3f2a9c1e", doc.InvoiceNumber)
	require.Equal(t, invoice.Title, doc.Title)
	require.Equal(t, "Dr. Sarah Johnson", doc.Issuer.Name)
	require.Len(t, doc.Lines, 2)
}

func TestFormatRejectsMismatchedTotal(t *testing.T) {
	bill := sampleBill([]ledger.Item{item("A", "", "100")}, "")
	bill.TotalAmount = decimal.NewFromInt(90)
	_, err := invoice.Formatter{}.Format(samplePatient(), bill)
	require.ErrorIs(t, err, invoice.ErrSubtotalMismatch)
}

func TestRenderIsDeterministic(t *testing.T) {
	bill := sampleBill([]ledger.Item{
		item("A", "Consultation visit", "100"),
		item("B", "Lab panel", "50"),
	}, "Follow-up in two weeks")
	doc, err := invoice.Formatter{}.Format(samplePatient(), bill)
	require.NoError(t, err)

	first := render(t, doc)
	second := render(t, doc)
	require.Equal(t, first, second)
	assertGolden(t, "invoice_two_items.golden", first)
}

func TestRenderPaginates(t *testing.T) {
	bill := sampleBill([]ledger.Item{
		item("Consultation", "General physician consultation", "100"),
		item("X-ray", "Chest X-ray, two views, with radiologist report", "200"),
		item("Blood test", "Complete blood count", "45.50"),
	}, "")
	doc, err := invoice.Formatter{LinesPerPage: 2}.Format(samplePatient(), bill)
	require.NoError(t, err)
	require.Equal(t, "31.10", doc.Tax.StringFixed(2))

	out := render(t, doc)
	require.Equal(t, 1, bytes.Count(out, []byte("\f")))
	assertGolden(t, "invoice_paginated.golden", out)
}

func TestNumberShortIDs(t *testing.T) {
	require.Equal(t, "abc", invoice.Number("abc"))
	require.Equal(t, "12345678", invoice.Number("1234567890"))
}
