// Package invoice turns a finalized bill into a printable document.
package invoice

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-klinik/internal/ledger"
	"github.com/noah-isme/backend-klinik/internal/patient"
)

const (
	// DueDays is the payment term counted from the issue date.
	DueDays = 30
	// DateLayout renders dates as MM/DD/YYYY.
	DateLayout = "01/02/2006"
	// Title heads every invoice.
	Title = "MEDICAL BILLING INVOICE"
	// DefaultLinesPerPage is the number of item rows per page.
	DefaultLinesPerPage = 20

	numberLength = 8
)

// TaxRate is the flat rate applied to every invoice subtotal.
var TaxRate = decimal.RequireFromString("0.09")

// ErrSubtotalMismatch is returned when the items do not add up to the bill total.
var ErrSubtotalMismatch = errors.New("invoice: item subtotal does not match bill total")

// Issuer is the fixed identity printed next to the patient block.
type Issuer struct {
	Heading      string `json:"heading"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
}

// Footer closes the last page.
type Footer struct {
	Organization string   `json:"organization"`
	Website      string   `json:"website"`
	Contact      []string `json:"contact"`
}

var (
	DefaultIssuer = Issuer{
		Heading:      "PRESCRIBING PHYSICIAN'S INFORMATION",
		Name:         "Dr. Sarah Johnson",
		Phone:        "(555) 123-4567",
		AddressLine1: "123 Medical Center Drive",
		AddressLine2: "New York, NY 10001",
	}
	DefaultFooter = Footer{
		Organization: "Concordia Hill Hospital",
		Website:      "www.concordiahill.com",
		Contact: []string{
			"For more information or any issues or concerns,",
			"email us at invoices@concordiahill.com",
		},
	}
)

// Bill is the billing data an invoice is built from.
type Bill struct {
	ID          string
	IssueDate   time.Time
	Items       []ledger.Item
	TotalAmount decimal.Decimal
	Notes       string
	Status      string
}

// Party is the billed patient.
type Party struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Line is one row of the item table.
type Line struct {
	Item        string          `json:"item"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Document is a fully computed invoice, ready to render.
type Document struct {
	Title         string          `json:"title"`
	InvoiceNumber string          `json:"invoice_number"`
	BillID        string          `json:"bill_id"`
	Status        string          `json:"status,omitempty"`
	IssueDate     time.Time       `json:"issue_date"`
	DueDate       time.Time       `json:"due_date"`
	Patient       Party           `json:"patient"`
	Issuer        Issuer          `json:"issuer"`
	Lines         []Line          `json:"lines"`
	Notes         string          `json:"notes,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Footer        Footer          `json:"footer"`
	LinesPerPage  int             `json:"-"`
}

// Formatter builds documents. The zero value uses the default issuer,
// footer and page size.
type Formatter struct {
	Issuer       *Issuer
	Footer       *Footer
	LinesPerPage int
}

// Format computes the invoice for bill b issued to p.
func (f Formatter) Format(p patient.Patient, b Bill) (Document, error) {
	subtotal := ledger.Sum(b.Items)
	if !subtotal.Equal(b.TotalAmount) {
		return Document{}, ErrSubtotalMismatch
	}
	tax := subtotal.Mul(TaxRate).Round(2)

	lines := make([]Line, 0, len(b.Items))
	for _, it := range b.Items {
		lines = append(lines, Line{Item: it.Label, Description: it.Description, Amount: it.Amount})
	}

	issuer := DefaultIssuer
	if f.Issuer != nil {
		issuer = *f.Issuer
	}
	footer := DefaultFooter
	if f.Footer != nil {
		footer = *f.Footer
	}
	perPage := f.LinesPerPage
	if perPage <= 0 {
		perPage = DefaultLinesPerPage
	}

	return Document{
		Title:         Title,
		InvoiceNumber: Number(b.ID),
		BillID:        b.ID,
		Status:        b.Status,
		IssueDate:     b.IssueDate,
		DueDate:       b.IssueDate.AddDate(0, 0, DueDays),
		Patient: Party{
			ID:      p.ID,
			Name:    p.Name,
			Phone:   p.Phone,
			Address: p.Address,
			Email:   p.Email,
		},
		Issuer:       issuer,
		Lines:        lines,
		Notes:        strings.TrimSpace(b.Notes),
		Subtotal:     subtotal,
		TaxRate:      TaxRate,
		Tax:          tax,
		Total:        subtotal.Add(tax),
		Footer:       footer,
		LinesPerPage: perPage,
	}, nil
}

// Number derives the printed invoice number from a bill id.
func Number(billID string) string {
	if len(billID) <= numberLength {
		return billID
	}
	return billID[:numberLength]
}

// Money formats an amount with a dollar sign and two decimals.
func Money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
