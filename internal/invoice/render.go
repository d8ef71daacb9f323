package invoice

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	pageWidth    = 72
	partyWidth   = 36
	metaWidth    = 18
	itemWidth    = 22
	descWidth    = 30
	amountWidth  = 20
	totalsIndent = 40
	labelWidth   = 16
	valueWidth   = 16
)

// Render writes doc as fixed-width text. Pages are separated by a form feed
// line. Identical documents render to identical bytes.
func Render(w io.Writer, doc Document) error {
	out := &pageWriter{w: bufio.NewWriter(w)}
	perPage := doc.LinesPerPage
	if perPage <= 0 {
		perPage = DefaultLinesPerPage
	}
	pages := (len(doc.Lines) + perPage - 1) / perPage
	if pages == 0 {
		pages = 1
	}

	for page := 1; page <= pages; page++ {
		if page > 1 {
			out.line("\f")
		}
		if page == 1 {
			writeHeader(out, doc)
		} else {
			writeContinuation(out, doc)
		}
		start := (page - 1) * perPage
		end := start + perPage
		if end > len(doc.Lines) {
			end = len(doc.Lines)
		}
		writeTable(out, doc.Lines[start:end])
		if page == pages {
			writeClosing(out, doc)
		}
		out.blank()
		out.line(center(fmt.Sprintf("Page %d of %d", page, pages)))
	}
	return out.flush()
}

func writeHeader(out *pageWriter, doc Document) {
	out.line(rule("="))
	out.line(center(doc.Title))
	out.line(rule("="))
	out.blank()

	left := nonBlank(doc.Patient.Name, doc.Patient.Phone, doc.Patient.Address, doc.Patient.Email)
	right := nonBlank(doc.Issuer.Name, doc.Issuer.Phone, doc.Issuer.AddressLine1, doc.Issuer.AddressLine2)
	out.line(col("PATIENT INFORMATION", partyWidth) + fit(doc.Issuer.Heading, pageWidth-partyWidth))
	rows := len(left)
	if len(right) > rows {
		rows = len(right)
	}
	for i := 0; i < rows; i++ {
		var l, r string
		if i < len(left) {
			l = left[i]
		}
		if i < len(right) {
			r = right[i]
		}
		out.line(col(l, partyWidth) + fit(r, pageWidth-partyWidth))
	}
	out.blank()

	out.line(col("INVOICE NUMBER", metaWidth) + col("DATE", metaWidth) + col("INVOICE DUE DATE", metaWidth) + "AMOUNT DUE")
	out.line(col(doc.InvoiceNumber, metaWidth) +
		col(doc.IssueDate.Format(DateLayout), metaWidth) +
		col(doc.DueDate.Format(DateLayout), metaWidth) +
		Money(doc.Total))
	out.blank()
}

func writeContinuation(out *pageWriter, doc Document) {
	out.line(rule("="))
	out.line(center(doc.Title + " (continued)"))
	out.line(center("Invoice " + doc.InvoiceNumber))
	out.line(rule("="))
	out.blank()
}

func writeTable(out *pageWriter, lines []Line) {
	out.line(col("ITEM", itemWidth) + col("DESCRIPTION", descWidth) + right("AMOUNT", amountWidth))
	out.line(rule("-"))
	for _, l := range lines {
		out.line(col(l.Item, itemWidth) + col(l.Description, descWidth) + right(Money(l.Amount), amountWidth))
	}
	out.line(rule("-"))
}

func writeClosing(out *pageWriter, doc Document) {
	out.blank()
	out.line("NOTES")
	if doc.Notes == "" {
		out.line("None")
	} else {
		for _, l := range strings.Split(doc.Notes, "\n") {
			out.line(fit(strings.TrimSpace(l), pageWidth))
		}
	}
	out.blank()

	indent := strings.Repeat(" ", totalsIndent)
	out.line(indent + col("SUBTOTAL", labelWidth) + right(Money(doc.Subtotal), valueWidth))
	out.line(indent + col("TAX RATE", labelWidth) + right(doc.TaxRate.Shift(2).String()+"%", valueWidth))
	out.line(indent + col("TAX", labelWidth) + right(Money(doc.Tax), valueWidth))
	out.line(indent + col("TOTAL", labelWidth) + right(Money(doc.Total), valueWidth))
	out.blank()

	out.line(rule("="))
	out.line(center(doc.Footer.Organization))
	out.line(center(doc.Footer.Website))
	for _, c := range doc.Footer.Contact {
		out.line(center(c))
	}
}

type pageWriter struct {
	w   *bufio.Writer
	err error
}

// line writes s without trailing spaces.
func (p *pageWriter) line(s string) {
	if p.err != nil {
		return
	}
	_, p.err = p.w.WriteString(strings.TrimRight(s, " ") + "\n")
}

func (p *pageWriter) blank() { p.line("") }

func (p *pageWriter) flush() error {
	if p.err != nil {
		return p.err
	}
	return p.w.Flush()
}

func rule(ch string) string { return strings.Repeat(ch, pageWidth) }

func center(s string) string {
	s = fit(s, pageWidth)
	gap := (pageWidth - utf8.RuneCountInString(s)) / 2
	return strings.Repeat(" ", gap) + s
}

// fit truncates s to width runes, marking the cut with an ellipsis.
func fit(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	return string(r[:width-3]) + "..."
}

// col left-aligns s in a column of width, keeping one space of separation.
func col(s string, width int) string {
	s = fit(s, width-1)
	return s + strings.Repeat(" ", width-utf8.RuneCountInString(s))
}

func right(s string, width int) string {
	s = fit(s, width)
	return strings.Repeat(" ", width-utf8.RuneCountInString(s)) + s
}

func nonBlank(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
