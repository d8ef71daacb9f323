// Package ledger manages the editable list of line items behind a bill draft.
package ledger

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrOutOfRange is returned when an item index does not exist.
	ErrOutOfRange = errors.New("item index out of range")
	// ErrUnknownField is returned when UpdateItem receives an unsupported field name.
	ErrUnknownField = errors.New("unknown item field")
)

// Field names an editable attribute of an Item.
type Field string

const (
	FieldLabel       Field = "label"
	FieldDescription Field = "description"
	FieldAmount      Field = "amount"
)

// Item is a single billable entry.
type Item struct {
	Label       string          `json:"label"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Blank reports whether the item carries no label, description or charge.
func (i Item) Blank() bool {
	return strings.TrimSpace(i.Label) == "" &&
		strings.TrimSpace(i.Description) == "" &&
		!i.Amount.IsPositive()
}

// Ledger is an ordered list of items that always holds at least one entry.
// It is not safe for concurrent use.
type Ledger struct {
	items []Item
}

// New returns a ledger holding a single blank item.
func New() *Ledger {
	return &Ledger{items: []Item{{Amount: decimal.Zero}}}
}

// FromItems builds a ledger from existing items. Negative amounts are clamped to zero.
func FromItems(items []Item) *Ledger {
	l := &Ledger{items: make([]Item, 0, len(items))}
	for _, it := range items {
		if it.Amount.IsNegative() {
			it.Amount = decimal.Zero
		}
		l.items = append(l.items, it)
	}
	if len(l.items) == 0 {
		l.items = append(l.items, Item{Amount: decimal.Zero})
	}
	return l
}

// FromInputs builds a ledger from operator input, parsing amounts leniently.
func FromInputs(inputs []Input) *Ledger {
	items := make([]Item, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, in.Item())
	}
	return FromItems(items)
}

// Len returns the number of items, blank ones included.
func (l *Ledger) Len() int { return len(l.items) }

// AddItem appends a zero-valued blank item.
func (l *Ledger) AddItem() {
	l.items = append(l.items, Item{Amount: decimal.Zero})
}

// RemoveItem drops the item at index. Removing the last remaining item, or an
// index that does not exist, leaves the ledger unchanged.
func (l *Ledger) RemoveItem(index int) {
	if len(l.items) <= 1 || index < 0 || index >= len(l.items) {
		return
	}
	l.items = append(l.items[:index], l.items[index+1:]...)
}

// UpdateItem replaces one field of the item at index.
func (l *Ledger) UpdateItem(index int, field Field, value string) error {
	if index < 0 || index >= len(l.items) {
		return ErrOutOfRange
	}
	switch field {
	case FieldLabel:
		l.items[index].Label = value
	case FieldDescription:
		l.items[index].Description = value
	case FieldAmount:
		l.items[index].Amount = ParseAmount(value)
	default:
		return ErrUnknownField
	}
	return nil
}

// Items returns a copy of the current items.
func (l *Ledger) Items() []Item {
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

// Compact returns the items that are not blank.
func (l *Ledger) Compact() []Item {
	out := make([]Item, 0, len(l.items))
	for _, it := range l.items {
		if it.Blank() {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Total sums item amounts on every call.
func (l *Ledger) Total() decimal.Decimal {
	return Sum(l.items)
}

// ServicesSummary joins the non-blank labels in order.
func (l *Ledger) ServicesSummary() string {
	return Summary(l.items)
}

// Snapshot is a consistent view of a ledger's items and derived values.
type Snapshot struct {
	Items           []Item          `json:"items"`
	Total           decimal.Decimal `json:"total"`
	ServicesSummary string          `json:"services_summary"`
}

// Snapshot captures items, total and summary from the same state.
func (l *Ledger) Snapshot() Snapshot {
	items := l.Items()
	return Snapshot{Items: items, Total: Sum(items), ServicesSummary: Summary(items)}
}

// Sum adds the amounts of items, ignoring negative values.
func Sum(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.Amount.IsPositive() {
			total = total.Add(it.Amount)
		}
	}
	return total
}

// Summary returns the comma-joined non-blank labels of items.
func Summary(items []Item) string {
	labels := Labels(items)
	return strings.Join(labels, ", ")
}

// Labels returns the trimmed non-blank labels of items in order.
func Labels(items []Item) []string {
	labels := make([]string, 0, len(items))
	for _, it := range items {
		if label := strings.TrimSpace(it.Label); label != "" {
			labels = append(labels, label)
		}
	}
	return labels
}
