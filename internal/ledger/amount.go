package ledger

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts operator input into a non-negative amount. Blank,
// non-numeric and negative input all count as zero.
func ParseAmount(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// RawAmount keeps an amount exactly as submitted. It accepts JSON numbers,
// strings and null.
type RawAmount string

// UnmarshalJSON implements json.Unmarshaler.
func (a *RawAmount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*a = ""
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*a = RawAmount(str)
	default:
		*a = RawAmount(s)
	}
	return nil
}

// String returns the raw text.
func (a RawAmount) String() string { return string(a) }

// Input is a line item as typed by an operator.
type Input struct {
	Label       string    `json:"label"`
	Description string    `json:"description"`
	Amount      RawAmount `json:"amount"`
}

// Item converts the input, parsing the amount leniently.
func (in Input) Item() Item {
	return Item{
		Label:       in.Label,
		Description: in.Description,
		Amount:      ParseAmount(in.Amount.String()),
	}
}
