// Package money renders monetary values for API responses. Every money field
// leaves the service as {value, raw, class} so the UI never re-derives signs.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Sign hint classes consumed read-only by the UI.
const (
	ClassPositive = "text-green"
	ClassNegative = "text-red"
	ClassNeutral  = "text-gray"
)

// Amount is a display-ready monetary value. Raw keeps the numeric value for
// sorting; Value is the formatted string; Class is derived purely from sign.
type Amount struct {
	Value string  `json:"value"`
	Raw   float64 `json:"raw"`
	Class string  `json:"class"`
}

// FromDecimal builds a display amount from an exact decimal value.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount{
		Value: "$" + groupThousands(d.Abs().StringFixed(2)),
		Raw:   d.InexactFloat64(),
		Class: classOf(d),
	}
}

// Unpriced is the amount reported when no market price is available. It is
// rendered as unavailable rather than zero.
func Unpriced() Amount {
	return Amount{Value: "—", Raw: 0, Class: ClassNeutral}
}

func classOf(d decimal.Decimal) string {
	switch d.Sign() {
	case 1:
		return ClassPositive
	case -1:
		return ClassNegative
	default:
		return ClassNeutral
	}
}

// groupThousands inserts comma separators into the integer part of a fixed
// decimal string, e.g. "12345.67" -> "12,345.67".
func groupThousands(s string) string {
	intPart, fracPart, _ := strings.Cut(s, ".")
	if len(intPart) <= 3 {
		if fracPart == "" {
			return intPart
		}
		return intPart + "." + fracPart
	}
	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	if fracPart != "" {
		b.WriteByte('.')
		b.WriteString(fracPart)
	}
	return b.String()
}
