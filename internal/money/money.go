// Package money provides exact-decimal helpers for invoice amounts.
// Binary floating point is never used for money fields (spec.md §9);
// every amount flows through github.com/shopspring/decimal.
package money

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Zero is decimal zero.
var Zero = decimal.Zero

// FromInt creates a decimal from an int64.
func FromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// FromString parses a plain decimal string (period-decimal, no thousands
// separators), e.g. "1234.56".
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

var digitsAndSeparators = regexp.MustCompile(`^-?[\d.,]+$`)

// ParseAmount parses an amount string that may use either comma-decimal
// ("1.234,56") or period-decimal ("1,234.56") formatting, normalizing
// to an exact decimal.Decimal (spec.md §4.4.3). It disambiguates by the
// position of the last separator: whichever of ',' or '.' appears last
// in the string is treated as the decimal point, and the other (if
// present) as a thousands separator.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("money: empty amount")
	}
	if !digitsAndSeparators.MatchString(s) {
		// Anything other than digits and separators (a leading '+',
		// exponent notation, stray text) goes to decimal's own parser,
		// which accepts what it can read and rejects the rest.
		return decimal.NewFromString(s)
	}

	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')

	var normalized string
	switch {
	case lastComma == -1 && lastDot == -1:
		normalized = s
	case lastComma > lastDot:
		// Comma is the decimal point: "1.234,56" -> "1234.56"
		normalized = strings.ReplaceAll(s[:lastComma], ".", "")
		normalized += "." + s[lastComma+1:]
	case lastDot > lastComma:
		// Dot is the decimal point: "1,234.56" -> "1234.56"
		normalized = strings.ReplaceAll(s[:lastDot], ",", "")
		normalized += "." + s[lastDot+1:]
	default:
		normalized = s
	}

	return decimal.NewFromString(normalized)
}

// Mul multiplies two decimals, rounding to 2 places.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Round(2)
}

// Sum sums a slice of decimals.
func Sum(values []decimal.Decimal) decimal.Decimal {
	result := Zero
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}

// WithinTolerance reports whether |a-b| <= tolerance.
func WithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// RoundTrip2DP reports whether parsing s and re-serializing at 2
// fractional digits reproduces the same value — the decimal-exactness
// property from spec.md §8.1.
func RoundTrip2DP(s string) (bool, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return false, err
	}
	rounded := d.Round(2)
	reparsed, err := decimal.NewFromString(rounded.StringFixed(2))
	if err != nil {
		return false, err
	}
	return rounded.Equal(reparsed), nil
}
