// Package core holds the domain types and pure calculations for the
// monthly allocation ledger.
//
// This file contains parsing between decimal strings and cents. All money
// is carried as int64 cents so aggregate comparisons are exact.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseAmountCents converts a decimal string to non-negative cents.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// performs half-up rounding on the third decimal place. Zero is valid
// (an allocation may be cleared back to nothing); negative values and
// anything that does not parse as a plain decimal are rejected with
// ErrNonNumeric.
//
// Examples:
//
//	ParseAmountCents("12.34")  -> 1234, nil
//	ParseAmountCents("12,34")  -> 1234, nil
//	ParseAmountCents("0")      -> 0, nil
//	ParseAmountCents("12.346") -> 1235, nil (rounds up)
func ParseAmountCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrNonNumeric
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrNonNumeric
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrNonNumeric
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(parts) == 2 && fracPart == "" {
		// A trailing separator ("12.") is not a number.
		return 0, ErrNonNumeric
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrNonNumeric
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrNonNumeric
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrNonNumeric
	}
	// Prevent overflow of iv*100 plus up to 99 fractional cents
	const maxSafeInt64 = (1<<63 - 1 - 99) / 100
	if iv > maxSafeInt64 {
		return 0, ErrNonNumeric
	}
	// Take first two fractional digits; half-up rounding on the third
	var fracCents int64
	if len(fracPart) > 0 {
		d1 := int64(fracPart[0] - '0')
		fracCents = d1 * 10
		if len(fracPart) > 1 {
			d2 := int64(fracPart[1] - '0')
			fracCents += d2
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}
	return iv*100 + fracCents, nil
}

// Units returns the major-unit value as a float64 for display purposes.
// Use cents for calculations.
func (m Money) Units() float64 {
	return float64(m.Cents) / 100.0
}

// Decimal formats the amount as a plain "123.45" string.
func (m Money) Decimal() string {
	sign := ""
	c := m.Cents
	if c < 0 {
		sign = "-"
		c = -c
	}
	return sign + strconv.FormatInt(c/100, 10) + "." + pad2(c%100)
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

func (m Money) IsNegative() bool {
	return m.Cents < 0
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrNonNumeric
	}
	return nil
}
