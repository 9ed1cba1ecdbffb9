// Package core provides money parsing and handling utilities.
//
// This file contains the parser used for user-entered amounts. Amounts are
// currency-agnostic magnitudes kept as decimals end to end.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user-entered decimal string to a non-negative amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// surrounding whitespace. Signs, exponents, thousands separators and any other
// characters are rejected with ErrInvalidAmount. Zero is a valid amount.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("500")   -> 500, nil
//	ParseAmount("-1")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	digits := 0
	for _, part := range parts {
		for _, r := range part {
			if !unicode.IsDigit(r) || r > unicode.MaxASCII {
				return decimal.Zero, ErrInvalidAmount
			}
			digits++
		}
	}
	if digits == 0 {
		return decimal.Zero, ErrInvalidAmount
	}

	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	s = strings.TrimSuffix(s, ".")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// Sum adds up a list of amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
