// Package core provides money parsing and handling utilities.
//
// Amounts are kept as integer cents so that balance arithmetic stays exact.
// Parsing and the JSON codec go through decimal values; display goes through
// the currency tables of go-money.
package core

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Money is an amount in minor units (cents).
type Money struct {
	Cents int64
}

// MaxAmount is the largest amount a single transaction may carry. It matches
// the NUMERIC(14,2) columns of the remote schema.
var MaxAmount = Money{Cents: 99_999_999_999_999}

var (
	minCents = decimal.NewFromInt(math.MinInt64)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// Add returns m + n.
func (m Money) Add(n Money) Money { return Money{Cents: m.Cents + n.Cents} }

// CheckedAdd returns m + n and false when the sum leaves the int64 range.
func (m Money) CheckedAdd(n Money) (Money, bool) {
	sum := m.Cents + n.Cents
	if (n.Cents > 0 && sum < m.Cents) || (n.Cents < 0 && sum > m.Cents) {
		return Money{}, false
	}
	return Money{Cents: sum}, true
}

// Sub returns m - n.
func (m Money) Sub(n Money) Money { return Money{Cents: m.Cents - n.Cents} }

// Neg returns -m.
func (m Money) Neg() Money { return Money{Cents: -m.Cents} }

// IsZero reports whether m is zero.
func (m Money) IsZero() bool { return m.Cents == 0 }

// Validate checks that the amount is strictly positive and at most MaxAmount.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	if m.Cents > MaxAmount.Cents {
		return fmt.Errorf("%w: exceeds %s", ErrInvalidAmount, MaxAmount)
	}
	return nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String renders the amount with two fixed decimals, e.g. "120.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Format renders the amount for display in the given ISO currency,
// e.g. "$1,200.50". Unknown codes fall back to go-money's generic format.
func (m Money) Format(currency string) string {
	if currency == "" {
		currency = gomoney.USD
	}
	return gomoney.New(m.Cents, strings.ToUpper(currency)).Display()
}

// ParseAmount coerces free-form user input into Money.
//
// Both dot (12.34) and comma (12,34) separators are accepted and the value is
// rounded half away from zero to cents. Input that is not numeric, or whose
// cents do not fit in an int64, yields a zero amount rather than an error;
// callers reject zero through Validate.
//
// Examples:
//
//	ParseAmount("12.34")  -> 1234
//	ParseAmount("12,345") -> 1235
//	ParseAmount("abc")    -> 0
func ParseAmount(s string) Money {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}
	}
	m, ok := fromDecimal(d)
	if !ok {
		return Money{}
	}
	return m
}

func fromDecimal(d decimal.Decimal) (Money, bool) {
	cents := d.Round(2).Shift(2)
	if cents.LessThan(minCents) || cents.GreaterThan(maxCents) {
		return Money{}, false
	}
	return Money{Cents: cents.IntPart()}, true
}

// MarshalJSON encodes the amount as a JSON number in major units.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string in major units.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = Money{}
		return nil
	}
	data = bytes.Trim(data, `"`)
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("decode amount %q: %w", data, err)
	}
	v, ok := fromDecimal(d)
	if !ok {
		return fmt.Errorf("decode amount %q: out of range", data)
	}
	*m = v
	return nil
}
