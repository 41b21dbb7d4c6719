// Package money implements exact fixed-point amounts for order and debt
// bookkeeping. Amounts are integer counts of the minor unit (two decimals).
package money

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Scale is the number of fractional digits carried by Money.
const Scale = 2

const minorPerMajor = 100

var (
	// ErrPrecision is returned when an input carries more than two fractional digits.
	ErrPrecision = errors.New("money: more than two fractional digits")
	// ErrOverflow is returned when an input does not fit the int64 range.
	ErrOverflow = errors.New("money: amount out of range")
	// ErrSyntax is returned for inputs that are not decimal numbers.
	ErrSyntax = errors.New("money: invalid amount")
)

var (
	hundred  = decimal.NewFromInt(minorPerMajor)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Money is an amount in minor units. Arithmetic is integer-only.
type Money int64

// Zero is the zero amount.
const Zero Money = 0

// FromMinor wraps a minor-unit count.
func FromMinor(cents int64) Money { return Money(cents) }

// FromMajor builds an amount from whole units, e.g. FromMajor(20) is 20.00.
func FromMajor(units int64) Money { return Money(units * minorPerMajor) }

// Parse reads a decimal string such as "20", "20.5" or "-3.25".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	return FromDecimal(d)
}

// FromDecimal converts an exact decimal, rejecting sub-cent precision.
func FromDecimal(d decimal.Decimal) (Money, error) {
	scaled := d.Mul(hundred)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %s", ErrPrecision, d.String())
	}
	if scaled.GreaterThan(maxMinor) || scaled.LessThan(minMinor) {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, d.String())
	}
	return Money(scaled.IntPart()), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Minor returns the raw minor-unit count.
func (m Money) Minor() int64 { return int64(m) }

// Decimal returns the amount as an exact decimal in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -Scale)
}

func (m Money) Add(other Money) Money { return m + other }

func (m Money) Sub(other Money) Money { return m - other }

// Mul multiplies by a whole quantity. Use CheckedMul for untrusted input.
func (m Money) Mul(qty int64) Money { return m * Money(qty) }

// CheckedAdd adds other, returning ErrOverflow instead of wrapping.
func (m Money) CheckedAdd(other Money) (Money, error) {
	sum := m + other
	if (other > 0 && sum < m) || (other < 0 && sum > m) {
		return 0, fmt.Errorf("%w: %s + %s", ErrOverflow, m, other)
	}
	return sum, nil
}

// CheckedMul multiplies by a whole quantity, returning ErrOverflow instead of
// wrapping.
func (m Money) CheckedMul(qty int64) (Money, error) {
	product := decimal.NewFromInt(int64(m)).Mul(decimal.NewFromInt(qty))
	if product.GreaterThan(maxMinor) || product.LessThan(minMinor) {
		return 0, fmt.Errorf("%w: %s x %d", ErrOverflow, m, qty)
	}
	return Money(product.IntPart()), nil
}

func (m Money) Negate() Money { return -m }

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(other Money) int {
	switch {
	case m < other:
		return -1
	case m > other:
		return 1
	default:
		return 0
	}
}

func (m Money) IsZero() bool     { return m == 0 }
func (m Money) IsPositive() bool { return m > 0 }
func (m Money) IsNegative() bool { return m < 0 }

// Min returns the smaller amount.
func (m Money) Min(other Money) Money {
	if m < other {
		return m
	}
	return other
}

// ClampZero floors the amount at zero.
func (m Money) ClampZero() Money {
	if m < 0 {
		return 0
	}
	return m
}

// String renders the plain two-decimal form, e.g. "1234.50".
func (m Money) String() string {
	major, minor, neg := m.split()
	if neg {
		return fmt.Sprintf("-%d.%02d", major, minor)
	}
	return fmt.Sprintf("%d.%02d", major, minor)
}

var displayPrinter = message.NewPrinter(language.English)

// Format renders the amount with thousands grouping, e.g. "1,234.50".
func (m Money) Format() string {
	major, minor, neg := m.split()
	out := displayPrinter.Sprintf("%d.%02d", major, minor)
	if neg {
		return "-" + out
	}
	return out
}

func (m Money) split() (major, minor uint64, neg bool) {
	v := int64(m)
	neg = v < 0
	abs := uint64(v)
	if neg {
		abs = uint64(-(v + 1)) + 1
	}
	return abs / minorPerMajor, abs % minorPerMajor, neg
}

// MarshalJSON encodes the amount as a two-decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts a decimal string or a JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if bytes.Equal(raw, []byte("null")) {
		return nil
	}
	raw = bytes.Trim(raw, `"`)
	parsed, err := Parse(string(raw))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Sum adds up all amounts.
func Sum(values ...Money) Money {
	var total Money
	for _, v := range values {
		total += v
	}
	return total
}
