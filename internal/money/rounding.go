package money

import "github.com/shopspring/decimal"

// RoundHalfUp rounds to two decimal places, halves away from zero.
// Stored balances are never rounded; this is for derived ratios only.
func RoundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Percent returns part/whole*100 rounded half-up to two places.
// A zero whole yields zero.
func Percent(part, whole Money) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	ratio := part.Decimal().Div(whole.Decimal()).Mul(hundred)
	return RoundHalfUp(ratio)
}
