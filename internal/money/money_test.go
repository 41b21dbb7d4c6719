package money

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := map[string]Money{
		"20":      2000,
		"20.5":    2050,
		"0.01":    1,
		"-3.25":   -325,
		"100.000": 10000,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseRejectsSubCentPrecision(t *testing.T) {
	_, err := Parse("0.001")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPrecision))

	_, err = Parse("abc")
	assert.True(t, errors.Is(err, ErrSyntax))

	_, err = Parse("99999999999999999999")
	assert.True(t, errors.Is(err, ErrOverflow))
}

func TestArithmeticIsExact(t *testing.T) {
	tenth := MustParse("0.10")
	var total Money
	for i := 0; i < 10; i++ {
		total = total.Add(tenth)
	}
	assert.Equal(t, FromMajor(1), total)

	assert.Equal(t, MustParse("60.00"), MustParse("20.00").Mul(3))
	assert.Equal(t, MustParse("-5.00"), MustParse("5.00").Negate())
	assert.Equal(t, Zero, MustParse("-1.00").ClampZero())
	assert.Equal(t, MustParse("3.00"), MustParse("3.00").Min(MustParse("4.00")))
	assert.Equal(t, -1, MustParse("1.00").Cmp(MustParse("1.01")))
	assert.Equal(t, MustParse("6.60"), Sum(MustParse("1.10"), MustParse("2.20"), MustParse("3.30")))
}

func TestCheckedArithmeticReportsOverflow(t *testing.T) {
	got, err := MustParse("2.00").CheckedMul(3)
	require.NoError(t, err)
	assert.Equal(t, MustParse("6.00"), got)

	_, err = MustParse("2.00").CheckedMul(1<<61 + 1)
	assert.True(t, errors.Is(err, ErrOverflow))
	_, err = FromMinor(-2).CheckedMul(math.MaxInt64)
	assert.True(t, errors.Is(err, ErrOverflow))

	got, err = FromMinor(math.MaxInt64 - 1).CheckedAdd(1)
	require.NoError(t, err)
	assert.Equal(t, FromMinor(math.MaxInt64), got)

	_, err = FromMinor(math.MaxInt64).CheckedAdd(1)
	assert.True(t, errors.Is(err, ErrOverflow))
	_, err = FromMinor(math.MinInt64).CheckedAdd(-1)
	assert.True(t, errors.Is(err, ErrOverflow))
}

func TestStringAndFormat(t *testing.T) {
	assert.Equal(t, "20.00", MustParse("20").String())
	assert.Equal(t, "-0.05", MustParse("-0.05").String())
	assert.Equal(t, "1,234,567.89", MustParse("1234567.89").Format())
	assert.Equal(t, "-1,000.00", MustParse("-1000").Format())
}

func TestJSON(t *testing.T) {
	type payload struct {
		Amount Money `json:"amount"`
	}
	raw, err := json.Marshal(payload{Amount: MustParse("20.5")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"20.50"}`, string(raw))

	var fromString payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"12.34"}`), &fromString))
	assert.Equal(t, Money(1234), fromString.Amount)

	var fromNumber payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":7.5}`), &fromNumber))
	assert.Equal(t, Money(750), fromNumber.Amount)

	var bad payload
	assert.Error(t, json.Unmarshal([]byte(`{"amount":"1.234"}`), &bad))
}

func TestPercentRoundsHalfUp(t *testing.T) {
	// 1/8 = 12.5%
	assert.True(t, decimal.RequireFromString("12.5").Equal(Percent(MustParse("1.00"), MustParse("8.00"))))
	// 1/3 = 33.333..% -> 33.33
	assert.True(t, decimal.RequireFromString("33.33").Equal(Percent(MustParse("1.00"), MustParse("3.00"))))
	// 0.005 -> 0.01
	assert.True(t, decimal.RequireFromString("0.01").Equal(RoundHalfUp(decimal.RequireFromString("0.005"))))
	assert.True(t, Percent(MustParse("1.00"), Zero).IsZero())
}
