package orders

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

func sampleOrder() Order {
	lines := []Line{
		{ProductID: 1, Quantity: 3, UnitPrice: money.MustParse("20.00"), CostPrice: money.MustParse("12.00")},
		{ProductID: 2, Quantity: 1, UnitPrice: money.MustParse("4.50"), CostPrice: money.MustParse("3.00")},
	}
	return Order{ID: 7, CustomerID: 1, Lines: lines, Total: Total(lines), SmallBottles: 2}
}

func TestStatusDerivedFromAmountPaid(t *testing.T) {
	o := sampleOrder()
	assert.Equal(t, money.MustParse("64.50"), o.Total)
	assert.Equal(t, StatusPending, o.Status())
	assert.Equal(t, o.Total, o.Remaining())

	o.AmountPaid = money.MustParse("0.01")
	assert.Equal(t, StatusPartiallyPaid, o.Status())

	o.AmountPaid = o.Total
	assert.Equal(t, StatusPaid, o.Status())
	assert.True(t, o.Remaining().IsZero())
}

func TestZeroTotalOrderIsPaid(t *testing.T) {
	assert.Equal(t, StatusPaid, StatusFor(money.Zero, money.Zero))
}

func TestCostUsesSnapshot(t *testing.T) {
	assert.Equal(t, money.MustParse("39.00"), sampleOrder().Cost())
}

func TestValidate(t *testing.T) {
	o := sampleOrder()
	require.NoError(t, o.Validate())

	broken := o
	broken.AmountPaid = o.Total.Add(money.FromMinor(1))
	assert.True(t, errors.Is(broken.Validate(), shared.ErrConsistency))

	broken = o
	broken.Total = money.FromMajor(1)
	assert.True(t, errors.Is(broken.Validate(), shared.ErrConsistency))

	broken = o
	broken.SmallBottlesReturned = 3
	assert.True(t, errors.Is(broken.Validate(), shared.ErrConsistency))

	broken = o
	broken.Lines = nil
	assert.Error(t, broken.Validate())

	// 2.00 x (2^61+1) wraps to 2.00 in int64.
	wrapped := []Line{{ProductID: 1, Quantity: 1<<61 + 1, UnitPrice: money.MustParse("2.00")}}
	broken = Order{ID: 8, CustomerID: 1, Lines: wrapped, Total: Total(wrapped)}
	assert.Equal(t, money.MustParse("2.00"), broken.Total)
	assert.True(t, errors.Is(broken.Validate(), shared.ErrConsistency))
}

func TestCheckedTotal(t *testing.T) {
	total, cost, err := CheckedTotal(sampleOrder().Lines)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("64.50"), total)
	assert.Equal(t, money.MustParse("39.00"), cost)

	_, _, err = CheckedTotal([]Line{
		{ProductID: 1, Quantity: 1, UnitPrice: money.FromMinor(math.MaxInt64)},
		{ProductID: 2, Quantity: 1, UnitPrice: money.FromMinor(1)},
	})
	assert.True(t, errors.Is(err, money.ErrOverflow))

	_, _, err = CheckedTotal([]Line{{ProductID: 1, Quantity: 1 << 40, UnitPrice: money.FromMinor(1), CostPrice: money.FromMinor(1 << 30)}})
	assert.True(t, errors.Is(err, money.ErrOverflow))
}

func TestFilterMatches(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	o := sampleOrder()
	o.CreatedAt = now

	pending := StatusPending
	paid := StatusPaid
	from := now.Add(-time.Hour)
	to := now

	assert.True(t, Filter{Status: &pending}.Matches(o))
	assert.False(t, Filter{Status: &paid}.Matches(o))
	assert.True(t, Filter{From: &from}.Matches(o))
	assert.False(t, Filter{From: &from, To: &to}.Matches(o), "upper bound is exclusive")

	archived := now
	o.ArchivedAt = &archived
	assert.False(t, Filter{}.Matches(o))
	assert.True(t, Filter{IncludeArchived: true}.Matches(o))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("partiallyPaid")
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyPaid, s)
	_, err = ParseStatus("cancelled")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestJSONCarriesDerivedFields(t *testing.T) {
	o := sampleOrder()
	o.AmountPaid = money.MustParse("10.00")
	raw, err := json.Marshal(o)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"partiallyPaid"`)
	assert.Contains(t, string(raw), `"remainingBalance":"54.50"`)
	assert.Contains(t, string(raw), `"total":"64.50"`)
}

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	at := time.Date(2024, 3, 10, 1, 30, 0, 0, time.UTC) // 22:30 on the 9th locally
	start, end := DayBounds(at, loc)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, loc), end)
}
