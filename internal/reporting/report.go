package reporting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/orders"
)

// Report is the rollup of orders created within one window.
type Report struct {
	Window              Window          `json:"window"`
	PaidOrdersCount     int64           `json:"paidOrdersCount"`
	PaidOrdersTotal     money.Money     `json:"paidOrdersTotal"`
	PendingOrdersCount  int64           `json:"pendingOrdersCount"`
	PendingOrdersTotal  money.Money     `json:"pendingOrdersTotal"`
	PartialOrdersCount  int64           `json:"partialOrdersCount"`
	PartialOrdersTotal  money.Money     `json:"partialOrdersTotal"`
	RealProfit          money.Money     `json:"realProfit"`
	ExpectedProfit      money.Money     `json:"expectedProfit"`
	TotalOrders         int64           `json:"totalOrders"`
	TotalOrdersValue    money.Money     `json:"totalOrdersValue"`
	ProfitMarginPercent decimal.Decimal `json:"profitMarginPercent"`
}

// Summarize folds orders into a report. Partial orders contribute their
// outstanding remainder; profit uses the cost captured on each line. Totals
// that do not fit fail with money.ErrOverflow.
func Summarize(w Window, list []orders.Order) (Report, error) {
	r := Report{Window: w}
	var acc accumulator
	for _, o := range list {
		_, cost, err := orders.CheckedTotal(o.Lines)
		if err != nil {
			return Report{}, fmt.Errorf("reporting: order %d: %w", o.ID, err)
		}
		profit := o.Total.Sub(cost)
		r.TotalOrders++
		acc.add(&r.TotalOrdersValue, o.Total)
		acc.add(&r.ExpectedProfit, profit)

		switch o.Status() {
		case orders.StatusPaid:
			r.PaidOrdersCount++
			acc.add(&r.PaidOrdersTotal, o.Total)
			acc.add(&r.RealProfit, profit)
		case orders.StatusPending:
			r.PendingOrdersCount++
			acc.add(&r.PendingOrdersTotal, o.Total)
		case orders.StatusPartiallyPaid:
			r.PartialOrdersCount++
			acc.add(&r.PartialOrdersTotal, o.Remaining())
		}
	}
	if acc.err != nil {
		return Report{}, fmt.Errorf("reporting: %s: %w", w, acc.err)
	}
	r.ProfitMarginPercent = money.Percent(r.RealProfit, r.PaidOrdersTotal)
	return r, nil
}

// accumulator keeps the first overflow and stops adding after it.
type accumulator struct{ err error }

func (a *accumulator) add(dst *money.Money, v money.Money) {
	if a.err != nil {
		return
	}
	sum, err := dst.CheckedAdd(v)
	if err != nil {
		a.err = err
		return
	}
	*dst = sum
}
