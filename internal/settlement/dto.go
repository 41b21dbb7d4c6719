package settlement

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/orders"
)

// CreateOrderInput is the request to open an order.
type CreateOrderInput struct {
	CustomerID   int64       `json:"customerId" validate:"required,gt=0"`
	Lines        []LineInput `json:"lines" validate:"required,min=1,dive"`
	SmallBottles int64       `json:"smallBottles" validate:"gte=0,lte=1000000"`
	LargeBottles int64       `json:"largeBottles" validate:"gte=0,lte=1000000"`
}

// LineInput is one requested product. UnitPrice overrides the catalog price
// when present.
type LineInput struct {
	ProductID int64        `json:"productId" validate:"required,gt=0"`
	Quantity  int64        `json:"quantity" validate:"required,gt=0,lte=1000000"`
	UnitPrice *money.Money `json:"unitPrice,omitempty"`
}

// PaymentInput is the request body for a payment.
type PaymentInput struct {
	Amount money.Money `json:"amount"`
}

// BottleReturnInput is the request body for returning bottles.
type BottleReturnInput struct {
	SmallBottles int64 `json:"smallBottles" validate:"gte=0,lte=1000000"`
	LargeBottles int64 `json:"largeBottles" validate:"gte=0,lte=1000000"`
}

// Result is the outcome of a settlement operation.
type Result struct {
	Order orders.Order `json:"order"`
	// Applied is what reached the ledger.
	Applied ledger.Delta `json:"applied"`
	// Excess is the part of the request discarded by the clamp policy.
	Excess ledger.Delta `json:"excess"`
	// NoOp is set when the request changed nothing: the order was already
	// settled or the idempotency key was replayed.
	NoOp    bool                          `json:"noop"`
	Warning *ledger.OverSettlementWarning `json:"warning,omitempty"`
}

// Overpaid reports whether part of the request was discarded.
func (r Result) Overpaid() bool { return !r.Excess.IsZero() }

// OverpayPolicy decides what happens to payments larger than the remaining balance.
type OverpayPolicy string

const (
	// OverpayClamp applies only the remaining balance and reports the excess.
	OverpayClamp OverpayPolicy = "clamp"
	// OverpayReject refuses the payment without side effects.
	OverpayReject OverpayPolicy = "reject"
)

// ParseOverpayPolicy maps configuration text to a policy. Empty means clamp.
func ParseOverpayPolicy(s string) (OverpayPolicy, error) {
	switch OverpayPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OverpayClamp:
		return OverpayClamp, nil
	case OverpayReject:
		return OverpayReject, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOverpayPolicy, s)
}
