package orders

import (
	"fmt"

	"github.com/odyssey-erp/debtbook/internal/shared"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = fmt.Errorf("order %w", shared.ErrNotFound)
)
