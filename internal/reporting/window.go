package reporting

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// Window is a reporting period.
type Window string

const (
	WindowToday     Window = "today"
	WindowLastWeek  Window = "lastWeek"
	WindowLastMonth Window = "lastMonth"
	WindowAllTime   Window = "allTime"
)

// Windows lists every supported window in display order.
var Windows = []Window{WindowToday, WindowLastWeek, WindowLastMonth, WindowAllTime}

// ParseWindow validates a client supplied window. Empty means allTime.
func ParseWindow(s string) (Window, error) {
	if s == "" {
		return WindowAllTime, nil
	}
	for _, w := range Windows {
		if string(w) == s {
			return w, nil
		}
	}
	return "", shared.NewValidationError("window", fmt.Sprintf("unknown window %q", s))
}

// Range resolves w at instant now. A nil bound is open; rolling windows
// end at now.
func (w Window) Range(now time.Time, loc *time.Location) (from, to *time.Time) {
	switch w {
	case WindowToday:
		start, end := orders.DayBounds(now, loc)
		return &start, &end
	case WindowLastWeek:
		start := now.AddDate(0, 0, -7)
		return &start, nil
	case WindowLastMonth:
		start := now.AddDate(0, -1, 0)
		return &start, nil
	}
	return nil, nil
}
