package settlement

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/platform/httpx"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// IdempotencyHeader carries the client supplied key for payment requests.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes the engine over JSON.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	location *time.Location
}

// NewHandler creates a new handler. loc decides where "today" starts.
func NewHandler(logger *slog.Logger, engine *Engine, loc *time.Location) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{logger: logger, engine: engine, location: loc}
}

// MountRoutes registers the order routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/pending", h.byStatus(orders.StatusPending))
	r.Get("/partiallyPaid", h.byStatus(orders.StatusPartiallyPaid))
	r.Get("/today", h.today)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Delete("/", h.delete)
		r.Post("/payments", h.pay)
		r.Put("/markpaid", h.markPaid)
		r.Post("/bottles/return", h.returnBottles)
		r.Post("/archive", h.archive)
		r.Get("/history", h.history)
	})
}

// create handles POST /api/orders
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateOrderInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.engine.CreateOrder(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

// show handles GET /api/orders/{id}
func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.engine.GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

// list handles GET /api/orders?status=&from=&to=
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		result []orders.Order
		err    error
	)
	switch {
	case q.Get("from") != "" || q.Get("to") != "":
		var from, to time.Time
		if from, err = h.parseTime("from", q.Get("from")); err == nil {
			to, err = h.parseTime("to", q.Get("to"))
		}
		if err == nil {
			result, err = h.engine.GetOrdersInRange(r.Context(), from, to)
		}
	case q.Get("status") != "":
		var status orders.Status
		if status, err = orders.ParseStatus(q.Get("status")); err == nil {
			result, err = h.engine.GetOrdersByStatus(r.Context(), status)
		}
	default:
		result, err = h.engine.ListOrders(r.Context(), orders.Filter{})
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(result))
}

func (h *Handler) byStatus(status orders.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := h.engine.GetOrdersByStatus(r.Context(), status)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, nonNil(result))
	}
}

// today handles GET /api/orders/today
func (h *Handler) today(w http.ResponseWriter, r *http.Request) {
	from, to := orders.DayBounds(h.engine.now(), h.location)
	result, err := h.engine.GetOrdersInRange(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(result))
}

// pay handles POST /api/orders/{id}/payments
func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in PaymentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	res, err := h.engine.ApplyPayment(r.Context(), id, in.Amount, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// markPaid handles PUT /api/orders/{id}/markpaid
func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.MarkPaid(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// returnBottles handles POST /api/orders/{id}/bottles/return
func (h *Handler) returnBottles(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in BottleReturnInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.ReturnBottles(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// delete handles DELETE /api/orders/{id}
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.DeleteOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// archive handles POST /api/orders/{id}/archive
func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.engine.ArchiveOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := httpx.IntQuery(r, "limit", 50)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if limit < 1 || limit > shared.MaxPerPage {
		h.fail(w, r, shared.NewValidationError("limit", "must be between 1 and 200"))
		return
	}
	entries, err := h.engine.OrderHistory(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

// parseTime accepts RFC3339 timestamps or plain dates in the handler's zone.
func (h *Handler) parseTime(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, shared.NewValidationError(field, "required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, h.location)
	if err != nil {
		return time.Time{}, shared.NewValidationError(field, "expected RFC3339 timestamp or YYYY-MM-DD")
	}
	return t, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := httpx.StatusOf(err); status >= http.StatusInternalServerError {
		h.logger.Error("order request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
