package reporting

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/debtbook/internal/platform/httpx"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// Handler serves the dashboard endpoints.
type Handler struct {
	logger   *slog.Logger
	reporter *Reporter
}

// NewHandler creates a new handler.
func NewHandler(logger *slog.Logger, reporter *Reporter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, reporter: reporter}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/report", h.report)
	r.Get("/profit", h.profit)
	r.Get("/debts", h.debts)
	r.Get("/top-products", h.topProducts)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	window, err := ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rep, err := h.reporter.Report(r.Context(), window)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rep)
}

// profit returns every window keyed by name, the shape the dashboard charts read.
func (h *Handler) profit(w http.ResponseWriter, r *http.Request) {
	all, err := h.reporter.AllWindows(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": all})
}

func (h *Handler) debts(w http.ResponseWriter, r *http.Request) {
	sum, err := h.reporter.DebtSummary(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func (h *Handler) topProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.IntQuery(r, "limit", 5)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if limit <= 0 || limit > 50 {
		httpx.RespondError(w, shared.NewValidationError("limit", "must be between 1 and 50"))
		return
	}
	top, err := h.reporter.TopProducts(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, top)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.logger.Error("dashboard request failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
