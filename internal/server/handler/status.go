package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/driftgate/solverbot/internal/domain"
)

// StatusHandler reports the engine's view of the world: order counts per
// lifecycle state and the scan cursor position.
type StatusHandler struct {
	orders     domain.OrderStore
	cursors    domain.CursorStore
	cursorName string
	mode       string
	logger     *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(orders domain.OrderStore, cursors domain.CursorStore, cursorName, mode string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		orders:     orders,
		cursors:    cursors,
		cursorName: cursorName,
		mode:       mode,
		logger:     logger.With(slog.String("handler", "status")),
	}
}

// Status summarizes the engine state.
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts := make(map[string]int)
	states := []domain.LifecycleState{
		domain.StateOpen, domain.StateFulfilling, domain.StateAwaitingAttestation,
		domain.StateSettled, domain.StateFailed, domain.StateExpired,
	}
	for _, st := range states {
		orders, err := h.orders.ListByState(ctx, st, domain.ListOpts{Limit: 500})
		if err != nil {
			h.logger.ErrorContext(ctx, "listing orders failed",
				slog.String("state", string(st)),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "querying orders failed")
			return
		}
		counts[string(st)] = len(orders)
	}

	cursor, err := h.cursors.Get(ctx, h.cursorName)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		h.logger.ErrorContext(ctx, "reading cursor failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "querying cursor failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":         h.mode,
		"orders":       counts,
		"scanned_block": cursor,
	})
}
