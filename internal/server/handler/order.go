package handler

import (
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/driftgate/solverbot/internal/domain"
)

// Quoter prices an open order at the current time.
type Quoter interface {
	Quote(o domain.Order) *big.Int
}

// OrderHandler serves read-only order endpoints for operators.
type OrderHandler struct {
	orders       domain.OrderStore
	fulfillments domain.FulfillmentStore
	quoter       Quoter
	logger       *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders domain.OrderStore, fulfillments domain.FulfillmentStore, quoter Quoter, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:       orders,
		fulfillments: fulfillments,
		quoter:       quoter,
		logger:       logger.With(slog.String("handler", "orders")),
	}
}

// orderView is the JSON shape of one order.
type orderView struct {
	ID           string     `json:"id"`
	Depositor    string     `json:"depositor"`
	Recipient    string     `json:"recipient"`
	InputAmount  string     `json:"input_amount"`
	StartPrice   string     `json:"start_price"`
	FloorPrice   string     `json:"floor_price"`
	StartTime    uint64     `json:"start_time"`
	Duration     uint64     `json:"duration"`
	State        string     `json:"state"`
	CreatedBlock uint64     `json:"created_block"`
	FailReason   string     `json:"fail_reason,omitempty"`
	RetryCount   int        `json:"retry_count"`
	CurrentPrice string     `json:"current_price,omitempty"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
}

func (h *OrderHandler) view(o domain.Order) orderView {
	v := orderView{
		ID:           o.ID.Hex(),
		Depositor:    o.Depositor,
		Recipient:    o.Recipient,
		InputAmount:  o.InputAmount.String(),
		StartPrice:   o.StartPrice.String(),
		FloorPrice:   o.FloorPrice.String(),
		StartTime:    o.StartTime,
		Duration:     o.Duration,
		State:        string(o.State),
		CreatedBlock: o.CreatedBlock,
		FailReason:   o.FailReason,
		RetryCount:   o.RetryCount,
		SettledAt:    o.SettledAt,
		FailedAt:     o.FailedAt,
	}
	if o.State == domain.StateOpen && h.quoter != nil {
		v.CurrentPrice = h.quoter.Quote(o).String()
	}
	return v
}

// ListOrders returns orders filtered by state (default: open).
// GET /api/orders?state=open&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state := domain.LifecycleState(r.URL.Query().Get("state"))
	if state == "" {
		state = domain.StateOpen
	}

	orders, err := h.orders.ListByState(ctx, state, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(ctx, "listing orders failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "querying orders failed")
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, h.view(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

// GetOrder returns one order with its fulfillment, when present.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseOrderID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.orders.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "loading order failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "querying order failed")
		return
	}

	resp := map[string]any{"order": h.view(o)}

	rec, handle, err := h.fulfillments.GetByOrder(ctx, id)
	if err == nil {
		fv := map[string]any{
			"tx_hash":      rec.TxHash,
			"amount_paid":  rec.AmountPaid.String(),
			"submitted_at": rec.SubmittedAt,
			"confirmed":    rec.Confirmed,
		}
		if handle != nil {
			fv["emitter_chain"] = handle.EmitterChain
			fv["emitter"] = handle.EmitterHex()
			fv["sequence"] = handle.Sequence
		}
		resp["fulfillment"] = fv
	} else if !errors.Is(err, domain.ErrNotFound) {
		h.logger.ErrorContext(ctx, "loading fulfillment failed", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, resp)
}
