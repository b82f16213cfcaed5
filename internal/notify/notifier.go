// Package notify delivers operator alerts over one or more channels
// (Telegram, Discord). Alerts are filtered by event type so operators
// subscribe only to what they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event types emitted by the solver engine.
const (
	EventOrderSettled       = "order_settled"
	EventOrderFailed        = "order_failed"
	EventAttestationTimeout = "attestation_timeout"
	EventEngineStarted      = "engine_started"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to its senders, filtered by an allowed
// event set. An empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// named in the events slice are forwarded; an empty slice allows all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification for the given event type, subject to the
// configured filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// OrderSettled alerts that an order completed the full pipeline.
func (n *Notifier) OrderSettled(ctx context.Context, orderID, settleTx, profit string) {
	msg := fmt.Sprintf("Order %s settled.\nSettle tx: %s\nEstimated profit: %s", orderID, settleTx, profit)
	if err := n.Notify(ctx, EventOrderSettled, "Order settled", msg); err != nil {
		n.logger.ErrorContext(ctx, "settled alert failed", slog.String("error", err.Error()))
	}
}

// OrderFailed alerts that an order hit a terminal failure.
func (n *Notifier) OrderFailed(ctx context.Context, orderID, reason string) {
	msg := fmt.Sprintf("Order %s failed: %s", orderID, reason)
	if err := n.Notify(ctx, EventOrderFailed, "Order failed", msg); err != nil {
		n.logger.ErrorContext(ctx, "failed alert failed", slog.String("error", err.Error()))
	}
}

// AttestationTimeout alerts that an order is stuck awaiting its proof and
// needs operator attention.
func (n *Notifier) AttestationTimeout(ctx context.Context, orderID, fulfillTx string) {
	msg := fmt.Sprintf("Order %s paid (tx %s) but the guardians never signed its proof. Manual follow-up required.", orderID, fulfillTx)
	if err := n.Notify(ctx, EventAttestationTimeout, "Attestation timeout", msg); err != nil {
		n.logger.ErrorContext(ctx, "timeout alert failed", slog.String("error", err.Error()))
	}
}

// dispatch sends to every sender, collecting individual failures so one bad
// channel does not block the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
