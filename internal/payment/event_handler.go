package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/okhalifa/storefront-payments/internal/core/datamodel/order"
	"github.com/okhalifa/storefront-payments/internal/core/events"
)

// EventHandler reacts to applied payment transitions. Events only fire when
// the guarded status update landed, so handlers here never see a redelivered
// webhook twice.
type EventHandler struct {
	repository OrderRepository
	logger     *slog.Logger
}

func NewEventHandler(repository OrderRepository, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		repository: repository,
		logger:     logger,
	}
}

// HandlePaymentSucceeded confirms the order's fulfillment once payment lands.
func (h *EventHandler) HandlePaymentSucceeded(ctx context.Context, event events.Event) error {
	paymentEvent, ok := event.(*events.PaymentSucceededEvent)
	if !ok {
		return fmt.Errorf("expected PaymentSucceededEvent, got %T", event)
	}

	applied, err := h.repository.UpdateStatus(ctx, paymentEvent.OrderID, order.StatusPending, order.StatusConfirmed)
	if err != nil {
		h.logger.Error("failed to confirm order after payment",
			"error", err,
			"order_id", paymentEvent.OrderNumber,
			"event_id", paymentEvent.EventID())
		return fmt.Errorf("order confirmation failed for %s: %w", paymentEvent.OrderNumber, err)
	}

	if !applied {
		// Order left pending before payment landed (e.g. cancelled by an
		// admin); reconciliation stands, fulfillment does not move.
		h.logger.Warn("order not in pending fulfillment, skipping confirmation",
			"order_id", paymentEvent.OrderNumber,
			"event_id", paymentEvent.EventID())
		return nil
	}

	h.logger.Info("order confirmed after successful payment",
		"order_id", paymentEvent.OrderNumber,
		"transaction_id", paymentEvent.TransactionID,
		"event_id", paymentEvent.EventID())

	return nil
}

// HandlePaymentFailed records the failure; the order stays pending so the
// customer can retry with another method.
func (h *EventHandler) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	paymentEvent, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		return fmt.Errorf("expected PaymentFailedEvent, got %T", event)
	}

	h.logger.Info("payment failed for order",
		"order_id", paymentEvent.OrderNumber,
		"gateway_status", paymentEvent.GatewayStatus,
		"event_id", paymentEvent.EventID())

	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentSucceeded, h.HandlePaymentSucceeded)
	eventBus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentFailed)

	h.logger.Info("payment event handlers registered",
		"handlers", []string{events.EventTypePaymentSucceeded, events.EventTypePaymentFailed})
}
