package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	errors "github.com/okhalifa/storefront-payments/internal"
	"github.com/okhalifa/storefront-payments/internal/core/datamodel/order"
	"github.com/okhalifa/storefront-payments/internal/core/events"
	"github.com/okhalifa/storefront-payments/internal/gateway/kashier"
)

// OrderRepository is the order store contract. Implementations return
// internal.ErrOrderNotFound when the order number resolves to nothing.
type OrderRepository interface {
	GetByOrderNumber(ctx context.Context, orderNumber string) (*order.Order, error)
	// RecordPaymentRef attaches the chosen method and transaction reference
	// to an order without touching its payment status.
	RecordPaymentRef(ctx context.Context, orderID int64, method, transactionID string) error
	// ApplyPaymentStatus performs a guarded transition: the update only
	// lands if the stored payment status still equals from. The bool result
	// reports whether a row changed.
	ApplyPaymentStatus(ctx context.Context, orderID int64, from, to, transactionID string, gatewayResponse json.RawMessage, paidAt *time.Time) (bool, error)
	// UpdateStatus moves the fulfillment status, guarded the same way.
	UpdateStatus(ctx context.Context, orderID int64, from, to string) (bool, error)
}

// GatewayAPI is the slice of the kashier client the orchestrator needs.
type GatewayAPI interface {
	BuildPaymentURL(params kashier.CheckoutParams) (*kashier.CheckoutSession, error)
	VerifyWebhookSignature(rawBody []byte, signature, timestamp string) bool
	ParseWebhookPayload(rawBody []byte) (*kashier.WebhookPayload, error)
}

type ServiceAPI interface {
	InitiatePayment(ctx context.Context, req *PaymentRequest) (*PaymentResult, error)
	HandleWebhook(ctx context.Context, rawBody []byte, signature, timestamp string) WebhookOutcome
}

// PaymentService owns method dispatch, webhook idempotency and the payment
// status state machine. It never decides fallback behavior; a failing
// gateway surfaces as the error it is.
type PaymentService struct {
	gateway    GatewayAPI
	repository OrderRepository
	eventBus   *events.EventBus
	appBaseURL string
	logger     *slog.Logger
}

func NewPaymentService(gateway GatewayAPI, repository OrderRepository, eventBus *events.EventBus, appBaseURL string, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		gateway:    gateway,
		repository: repository,
		eventBus:   eventBus,
		appBaseURL: appBaseURL,
		logger:     logger,
	}
}

// InitiatePayment validates the request and dispatches on payment method.
// No payment status transition happens here: a gateway payment only becomes
// paid through a verified webhook, and cod confirmation belongs to the
// checkout flow.
func (s *PaymentService) InitiatePayment(ctx context.Context, req *PaymentRequest) (*PaymentResult, error) {
	if err := req.Validate(); err != nil {
		s.logger.Error("payment request validation failed", "error", err, "order_id", req.OrderID)
		return nil, err
	}

	var result *PaymentResult

	switch req.PaymentMethod {
	case MethodCOD:
		// Correlates later reconciliation, so uniqueness matters; a uuid
		// makes collision a non-concern across the process lifetime.
		result = &PaymentResult{
			TransactionID: fmt.Sprintf("COD-%s", uuid.NewString()),
			Message:       "cash on delivery order accepted",
		}

	case MethodGateway:
		session, err := s.gateway.BuildPaymentURL(kashier.CheckoutParams{
			OrderID:     req.OrderID,
			Amount:      req.Amount,
			Currency:    req.Currency,
			RedirectURL: fmt.Sprintf("%s/checkout/result?orderId=%s", s.appBaseURL, req.OrderID),
		})
		if err != nil {
			s.logger.Error("gateway checkout session failed",
				"error", err,
				"order_id", req.OrderID)
			return nil, err
		}
		result = &PaymentResult{
			TransactionID: session.TransactionID,
			PaymentURL:    session.PaymentURL,
			Message:       "redirect customer to payment url",
		}

	default:
		return nil, errors.NewUnsupportedMethodError(req.PaymentMethod)
	}

	s.recordPaymentRef(ctx, req.OrderID, req.PaymentMethod, result.TransactionID)

	s.logger.Info("payment initiated",
		"order_id", req.OrderID,
		"method", req.PaymentMethod,
		"transaction_id", result.TransactionID)

	return result, nil
}

// recordPaymentRef is best-effort bookkeeping: the webhook is the source of
// truth for reconciliation, so a failed ref write must not fail initiation.
func (s *PaymentService) recordPaymentRef(ctx context.Context, orderNumber, method, transactionID string) {
	ord, err := s.repository.GetByOrderNumber(ctx, orderNumber)
	if err != nil {
		s.logger.Warn("could not resolve order for payment ref",
			"error", err,
			"order_id", orderNumber)
		return
	}

	if err := s.repository.RecordPaymentRef(ctx, ord.ID, method, transactionID); err != nil {
		s.logger.Warn("could not record payment ref",
			"error", err,
			"order_id", orderNumber,
			"transaction_id", transactionID)
	}
}

// HandleWebhook reconciles a gateway callback. Signature verification runs
// on the raw body before any store access; an unauthenticated caller must
// not even trigger a lookup.
func (s *PaymentService) HandleWebhook(ctx context.Context, rawBody []byte, signature, timestamp string) WebhookOutcome {
	if !s.gateway.VerifyWebhookSignature(rawBody, signature, timestamp) {
		// Security event: either a forged callback or a rotated secret.
		s.logger.Warn("webhook signature verification failed",
			"body_bytes", len(rawBody),
			"has_signature", signature != "",
			"has_timestamp", timestamp != "")
		return WebhookOutcome{StatusCode: http.StatusUnauthorized, Message: "invalid signature"}
	}

	payload, err := s.gateway.ParseWebhookPayload(rawBody)
	if err != nil {
		s.logger.Error("webhook payload unparsable", "error", err)
		return WebhookOutcome{StatusCode: http.StatusBadRequest, Message: "malformed payload"}
	}

	ord, err := s.repository.GetByOrderNumber(ctx, payload.MerchantOrderID)
	if err != nil {
		if appErr, ok := errors.IsAppError(err); ok && appErr.Type == errors.ErrorTypeNotFound {
			s.logger.Warn("webhook references unknown order", "order_id", payload.MerchantOrderID)
			return WebhookOutcome{StatusCode: http.StatusNotFound, Message: "order not found"}
		}
		s.logger.Error("order lookup failed", "error", err, "order_id", payload.MerchantOrderID)
		return WebhookOutcome{StatusCode: http.StatusInternalServerError, Message: "order lookup: persistence failed"}
	}

	target, ok := MapGatewayStatus(payload.Status)
	if !ok {
		s.logger.Error("webhook carries unrecognized gateway status",
			"gateway_status", payload.Status,
			"order_id", payload.MerchantOrderID)
		return WebhookOutcome{StatusCode: http.StatusBadRequest, Message: "unknown status"}
	}

	if !payload.Amount.IsZero() && !payload.Amount.Equal(ord.TotalEGP) {
		// The callback is signed, so the gateway amount is authoritative for
		// reconciliation; the discrepancy still deserves eyes.
		s.logger.Warn("webhook amount differs from order total",
			"order_id", payload.MerchantOrderID,
			"webhook_amount", payload.Amount.String(),
			"order_total", ord.TotalEGP.String())
	}

	var paidAt *time.Time
	if target == order.PaymentStatusPaid {
		now := time.Now().UTC()
		paidAt = &now
	}

	applied, err := s.repository.ApplyPaymentStatus(ctx, ord.ID, order.PaymentStatusPending, target, payload.TransactionID, json.RawMessage(rawBody), paidAt)
	if err != nil {
		s.logger.Error("payment status update failed",
			"error", err,
			"order_id", payload.MerchantOrderID,
			"target_status", target)
		return WebhookOutcome{StatusCode: http.StatusInternalServerError, Message: "payment status update: persistence failed"}
	}

	if !applied {
		// The guarded update found no pending row: the order already sits in
		// a terminal payment status. Redelivered callbacks land here and are
		// acked without re-running side effects. A conflicting terminal
		// status cannot be reconciled automatically, so it is acked too,
		// loudly.
		if order.PaymentStatusIsTerminal(ord.PaymentStatus) && ord.PaymentStatus != target {
			s.logger.Warn("webhook conflicts with terminal payment status",
				"order_id", payload.MerchantOrderID,
				"current_status", ord.PaymentStatus,
				"webhook_status", payload.Status)
		}
		return WebhookOutcome{StatusCode: http.StatusOK, Message: "already processed"}
	}

	// Handlers run after the gateway already has its ack; the request
	// context dies with the response, so they get a detached one.
	eventCtx := context.WithoutCancel(ctx)

	switch target {
	case order.PaymentStatusPaid:
		event := events.NewPaymentSucceededEvent(ord.ID, ord.OrderNumber, payload.TransactionID, kashier.FormatAmount(payload.Amount), payload.Currency)
		s.eventBus.Publish(eventCtx, event)
	case order.PaymentStatusFailed:
		event := events.NewPaymentFailedEvent(ord.ID, ord.OrderNumber, payload.TransactionID, payload.Status)
		s.eventBus.Publish(eventCtx, event)
	}

	s.logger.Info("payment status updated",
		"order_id", payload.MerchantOrderID,
		"transaction_id", payload.TransactionID,
		"old_status", ord.PaymentStatus,
		"new_status", target)

	return WebhookOutcome{StatusCode: http.StatusOK, Message: "payment status updated"}
}
