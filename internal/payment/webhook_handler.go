package payment

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/okhalifa/storefront-payments/internal/gateway/kashier"
	"github.com/okhalifa/storefront-payments/internal/transport"
)

// maxWebhookBody bounds callback bodies; gateway notifications are small.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
	logger         *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    baseHandler,
		paymentService: paymentService,
		logger:         logger,
	}
}

// HandleCallback handles POST /payment/webhook. The body is read exactly
// once and handed to the service as raw bytes: signature verification must
// see what the gateway sent, not a re-serialization of it.
func (h *WebhookHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("webhook body unreadable", "error", err)
		h.WriteJSON(w, http.StatusBadRequest, WebhookOutcome{Message: "malformed payload"})
		return
	}

	signature := r.Header.Get(kashier.HeaderSignature)
	timestamp := r.Header.Get(kashier.HeaderTimestamp)

	outcome := h.paymentService.HandleWebhook(r.Context(), rawBody, signature, timestamp)

	h.logger.Info("webhook processed",
		"status_code", outcome.StatusCode,
		"message", outcome.Message)

	h.WriteJSON(w, outcome.StatusCode, outcome)
}

// Probe handles GET /payment/webhook.
func (h *WebhookHandler) Probe(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
