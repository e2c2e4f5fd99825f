package payment

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/okhalifa/storefront-payments/internal"
	"github.com/okhalifa/storefront-payments/internal/transport"
)

type CreatePaymentResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	PaymentURL    string `json:"paymentUrl,omitempty"`
	Message       string `json:"message,omitempty"`
	Fallback      bool   `json:"fallback,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Handler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
	appConfig      internal.AppConfig
	logger         *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, appConfig internal.AppConfig, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    baseHandler,
		paymentService: paymentService,
		appConfig:      appConfig,
		logger:         logger,
	}
}

// CreatePayment handles POST /payment/create
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("CreatePayment: failed to parse request body", "error", err)
		h.WriteJSON(w, http.StatusBadRequest, CreatePaymentResponse{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	result, err := h.paymentService.InitiatePayment(r.Context(), &req)
	if err != nil {
		h.respondInitiationError(w, &req, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, CreatePaymentResponse{
		Success:       true,
		TransactionID: result.TransactionID,
		PaymentURL:    result.PaymentURL,
		Message:       result.Message,
	})
}

// respondInitiationError owns the deployment-mode fallback decision the core
// deliberately refuses to make. Outside production, a gateway outage answers
// with a synthetic pending page under our own base URL, explicitly marked as
// a fallback; the customer is never handed a fake gateway link.
func (h *Handler) respondInitiationError(w http.ResponseWriter, req *PaymentRequest, err error) {
	appErr, ok := internal.IsAppError(err)
	if !ok {
		h.logger.Error("CreatePayment: service error", "error", err, "order_id", req.OrderID)
		h.WriteJSON(w, http.StatusInternalServerError, CreatePaymentResponse{
			Success: false,
			Error:   "payment initiation failed",
		})
		return
	}

	gatewayFailure := appErr.Type == internal.ErrorTypeUpstream || appErr.Type == internal.ErrorTypeConfiguration
	if gatewayFailure && !h.appConfig.IsProduction() && req.PaymentMethod == MethodGateway {
		h.logger.Warn("CreatePayment: gateway unavailable, answering with non-production fallback",
			"error", appErr,
			"order_id", req.OrderID)
		h.WriteJSON(w, http.StatusOK, CreatePaymentResponse{
			Success:    true,
			Fallback:   true,
			PaymentURL: fmt.Sprintf("%s/checkout/payment-pending?orderId=%s", h.appConfig.BaseURL, req.OrderID),
			Message:    "gateway unavailable; using local fallback page",
		})
		return
	}

	h.logger.Error("CreatePayment: initiation failed",
		"error", appErr,
		"order_id", req.OrderID,
		"error_type", appErr.Type)
	h.WriteJSON(w, appErr.StatusCode, CreatePaymentResponse{
		Success: false,
		Error:   appErr.GetDetailedMessage(),
	})
}

// Probe handles GET on the payment endpoints.
func (h *Handler) Probe(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
