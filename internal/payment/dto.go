package payment

import (
	"github.com/shopspring/decimal"

	errors "github.com/okhalifa/storefront-payments/internal"
	"github.com/okhalifa/storefront-payments/internal/core/common/validation"
	"github.com/okhalifa/storefront-payments/internal/core/datamodel/order"
	"github.com/okhalifa/storefront-payments/internal/gateway/kashier"
)

// Payment methods accepted at initiation.
const (
	MethodCOD     = "cod"
	MethodGateway = "gateway"
)

// PaymentRequest is the initiation input. Amounts are decimals end to end;
// binary floats drift on currency arithmetic.
type PaymentRequest struct {
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod"`
	CustomerEmail string          `json:"customerEmail"`
	CustomerName  string          `json:"customerName"`
	CustomerPhone string          `json:"customerPhone,omitempty"`
}

func (r *PaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("orderId", r.OrderID).Required()
	validator.Field("amount", r.Amount).Required().PositiveAmount(errors.ErrCodeInvalidAmount)
	validator.Field("paymentMethod", r.PaymentMethod).Required()
	validator.Field("customerEmail", r.CustomerEmail).Required().Email(errors.ErrCodeInvalidEmail)
	validator.Field("customerName", r.CustomerName).Required()
	validator.Field("currency", r.Currency).MinLength(3).MaxLength(3)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// PaymentResult is the initiation output. PaymentURL is set only for the
// gateway method.
type PaymentResult struct {
	TransactionID string `json:"transactionId"`
	PaymentURL    string `json:"paymentUrl,omitempty"`
	Message       string `json:"message"`
}

// WebhookOutcome is what the webhook endpoint writes back, verbatim.
type WebhookOutcome struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

// gatewayStatusTable is the fixed mapping from gateway outcome codes to
// internal payment statuses. Anything absent is rejected, never guessed.
var gatewayStatusTable = map[string]string{
	kashier.StatusSuccess:  order.PaymentStatusPaid,
	kashier.StatusFailed:   order.PaymentStatusFailed,
	kashier.StatusDeclined: order.PaymentStatusFailed,
}

// MapGatewayStatus resolves a gateway outcome code; ok is false for codes
// outside the table.
func MapGatewayStatus(gatewayStatus string) (string, bool) {
	internal, ok := gatewayStatusTable[gatewayStatus]
	return internal, ok
}
