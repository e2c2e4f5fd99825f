package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentSucceeded = "order.payment.succeeded"
	EventTypePaymentFailed    = "order.payment.failed"
)

type PaymentSucceededEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

func NewPaymentSucceededEvent(orderID int64, orderNumber, transactionID, amount, currency string) *PaymentSucceededEvent {
	return &PaymentSucceededEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentSucceeded,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":       orderID,
				"order_number":   orderNumber,
				"transaction_id": transactionID,
				"amount":         amount,
				"currency":       currency,
			},
		},
		OrderID:       orderID,
		OrderNumber:   orderNumber,
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      currency,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	TransactionID string `json:"transaction_id"`
	GatewayStatus string `json:"gateway_status"`
}

func NewPaymentFailedEvent(orderID int64, orderNumber, transactionID, gatewayStatus string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":       orderID,
				"order_number":   orderNumber,
				"transaction_id": transactionID,
				"gateway_status": gatewayStatus,
			},
		},
		OrderID:       orderID,
		OrderNumber:   orderNumber,
		TransactionID: transactionID,
		GatewayStatus: gatewayStatus,
	}
}
