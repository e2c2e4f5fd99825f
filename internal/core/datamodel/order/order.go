package order

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Fulfillment lifecycle. Owned by the checkout/admin flows; this service
// only moves pending orders to confirmed when payment succeeds.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusShipped   = "shipped"
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
)

// Payment reconciliation states. pending is the only non-terminal state.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

type Order struct {
	ID              int64           `gorm:"primaryKey"`
	OrderNumber     string          `gorm:"column:order_number;not null;uniqueIndex"`
	Status          string          `gorm:"column:status;default:pending"`
	PaymentStatus   string          `gorm:"column:payment_status;default:pending"`
	PaymentMethod   *string         `gorm:"column:payment_method"`
	TransactionID   *string         `gorm:"column:transaction_id"`
	GatewayResponse json.RawMessage `gorm:"column:gateway_response;type:jsonb"`
	CustomerEmail   string          `gorm:"column:customer_email"`
	CustomerName    string          `gorm:"column:customer_name"`
	CustomerPhone   *string         `gorm:"column:customer_phone"`
	Currency        string          `gorm:"column:currency;default:EGP"`
	SubtotalEGP     decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2)"`
	ShippingEGP     decimal.Decimal `gorm:"column:shipping;type:numeric(12,2)"`
	TotalEGP        decimal.Decimal `gorm:"column:total;type:numeric(12,2)"`
	PaidAt          *time.Time      `gorm:"column:paid_at"`
	CreatedAt       time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;default:now()"`
}

func (Order) TableName() string {
	return "orders"
}

// PaymentStatusIsTerminal reports whether a payment status can never change
// again through webhook reconciliation. Refunds and disputes are a separate
// process and never flow through this table.
func PaymentStatusIsTerminal(status string) bool {
	return status == PaymentStatusPaid || status == PaymentStatusFailed
}
