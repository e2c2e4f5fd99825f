package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	internal "github.com/okhalifa/storefront-payments/internal"
	"github.com/okhalifa/storefront-payments/internal/core/datamodel/order"
	"github.com/okhalifa/storefront-payments/internal/payment"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) payment.OrderRepository {
	return &OrderRepository{
		db: db,
	}
}

func (r *OrderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*order.Order, error) {
	var o order.Order
	err := r.db.WithContext(ctx).Where("order_number = ?", orderNumber).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) RecordPaymentRef(ctx context.Context, orderID int64, method, transactionID string) error {
	return r.db.WithContext(ctx).Model(&order.Order{}).Where("id = ?", orderID).Updates(map[string]interface{}{
		"payment_method": method,
		"transaction_id": transactionID,
		"updated_at":     time.Now().UTC(),
	}).Error
}

// ApplyPaymentStatus is the idempotency point of the whole service: the
// WHERE clause makes the transition conditional on the stored status, so two
// concurrent deliveries of the same callback race on the database row and
// exactly one of them changes it.
func (r *OrderRepository) ApplyPaymentStatus(ctx context.Context, orderID int64, from, to, transactionID string, gatewayResponse json.RawMessage, paidAt *time.Time) (bool, error) {
	updates := map[string]interface{}{
		"payment_status": to,
		"updated_at":     time.Now().UTC(),
	}

	if transactionID != "" {
		updates["transaction_id"] = transactionID
	}

	if gatewayResponse != nil {
		updates["gateway_response"] = gatewayResponse
	}

	if paidAt != nil {
		updates["paid_at"] = *paidAt
	}

	result := r.db.WithContext(ctx).Model(&order.Order{}).
		Where("id = ? AND payment_status = ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID int64, from, to string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&order.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}
