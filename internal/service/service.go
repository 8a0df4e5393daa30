// Package service implements order fulfillment: stock allocation, checkout,
// the sale state machine, payment reconciliation and cancellation.
package service

import (
	"context"
	"errors"
	"time"

	"shea-order-service/internal/apperr"
	"shea-order-service/internal/delivery"
	"shea-order-service/internal/models"
	"shea-order-service/internal/paystack"
	"shea-order-service/internal/store"
	"shea-order-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notifier queues a templated notification. Callers log failures and carry on.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// PaymentGateway is the external payment processor
type PaymentGateway interface {
	Initialize(ctx context.Context, amount decimal.Decimal, email, reference string) (*paystack.Authorization, error)
	Verify(ctx context.Context, reference string) (*paystack.Transaction, error)
	Refund(ctx context.Context, reference string, amount *decimal.Decimal) error
}

// DeliveryQuoter prices delivery for an address and box count
type DeliveryQuoter interface {
	Quote(addr delivery.Address, boxes int) delivery.Quote
}

// Locker is a best-effort distributed lock
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// IdempotencyCache stores serialized results under client-supplied keys
type IdempotencyCache interface {
	GetIdempotent(ctx context.Context, key string) (string, bool, error)
	SetIdempotent(ctx context.Context, key, value string, ttl time.Duration) error
}

// notifyAll sends every notification and only logs failures
func notifyAll(ctx context.Context, logger *zap.Logger, notifier Notifier, notes ...models.Notification) {
	if notifier == nil {
		return
	}
	for _, n := range notes {
		if n.Recipient == "" {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			util.NotificationsFailedTotal.WithLabelValues(n.Template).Inc()
			logger.Warn("Failed to queue notification",
				zap.String("template", n.Template),
				zap.String("sale_id", n.SaleID),
				zap.Error(err))
		}
	}
}

func saleNotification(template, recipient string, sale *models.Sale, extra map[string]interface{}) models.Notification {
	ctx := map[string]interface{}{
		"order_status":   string(sale.OrderStatus),
		"payment_status": string(sale.PaymentStatus),
		"amount":         sale.Amount.StringFixed(2),
		"delivery_fee":   sale.DeliveryFee.StringFixed(2),
		"total":          sale.Total().StringFixed(2),
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return models.Notification{Template: template, Recipient: recipient, SaleID: sale.ID, Context: ctx}
}

// notFound translates a store miss into the given business error
func notFound(err error, sentinel *apperr.Error) error {
	if errors.Is(err, store.ErrNotFound) {
		return sentinel
	}
	return err
}

// authorizeSale allows admins, and customers whose user id owns the sale
func authorizeSale(ctx context.Context, repo store.Repository, actor models.Actor, sale *models.Sale) (*models.Customer, error) {
	customer, err := repo.GetCustomerByID(ctx, sale.CustomerID)
	if err != nil {
		return nil, notFound(err, apperr.ErrCustomerNotFound)
	}
	if actor.IsAdmin() {
		return customer, nil
	}
	if actor.IsGuest() {
		return nil, apperr.ErrUnauthorized
	}
	if customer.UserID == nil || *customer.UserID != actor.UserID {
		return nil, apperr.ErrForbidden
	}
	return customer, nil
}
