package service

import (
	"shea-order-service/internal/apperr"
	"shea-order-service/internal/models"
)

var orderRank = map[models.OrderStatus]int{
	models.OrderStatusPending:   0,
	models.OrderStatusPackaging: 1,
	models.OrderStatusInTransit: 2,
	models.OrderStatusDelivered: 3,
}

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusInvoiceRequested: {models.PaymentStatusPendingPayment, models.PaymentStatusAwaitingDelivery, models.PaymentStatusPaid},
	models.PaymentStatusAwaitingDelivery: {models.PaymentStatusPendingPayment},
	models.PaymentStatusPendingPayment:   {models.PaymentStatusPaid},
	models.PaymentStatusPaid:             {models.PaymentStatusRefunded},
}

// CheckOrderTransition allows forward moves along pending → packaging →
// in_transit → delivered. Cancellation has its own operation.
func CheckOrderTransition(from, to models.OrderStatus) error {
	if !to.Valid() {
		return apperr.ErrValidation.Withf("unknown order status %q", to)
	}
	if to == models.OrderStatusCancelled {
		return apperr.ErrInvalidTransition.Withf("use cancellation to cancel a sale")
	}
	if from == models.OrderStatusCancelled {
		return apperr.ErrInvalidTransition.Withf("sale is cancelled")
	}
	if orderRank[to] <= orderRank[from] {
		return apperr.ErrInvalidTransition.Withf("order %s to %s", from, to)
	}
	return nil
}

// CheckPaymentTransition allows the moves in paymentTransitions
func CheckPaymentTransition(from, to models.PaymentStatus) error {
	if !to.Valid() {
		return apperr.ErrValidation.Withf("unknown payment status %q", to)
	}
	for _, next := range paymentTransitions[from] {
		if next == to {
			return nil
		}
	}
	return apperr.ErrInvalidTransition.Withf("payment %s to %s", from, to)
}

// ApplyStatusChange updates sale in place when the requested statuses are
// reachable. Requesting the current status is a no-op. Entering a shipping
// status or paid needs every line item allocated.
func ApplyStatusChange(sale *models.Sale, order *models.OrderStatus, payment *models.PaymentStatus) (bool, error) {
	nextOrder, nextPayment := sale.OrderStatus, sale.PaymentStatus

	if order != nil && *order != sale.OrderStatus {
		if err := CheckOrderTransition(sale.OrderStatus, *order); err != nil {
			return false, err
		}
		nextOrder = *order
	}
	if payment != nil && *payment != sale.PaymentStatus {
		if sale.OrderStatus == models.OrderStatusCancelled {
			return false, apperr.ErrInvalidTransition.Withf("sale is cancelled")
		}
		if err := CheckPaymentTransition(sale.PaymentStatus, *payment); err != nil {
			return false, err
		}
		nextPayment = *payment
	}

	if nextOrder == sale.OrderStatus && nextPayment == sale.PaymentStatus {
		return false, nil
	}

	enteringShipping := nextOrder != sale.OrderStatus && nextOrder.RequiresBatches()
	enteringPaid := nextPayment != sale.PaymentStatus && nextPayment == models.PaymentStatusPaid
	if (enteringShipping || enteringPaid) && !sale.BatchesAssigned() {
		return false, apperr.ErrBatchesNotAssigned
	}

	sale.OrderStatus, sale.PaymentStatus = nextOrder, nextPayment
	return true, nil
}
