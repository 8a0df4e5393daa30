package service

import (
	"testing"

	"shea-order-service/internal/apperr"
	"shea-order-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderPtr(s models.OrderStatus) *models.OrderStatus       { return &s }
func paymentPtr(s models.PaymentStatus) *models.PaymentStatus { return &s }

func allocatedSale(order models.OrderStatus, payment models.PaymentStatus) *models.Sale {
	return &models.Sale{
		OrderStatus:   order,
		PaymentStatus: payment,
		LineItems: models.LineItems{{
			ProductID:         productSoap,
			BatchAllocations:  []models.BatchAllocation{{BatchID: batchSoap, Quantity: 1}},
			RequestedQuantity: 1,
		}},
	}
}

func TestCheckOrderTransition(t *testing.T) {
	assert.NoError(t, CheckOrderTransition(models.OrderStatusPending, models.OrderStatusPackaging))
	assert.NoError(t, CheckOrderTransition(models.OrderStatusPending, models.OrderStatusDelivered))
	assert.ErrorIs(t, CheckOrderTransition(models.OrderStatusInTransit, models.OrderStatusPackaging), apperr.ErrInvalidTransition)
	assert.ErrorIs(t, CheckOrderTransition(models.OrderStatusPending, models.OrderStatusCancelled), apperr.ErrInvalidTransition)
	assert.ErrorIs(t, CheckOrderTransition(models.OrderStatusCancelled, models.OrderStatusPackaging), apperr.ErrInvalidTransition)
	assert.ErrorIs(t, CheckOrderTransition(models.OrderStatusPending, "shipped"), apperr.ErrValidation)
}

func TestCheckPaymentTransition(t *testing.T) {
	allowed := [][2]models.PaymentStatus{
		{models.PaymentStatusInvoiceRequested, models.PaymentStatusPendingPayment},
		{models.PaymentStatusInvoiceRequested, models.PaymentStatusAwaitingDelivery},
		{models.PaymentStatusAwaitingDelivery, models.PaymentStatusPendingPayment},
		{models.PaymentStatusPendingPayment, models.PaymentStatusPaid},
		{models.PaymentStatusPaid, models.PaymentStatusRefunded},
	}
	for _, pair := range allowed {
		assert.NoError(t, CheckPaymentTransition(pair[0], pair[1]), "%s to %s", pair[0], pair[1])
	}

	assert.ErrorIs(t, CheckPaymentTransition(models.PaymentStatusAwaitingDelivery, models.PaymentStatusPaid), apperr.ErrInvalidTransition)
	assert.ErrorIs(t, CheckPaymentTransition(models.PaymentStatusRefunded, models.PaymentStatusPaid), apperr.ErrInvalidTransition)
	assert.ErrorIs(t, CheckPaymentTransition(models.PaymentStatusPaid, models.PaymentStatusPendingPayment), apperr.ErrInvalidTransition)
}

func TestApplyStatusChange_BatchGuard(t *testing.T) {
	unallocated := &models.Sale{
		OrderStatus:   models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPendingPayment,
		LineItems:     models.LineItems{{ProductID: productSoap, RequestedQuantity: 2}},
	}

	_, err := ApplyStatusChange(unallocated, orderPtr(models.OrderStatusPackaging), nil)
	assert.ErrorIs(t, err, apperr.ErrBatchesNotAssigned)

	_, err = ApplyStatusChange(unallocated, nil, paymentPtr(models.PaymentStatusPaid))
	assert.ErrorIs(t, err, apperr.ErrBatchesNotAssigned)
	assert.Equal(t, models.PaymentStatusPendingPayment, unallocated.PaymentStatus)

	sale := allocatedSale(models.OrderStatusPending, models.PaymentStatusPendingPayment)
	changed, err := ApplyStatusChange(sale, orderPtr(models.OrderStatusPackaging), paymentPtr(models.PaymentStatusPaid))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.OrderStatusPackaging, sale.OrderStatus)
	assert.Equal(t, models.PaymentStatusPaid, sale.PaymentStatus)
}

func TestApplyStatusChange_SameStatusIsNoop(t *testing.T) {
	sale := allocatedSale(models.OrderStatusPackaging, models.PaymentStatusPaid)

	changed, err := ApplyStatusChange(sale, orderPtr(models.OrderStatusPackaging), paymentPtr(models.PaymentStatusPaid))

	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyStatusChange_CancelledSaleIsFrozen(t *testing.T) {
	sale := allocatedSale(models.OrderStatusCancelled, models.PaymentStatusInvoiceRequested)

	_, err := ApplyStatusChange(sale, nil, paymentPtr(models.PaymentStatusPendingPayment))

	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}
