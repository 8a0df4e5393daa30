package service

import (
	"context"
	"fmt"
	"time"

	"shea-order-service/internal/apperr"
	"shea-order-service/internal/models"
	"shea-order-service/internal/store"
	"shea-order-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CancellationOutcome is the money side of a cancellation
type CancellationOutcome struct {
	Refund        bool            `json:"refund"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	PenaltyAmount decimal.Decimal `json:"penalty_amount"`
}

// ComputeCancellation decides the refund for cancelling a sale. Paid pending
// sales are refunded in full. Paid packaging sales keep a penalty of
// penaltyRatio of the total unless an admin waives it. Unpaid sales cancel
// without money movement.
func ComputeCancellation(order models.OrderStatus, payment models.PaymentStatus, total decimal.Decimal, actor models.Actor, waivePenalty bool, penaltyRatio decimal.Decimal) (CancellationOutcome, error) {
	switch order {
	case models.OrderStatusCancelled:
		return CancellationOutcome{}, apperr.ErrAlreadyCancelled
	case models.OrderStatusInTransit, models.OrderStatusDelivered:
		return CancellationOutcome{}, apperr.ErrCannotCancel.Withf("sale is %s", order)
	case models.OrderStatusPending, models.OrderStatusPackaging:
	default:
		return CancellationOutcome{}, apperr.ErrInvalidState.Withf("unknown order status %q", order)
	}

	if payment != models.PaymentStatusPaid {
		return CancellationOutcome{RefundAmount: decimal.Zero, PenaltyAmount: decimal.Zero}, nil
	}

	penalty := decimal.Zero
	if order == models.OrderStatusPackaging && !(actor.IsAdmin() && waivePenalty) {
		penalty = total.Mul(penaltyRatio).Round(2)
	}
	return CancellationOutcome{
		Refund:        true,
		RefundAmount:  total.Sub(penalty),
		PenaltyAmount: penalty,
	}, nil
}

// CancelResult is returned by Cancel
type CancelResult struct {
	Sale *models.Sale `json:"sale"`
	CancellationOutcome
	// ManualRefund is set when money is owed but the sale has no gateway reference
	ManualRefund bool `json:"manual_refund"`
}

// CancellationService applies ComputeCancellation to a stored sale
type CancellationService struct {
	store        store.Store
	gateway      PaymentGateway
	ledger       *StockLedger
	notifier     Notifier
	penaltyRatio decimal.Decimal
	adminEmail   string
	logger       *zap.Logger
}

// NewCancellationService creates a new cancellation service
func NewCancellationService(st store.Store, gateway PaymentGateway, ledger *StockLedger, notifier Notifier, penaltyRatio decimal.Decimal, adminEmail string) *CancellationService {
	return &CancellationService{
		store:        st,
		gateway:      gateway,
		ledger:       ledger,
		notifier:     notifier,
		penaltyRatio: penaltyRatio,
		adminEmail:   adminEmail,
		logger:       util.GetLogger(),
	}
}

// Cancel refunds through the gateway when money moved, returns every batch
// allocation to stock and marks the sale cancelled, in one transaction.
// Customers may only cancel their own sales; waivePenalty is honored for admins only.
func (s *CancellationService) Cancel(ctx context.Context, actor models.Actor, saleID string, waivePenalty bool) (*CancelResult, error) {
	ctx, span := util.StartSpan(ctx, "CancellationService.Cancel")
	defer span.End()

	start := time.Now()
	result := &CancelResult{}
	var customer *models.Customer

	err := s.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		sale, err := repo.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return notFound(err, apperr.ErrSaleNotFound)
		}
		customer, err = authorizeSale(ctx, repo, actor, sale)
		if err != nil {
			return err
		}

		outcome, err := ComputeCancellation(sale.OrderStatus, sale.PaymentStatus, sale.Total(), actor, waivePenalty, s.penaltyRatio)
		if err != nil {
			return err
		}
		result.CancellationOutcome = outcome

		if outcome.Refund {
			if sale.Reference() == "" {
				result.ManualRefund = true
				s.logger.Warn("Paid sale has no gateway reference, refund must be made manually",
					zap.String("sale_id", sale.ID),
					zap.String("refund_amount", outcome.RefundAmount.String()))
			} else {
				amount := outcome.RefundAmount
				if err := s.gateway.Refund(ctx, sale.Reference(), &amount); err != nil {
					return err
				}
			}
		}

		if err := returnAllocations(ctx, s.ledger, repo, sale.LineItems); err != nil {
			return err
		}

		sale.OrderStatus = models.OrderStatusCancelled
		if outcome.Refund {
			sale.PaymentStatus = models.PaymentStatusRefunded
		}
		if err := repo.UpdateSale(ctx, sale); err != nil {
			return fmt.Errorf("failed to cancel sale: %w", err)
		}
		result.Sale = sale
		return nil
	})
	util.StockTxLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.FailSpan(span, err)
		return nil, err
	}

	outcome := "no_refund"
	switch {
	case result.ManualRefund:
		outcome = "manual_refund"
	case result.Refund:
		outcome = "refunded"
		util.PaymentsRefundedTotal.Inc()
	}
	util.SalesCancelledTotal.WithLabelValues(outcome).Inc()

	s.logger.Info("Sale cancelled",
		zap.String("sale_id", result.Sale.ID),
		zap.String("actor_role", actor.Role),
		zap.String("refund_amount", result.RefundAmount.String()),
		zap.String("penalty_amount", result.PenaltyAmount.String()))

	extra := map[string]interface{}{
		"refund_amount":  result.RefundAmount.StringFixed(2),
		"penalty_amount": result.PenaltyAmount.StringFixed(2),
		"manual_refund":  result.ManualRefund,
	}
	notifyAll(ctx, s.logger, s.notifier,
		saleNotification(models.TemplateOrderCancelled, customer.Email, result.Sale, extra),
		saleNotification(models.TemplateOrderCancelledAdmin, s.adminEmail, result.Sale, extra))
	return result, nil
}
