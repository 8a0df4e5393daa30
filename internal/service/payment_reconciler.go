package service

import (
	"context"
	"errors"
	"fmt"

	"shea-order-service/internal/apperr"
	"shea-order-service/internal/models"
	"shea-order-service/internal/paystack"
	"shea-order-service/internal/store"
	"shea-order-service/internal/util"

	"go.uber.org/zap"
)

// ReconcileResult describes what a mark operation did
type ReconcileResult struct {
	Found         bool                 `json:"found"`
	Changed       bool                 `json:"changed"`
	SaleID        string               `json:"sale_id,omitempty"`
	PaymentStatus models.PaymentStatus `json:"payment_status,omitempty"`
}

// PaymentReconciler is where webhooks, client polling and manual confirmation
// converge. Marking a sale is idempotent.
type PaymentReconciler struct {
	store         store.Store
	gateway       PaymentGateway
	notifier      Notifier
	webhookSecret string
	adminEmail    string
	logger        *zap.Logger
}

// Review reasons sent to staff with TemplatePaymentReviewAdmin
const (
	reviewAmountShort   = "amount_short"
	reviewPaidCancelled = "paid_after_cancellation"
)

// NewPaymentReconciler creates a new payment reconciler. Payments that need a
// human (short amounts, money on a cancelled sale) are reported to adminEmail.
func NewPaymentReconciler(st store.Store, gateway PaymentGateway, notifier Notifier, webhookSecret, adminEmail string) *PaymentReconciler {
	return &PaymentReconciler{
		store:         st,
		gateway:       gateway,
		notifier:      notifier,
		webhookSecret: webhookSecret,
		adminEmail:    adminEmail,
		logger:        util.GetLogger(),
	}
}

// MarkPaid verifies reference with the gateway and marks its sale paid.
// Unknown references and already-paid sales are no-ops. The sale row stays
// locked from lookup to update so concurrent confirmations transition once.
// A charge below the sale total leaves the sale unpaid and fails AmountMismatch.
func (r *PaymentReconciler) MarkPaid(ctx context.Context, reference string) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.MarkPaid")
	defer span.End()

	result := &ReconcileResult{}
	var sale *models.Sale
	var customer *models.Customer
	var paid, expected int64

	err := r.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		sale, err = repo.GetSaleByReferenceForUpdate(ctx, reference)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load sale: %w", err)
		}
		result.Found = true
		result.SaleID = sale.ID
		result.PaymentStatus = sale.PaymentStatus

		if sale.PaymentStatus == models.PaymentStatusPaid || sale.PaymentStatus == models.PaymentStatusRefunded {
			return nil
		}
		if err := CheckPaymentTransition(sale.PaymentStatus, models.PaymentStatusPaid); err != nil {
			return err
		}

		tx, err := r.gateway.Verify(ctx, reference)
		if err != nil {
			return err
		}
		paid, expected = tx.Amount, paystack.ToMinorUnits(sale.Total())
		if paid < expected {
			return nil
		}

		// refunds go to the transaction that captured the money
		sale.PaymentStatus = models.PaymentStatusPaid
		sale.PaymentReference = &reference
		if err := repo.UpdateSale(ctx, sale); err != nil {
			return fmt.Errorf("failed to mark sale paid: %w", err)
		}
		result.Changed = true
		result.PaymentStatus = sale.PaymentStatus

		customer, err = repo.GetCustomerByID(ctx, sale.CustomerID)
		if err != nil {
			r.logger.Warn("Paid sale has no customer", zap.String("sale_id", sale.ID), zap.Error(err))
			customer = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Found {
		r.logger.Warn("Payment reference matches no sale", zap.String("reference", reference))
		return result, nil
	}
	if !result.Changed && paid < expected {
		r.logger.Error("Payment below sale total",
			zap.String("sale_id", sale.ID),
			zap.String("reference", reference),
			zap.Int64("paid_minor", paid),
			zap.Int64("expected_minor", expected))
		r.requestReview(ctx, sale, reference, reviewAmountShort, map[string]interface{}{
			"paid_minor":     paid,
			"expected_minor": expected,
		})
		err := apperr.ErrAmountMismatch.Withf("paid %d of %d minor units", paid, expected)
		util.FailSpan(span, err)
		return result, err
	}
	if !result.Changed {
		r.logger.Info("Sale already settled", zap.String("sale_id", result.SaleID), zap.String("reference", reference))
		return result, nil
	}

	util.PaymentsConfirmedTotal.Inc()
	r.logger.Info("Sale marked paid", zap.String("sale_id", sale.ID), zap.String("reference", reference))
	if customer != nil {
		notifyAll(ctx, r.logger, r.notifier,
			saleNotification(models.TemplatePaymentConfirmed, customer.Email, sale, map[string]interface{}{"reference": reference}))
	}
	if sale.OrderStatus == models.OrderStatusCancelled {
		r.logger.Warn("Payment settled for a cancelled sale",
			zap.String("sale_id", sale.ID),
			zap.String("reference", reference))
		r.requestReview(ctx, sale, reference, reviewPaidCancelled, nil)
	}
	return result, nil
}

// requestReview asks staff to look at a payment the service cannot settle on its own
func (r *PaymentReconciler) requestReview(ctx context.Context, sale *models.Sale, reference, reason string, extra map[string]interface{}) {
	details := map[string]interface{}{"reference": reference, "reason": reason}
	for k, v := range extra {
		details[k] = v
	}
	util.PaymentReviewsTotal.WithLabelValues(reason).Inc()
	notifyAll(ctx, r.logger, r.notifier,
		saleNotification(models.TemplatePaymentReviewAdmin, r.adminEmail, sale, details))
}

// MarkRefunded records a gateway-processed refund. Unknown references,
// already-refunded and never-paid sales are no-ops.
func (r *PaymentReconciler) MarkRefunded(ctx context.Context, reference string) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.MarkRefunded")
	defer span.End()

	result := &ReconcileResult{}
	var sale *models.Sale
	var customer *models.Customer

	err := r.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		sale, err = repo.GetSaleByReferenceForUpdate(ctx, reference)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load sale: %w", err)
		}
		result.Found = true
		result.SaleID = sale.ID
		result.PaymentStatus = sale.PaymentStatus

		if sale.PaymentStatus != models.PaymentStatusPaid {
			return nil
		}

		sale.PaymentStatus = models.PaymentStatusRefunded
		if err := repo.UpdateSale(ctx, sale); err != nil {
			return fmt.Errorf("failed to mark sale refunded: %w", err)
		}
		result.Changed = true
		result.PaymentStatus = sale.PaymentStatus

		customer, err = repo.GetCustomerByID(ctx, sale.CustomerID)
		if err != nil {
			r.logger.Warn("Refunded sale has no customer", zap.String("sale_id", sale.ID), zap.Error(err))
			customer = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Found {
		r.logger.Warn("Refund reference matches no sale", zap.String("reference", reference))
		return result, nil
	}
	if !result.Changed {
		r.logger.Info("Refund already recorded or sale never paid",
			zap.String("sale_id", result.SaleID),
			zap.String("payment_status", string(result.PaymentStatus)))
		return result, nil
	}

	util.PaymentsRefundedTotal.Inc()
	r.logger.Info("Sale marked refunded", zap.String("sale_id", sale.ID), zap.String("reference", reference))
	if customer != nil {
		notifyAll(ctx, r.logger, r.notifier,
			saleNotification(models.TemplatePaymentRefunded, customer.Email, sale, map[string]interface{}{"reference": reference}))
	}
	return result, nil
}

// ConfirmSale marks a sale paid through its stored reference, for staff confirmation
func (r *PaymentReconciler) ConfirmSale(ctx context.Context, saleID string) (*ReconcileResult, error) {
	sale, err := r.store.GetSaleByID(ctx, saleID)
	if err != nil {
		return nil, notFound(err, apperr.ErrSaleNotFound)
	}
	if sale.Reference() == "" {
		return nil, apperr.ErrInvalidState.Withf("sale %s has no payment reference", saleID)
	}
	return r.MarkPaid(ctx, sale.Reference())
}

// HandleWebhook checks the signature before anything else, then dispatches
// the event. Once the signature is valid the webhook is always acknowledged;
// processing failures are logged.
func (r *PaymentReconciler) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.HandleWebhook")
	defer span.End()

	if !paystack.VerifySignature(r.webhookSecret, body, signature) {
		util.WebhooksTotal.WithLabelValues("unknown", "rejected").Inc()
		return apperr.ErrInvalidSignature
	}

	evt, err := paystack.ParseWebhook(body)
	if err != nil {
		util.WebhooksTotal.WithLabelValues("unknown", "malformed").Inc()
		r.logger.Warn("Ignoring malformed webhook", zap.Error(err))
		return nil
	}

	reference := evt.PaymentReference()
	switch evt.Event {
	case paystack.EventChargeSuccess:
		_, err = r.MarkPaid(ctx, reference)
	case paystack.EventRefundProcessed:
		_, err = r.MarkRefunded(ctx, reference)
	default:
		util.WebhooksTotal.WithLabelValues(evt.Event, "ignored").Inc()
		r.logger.Debug("Ignoring webhook event", zap.String("event", evt.Event))
		return nil
	}

	if err != nil {
		util.FailSpan(span, err)
		util.WebhooksTotal.WithLabelValues(evt.Event, "error").Inc()
		r.logger.Error("Webhook processing failed",
			zap.String("event", evt.Event),
			zap.String("reference", reference),
			zap.Error(err))
		return nil
	}
	util.WebhooksTotal.WithLabelValues(evt.Event, "ok").Inc()
	return nil
}
