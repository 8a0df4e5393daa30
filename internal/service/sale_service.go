package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shea-order-service/internal/apperr"
	"shea-order-service/internal/models"
	"shea-order-service/internal/store"
	"shea-order-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SaleService owns the sale state machine and staff edits of sales
type SaleService struct {
	store     store.Store
	ledger    *StockLedger
	validator *LineItemValidator
	notifier  Notifier
	logger    *zap.Logger
}

// NewSaleService creates a new sale service
func NewSaleService(st store.Store, ledger *StockLedger, validator *LineItemValidator, notifier Notifier) *SaleService {
	return &SaleService{
		store:     st,
		ledger:    ledger,
		validator: validator,
		notifier:  notifier,
		logger:    util.GetLogger(),
	}
}

// CreateSaleRequest is a staff-entered sale with explicit allocations
type CreateSaleRequest struct {
	CustomerID  string           `json:"customer_id" binding:"required"`
	Items       []LineItemInput  `json:"items" binding:"required,min=1,dive"`
	DeliveryFee *decimal.Decimal `json:"delivery_fee,omitempty"`
}

// StatusUpdate requests a move on one or both status axes
type StatusUpdate struct {
	OrderStatus   *models.OrderStatus   `json:"order_status,omitempty"`
	PaymentStatus *models.PaymentStatus `json:"payment_status,omitempty"`
}

// CreateSale validates every item, deducts every allocation and stores the
// sale with its checkout, all in one transaction
func (s *SaleService) CreateSale(ctx context.Context, req *CreateSaleRequest) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.CreateSale")
	defer span.End()

	fee := decimal.Zero
	if req.DeliveryFee != nil {
		if req.DeliveryFee.IsNegative() {
			return nil, apperr.ErrValidation.Withf("delivery fee cannot be negative")
		}
		fee = *req.DeliveryFee
	}

	start := time.Now()
	var sale *models.Sale
	var customer *models.Customer

	err := s.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		customer, err = repo.GetCustomerByID(ctx, req.CustomerID)
		if err != nil {
			return notFound(err, apperr.ErrCustomerNotFound)
		}

		items, err := s.validator.Validate(ctx, repo, req.Items)
		if err != nil {
			return err
		}
		if err := s.deductAll(ctx, repo, items); err != nil {
			return err
		}

		sale = &models.Sale{
			ID:            uuid.New().String(),
			CustomerID:    customer.ID,
			OrderStatus:   models.OrderStatusPending,
			PaymentStatus: models.PaymentStatusInvoiceRequested,
			LineItems:     items,
			Amount:        Subtotal(items),
			DeliveryFee:   fee,
		}
		if err := repo.CreateSale(ctx, sale); err != nil {
			return fmt.Errorf("failed to create sale: %w", err)
		}

		checkout := &models.Checkout{ID: uuid.New().String(), SaleID: sale.ID, Amount: sale.Total()}
		if err := repo.CreateCheckout(ctx, checkout); err != nil {
			return fmt.Errorf("failed to create checkout: %w", err)
		}
		return nil
	})
	util.StockTxLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.FailSpan(span, err)
		return nil, err
	}

	util.SalesCreatedTotal.Inc()
	s.logger.Info("Sale created",
		zap.String("sale_id", sale.ID),
		zap.String("customer_id", sale.CustomerID),
		zap.String("total", sale.Total().String()))

	notifyAll(ctx, s.logger, s.notifier,
		saleNotification(models.TemplateOrderPlaced, customer.Email, sale, nil))
	return sale, nil
}

// UpdateLineItems replaces the line items of a pending sale. Existing
// allocations go back to stock before the new ones are validated and deducted.
// Once paid, only the allocations may change.
func (s *SaleService) UpdateLineItems(ctx context.Context, saleID string, inputs []LineItemInput) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.UpdateLineItems")
	defer span.End()

	start := time.Now()
	var sale *models.Sale

	err := s.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		sale, err = repo.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return notFound(err, apperr.ErrSaleNotFound)
		}
		if sale.OrderStatus != models.OrderStatusPending {
			return apperr.ErrInvalidState.Withf("line items can only change while the order is pending, sale is %s", sale.OrderStatus)
		}

		if err := s.returnAll(ctx, repo, sale.LineItems); err != nil {
			return err
		}

		items, err := s.validator.Validate(ctx, repo, inputs)
		if err != nil {
			return err
		}
		if sale.PaymentStatus == models.PaymentStatusPaid && !samePricedContent(sale.LineItems, items) {
			return apperr.ErrInvalidState.Withf("a paid sale may only change batch allocations")
		}
		if err := s.deductAll(ctx, repo, items); err != nil {
			return err
		}

		sale.LineItems = items
		sale.Amount = Subtotal(items)
		if err := repo.UpdateSale(ctx, sale); err != nil {
			return fmt.Errorf("failed to update sale: %w", err)
		}
		return s.syncCheckoutAmount(ctx, repo, sale)
	})
	util.StockTxLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	s.logger.Info("Sale line items updated", zap.String("sale_id", sale.ID), zap.Int("items", len(sale.LineItems)))
	return sale, nil
}

// UpdateStatus moves a sale along either status axis
func (s *SaleService) UpdateStatus(ctx context.Context, saleID string, update StatusUpdate) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.UpdateStatus")
	defer span.End()

	if update.OrderStatus == nil && update.PaymentStatus == nil {
		return nil, apperr.ErrValidation.Withf("order_status or payment_status is required")
	}

	var sale *models.Sale
	var customer *models.Customer
	var changed bool
	var previous models.PaymentStatus

	err := s.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		sale, err = repo.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return notFound(err, apperr.ErrSaleNotFound)
		}
		previous = sale.PaymentStatus

		changed, err = ApplyStatusChange(sale, update.OrderStatus, update.PaymentStatus)
		if err != nil || !changed {
			return err
		}
		if err := repo.UpdateSale(ctx, sale); err != nil {
			return fmt.Errorf("failed to update sale: %w", err)
		}

		customer, err = repo.GetCustomerByID(ctx, sale.CustomerID)
		if err != nil {
			return notFound(err, apperr.ErrCustomerNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return sale, nil
	}

	if previous != models.PaymentStatusPaid && sale.PaymentStatus == models.PaymentStatusPaid {
		util.PaymentsConfirmedTotal.Inc()
	}
	s.logger.Info("Sale status updated",
		zap.String("sale_id", sale.ID),
		zap.String("order_status", string(sale.OrderStatus)),
		zap.String("payment_status", string(sale.PaymentStatus)))

	notifyAll(ctx, s.logger, s.notifier,
		saleNotification(models.TemplateOrderStatusChanged, customer.Email, sale, nil))
	return sale, nil
}

// UpdateDeliveryCost sets the delivery fee while no money has been captured.
// A sale awaiting a delivery quote becomes payable.
func (s *SaleService) UpdateDeliveryCost(ctx context.Context, saleID string, fee decimal.Decimal) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.UpdateDeliveryCost")
	defer span.End()

	if fee.IsNegative() {
		return nil, apperr.ErrValidation.Withf("delivery fee cannot be negative")
	}

	var sale *models.Sale
	var customer *models.Customer
	var promoted bool

	err := s.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		sale, err = repo.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return notFound(err, apperr.ErrSaleNotFound)
		}
		if sale.OrderStatus == models.OrderStatusCancelled || !sale.PaymentStatus.Unsettled() {
			return apperr.ErrInvalidState.Withf("delivery fee is fixed once the sale is %s/%s", sale.OrderStatus, sale.PaymentStatus)
		}

		sale.DeliveryFee = fee
		if sale.PaymentStatus == models.PaymentStatusAwaitingDelivery {
			sale.PaymentStatus = models.PaymentStatusPendingPayment
			promoted = true
		}
		if err := repo.UpdateSale(ctx, sale); err != nil {
			return fmt.Errorf("failed to update sale: %w", err)
		}
		if err := s.syncCheckoutAmount(ctx, repo, sale); err != nil {
			return err
		}

		customer, err = repo.GetCustomerByID(ctx, sale.CustomerID)
		return notFound(err, apperr.ErrCustomerNotFound)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Delivery cost updated",
		zap.String("sale_id", sale.ID),
		zap.String("delivery_fee", fee.String()),
		zap.Bool("promoted", promoted))

	if promoted {
		notifyAll(ctx, s.logger, s.notifier,
			saleNotification(models.TemplateOrderStatusChanged, customer.Email, sale, nil))
	}
	return sale, nil
}

// GetSale returns a sale to an admin or to the customer who owns it
func (s *SaleService) GetSale(ctx context.Context, actor models.Actor, saleID string) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.GetSale")
	defer span.End()

	sale, err := s.store.GetSaleByID(ctx, saleID)
	if err != nil {
		return nil, notFound(err, apperr.ErrSaleNotFound)
	}
	if _, err := authorizeSale(ctx, s.store, actor, sale); err != nil {
		return nil, err
	}
	return sale, nil
}

// GetGuestOrder returns a guest sale when email matches the checkout. Unknown
// sales and mismatched emails both fail Forbidden.
func (s *SaleService) GetGuestOrder(ctx context.Context, saleID, email string) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.GetGuestOrder")
	defer span.End()

	sale, err := s.store.GetSaleByID(ctx, saleID)
	if err != nil {
		return nil, notFound(err, apperr.ErrForbidden)
	}
	checkout, err := s.store.GetCheckoutBySaleID(ctx, saleID)
	if err != nil {
		return nil, notFound(err, apperr.ErrForbidden)
	}
	if !guestEmailMatches(checkout, email) {
		return nil, apperr.ErrForbidden
	}
	return sale, nil
}

func (s *SaleService) deductAll(ctx context.Context, repo store.Repository, items models.LineItems) error {
	for _, item := range items {
		for _, alloc := range item.BatchAllocations {
			if err := s.ledger.Deduct(ctx, repo, alloc.BatchID, alloc.Quantity); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SaleService) returnAll(ctx context.Context, repo store.Repository, items models.LineItems) error {
	return returnAllocations(ctx, s.ledger, repo, items)
}

func (s *SaleService) syncCheckoutAmount(ctx context.Context, repo store.Repository, sale *models.Sale) error {
	checkout, err := repo.GetCheckoutBySaleID(ctx, sale.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load checkout: %w", err)
	}
	if checkout.Amount.Equal(sale.Total()) {
		return nil
	}
	// a stored authorization was issued for the old total and must not be handed out again
	checkout.Amount = sale.Total()
	checkout.AuthorizationURL = nil
	checkout.AccessCode = nil
	if err := repo.UpdateCheckout(ctx, checkout); err != nil {
		return fmt.Errorf("failed to update checkout: %w", err)
	}
	return nil
}

func returnAllocations(ctx context.Context, ledger *StockLedger, repo store.Repository, items models.LineItems) error {
	for _, item := range items {
		for _, alloc := range item.BatchAllocations {
			if err := ledger.Return(ctx, repo, alloc.BatchID, alloc.Quantity); err != nil {
				return err
			}
		}
	}
	return nil
}

func samePricedContent(before, after models.LineItems) bool {
	if len(before) != len(after) {
		return false
	}
	for i := range before {
		if before[i].ProductID != after[i].ProductID ||
			before[i].RequestedQuantity != after[i].RequestedQuantity ||
			!before[i].FinalPrice.Equal(after[i].FinalPrice) {
			return false
		}
	}
	return true
}

func guestEmailMatches(checkout *models.Checkout, email string) bool {
	if checkout.GuestEmail == nil || email == "" {
		return false
	}
	return models.NormalizeEmail(*checkout.GuestEmail) == models.NormalizeEmail(email)
}
