package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"shea-order-service/internal/apperr"
	"shea-order-service/internal/delivery"
	"shea-order-service/internal/models"
	"shea-order-service/internal/paystack"
	"shea-order-service/internal/store"
	"shea-order-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Checkout modes, also used as metric labels
const (
	ModePlaceOrder = "place_order"
	ModePayNow     = "pay_now"
	ModeGuestPay   = "guest_pay"
)

// CheckoutRequest carries the buyer's contact and delivery details
type CheckoutRequest struct {
	Name      string `json:"name" binding:"required"`
	Email     string `json:"email"`
	Phone     string `json:"phone" binding:"required"`
	Address   string `json:"address" binding:"required"`
	Country   string `json:"country" binding:"required"`
	Region    string `json:"region"`
	City      string `json:"city"`
	ExtraInfo string `json:"extra_info"`

	IdempotencyKey string `json:"-"`
}

// CheckoutResult is what a checkout returns to the buyer
type CheckoutResult struct {
	SaleID           string               `json:"sale_id"`
	CheckoutID       string               `json:"checkout_id"`
	Amount           decimal.Decimal      `json:"amount"`
	DeliveryFee      decimal.Decimal      `json:"delivery_fee"`
	Total            decimal.Decimal      `json:"total"`
	Deliverable      bool                 `json:"deliverable"`
	PaymentStatus    models.PaymentStatus `json:"payment_status"`
	Reference        string               `json:"reference,omitempty"`
	AuthorizationURL string               `json:"authorization_url,omitempty"`
	AccessCode       string               `json:"access_code,omitempty"`
}

// CheckoutService turns an open cart into a sale and its checkout
type CheckoutService struct {
	store          store.Store
	gateway        PaymentGateway
	quoter         DeliveryQuoter
	notifier       Notifier
	locker         Locker
	idempotency    IdempotencyCache
	lockTTL        time.Duration
	idempotencyTTL time.Duration
	adminEmail     string
	logger         *zap.Logger
}

// CheckoutOptions holds the optional collaborators; nil ones are skipped
type CheckoutOptions struct {
	Locker         Locker
	Idempotency    IdempotencyCache
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
	AdminEmail     string
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(st store.Store, gateway PaymentGateway, quoter DeliveryQuoter, notifier Notifier, opts CheckoutOptions) *CheckoutService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &CheckoutService{
		store:          st,
		gateway:        gateway,
		quoter:         quoter,
		notifier:       notifier,
		locker:         opts.Locker,
		idempotency:    opts.Idempotency,
		lockTTL:        opts.LockTTL,
		idempotencyTTL: opts.IdempotencyTTL,
		adminEmail:     opts.AdminEmail,
		logger:         util.GetLogger(),
	}
}

// PlaceOrder checks out the actor's cart without taking payment
func (s *CheckoutService) PlaceOrder(ctx context.Context, actor models.Actor, req *CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.PlaceOrder")
	defer span.End()

	return s.checkout(ctx, actor, req, ModePlaceOrder)
}

// InitializeTransaction checks out the actor's cart and starts a gateway
// payment in the same transaction. A gateway failure leaves nothing behind.
func (s *CheckoutService) InitializeTransaction(ctx context.Context, actor models.Actor, req *CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.InitializeTransaction")
	defer span.End()

	return s.checkout(ctx, actor, req, ModePayNow)
}

func (s *CheckoutService) checkout(ctx context.Context, actor models.Actor, req *CheckoutRequest, mode string) (*CheckoutResult, error) {
	span := trace.SpanFromContext(ctx)
	owner := actor.CartOwner()
	if owner.IsZero() {
		return nil, apperr.ErrValidation.Withf("a signed-in user or a session id is required")
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = actor.Email
	}
	if email == "" {
		return nil, apperr.ErrValidation.Withf("email is required")
	}

	idemKey := ""
	if req.IdempotencyKey != "" {
		idemKey = fmt.Sprintf("checkout:%s:%s", owner.Key(), req.IdempotencyKey)
		if cached := s.cachedResult(ctx, idemKey); cached != nil {
			return cached, nil
		}
	}

	release, err := s.lock(ctx, "checkout:"+owner.Key())
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues(apperr.ReasonOf(err)).Inc()
		return nil, err
	}
	defer release()

	var result *CheckoutResult
	var sale *models.Sale

	err = s.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		carts, err := repo.ListOpenCartsForUpdate(ctx, owner)
		if err != nil {
			return err
		}
		if len(carts) == 0 {
			return apperr.ErrEmptyCart
		}

		products, err := repo.GetProductsByIDs(ctx, cartProductIDs(carts))
		if err != nil {
			return fmt.Errorf("failed to load products: %w", err)
		}

		customer, err := s.upsertCustomer(ctx, repo, actor, req, email)
		if err != nil {
			return err
		}

		items := make(models.LineItems, 0, len(carts))
		lines := make([]delivery.Line, 0, len(carts))
		cartIDs := make([]string, 0, len(carts))
		for _, c := range carts {
			p, ok := products[c.ProductID]
			if !ok {
				return apperr.ErrProductNotFound.Withf("product %s in cart", c.ProductID)
			}
			items = append(items, models.LineItem{
				ProductID:         p.ID,
				ProductName:       p.Name,
				BatchAllocations:  []models.BatchAllocation{},
				RequestedQuantity: c.Quantity,
				FinalPrice:        p.RetailPrice,
			})
			lines = append(lines, delivery.Line{Quantity: c.Quantity, QuantityInBox: p.QuantityInBox})
			cartIDs = append(cartIDs, c.ID)
		}

		quote := s.quoter.Quote(delivery.Address{Country: customer.Country, Region: customer.Region, City: customer.City}, delivery.BoxCount(lines))
		if mode == ModePayNow && !quote.Deliverable {
			return apperr.ErrDeliveryQuoteRequired
		}

		sale = &models.Sale{
			ID:            uuid.New().String(),
			CustomerID:    customer.ID,
			OrderStatus:   models.OrderStatusPending,
			PaymentStatus: models.PaymentStatusInvoiceRequested,
			LineItems:     items,
			Amount:        Subtotal(items),
			DeliveryFee:   decimal.Zero,
		}
		if quote.Deliverable {
			sale.DeliveryFee = quote.Cost
		} else {
			sale.PaymentStatus = models.PaymentStatusAwaitingDelivery
		}
		if err := repo.CreateSale(ctx, sale); err != nil {
			return fmt.Errorf("failed to create sale: %w", err)
		}

		checkout := &models.Checkout{ID: uuid.New().String(), SaleID: sale.ID, Amount: sale.Total()}
		if actor.IsGuest() {
			checkout.GuestEmail = &email
		}
		if err := repo.CreateCheckout(ctx, checkout); err != nil {
			return fmt.Errorf("failed to create checkout: %w", err)
		}

		claimed, err := repo.ClaimCarts(ctx, checkout.ID, cartIDs)
		if err != nil {
			return err
		}
		if claimed != int64(len(cartIDs)) {
			return apperr.ErrCartClaimConflict.Withf("claimed %d of %d lines", claimed, len(cartIDs))
		}

		result = &CheckoutResult{
			SaleID:        sale.ID,
			CheckoutID:    checkout.ID,
			Amount:        sale.Amount,
			DeliveryFee:   sale.DeliveryFee,
			Total:         sale.Total(),
			Deliverable:   quote.Deliverable,
			PaymentStatus: sale.PaymentStatus,
		}

		if mode == ModePayNow {
			return s.startPayment(ctx, repo, sale, checkout, email, result)
		}
		return nil
	})
	if err != nil {
		util.FailSpan(span, err)
		util.CheckoutsFailedTotal.WithLabelValues(apperr.ReasonOf(err)).Inc()
		s.logger.Warn("Checkout failed",
			zap.String("owner", owner.Key()),
			zap.String("mode", mode),
			zap.Error(err))
		return nil, err
	}

	util.CheckoutsTotal.WithLabelValues(mode).Inc()
	s.logger.Info("Checkout committed",
		zap.String("sale_id", result.SaleID),
		zap.String("mode", mode),
		zap.String("total", result.Total.String()),
		zap.String("payment_status", string(result.PaymentStatus)))

	notifyAll(ctx, s.logger, s.notifier,
		saleNotification(models.TemplateOrderPlaced, email, sale, map[string]interface{}{"deliverable": result.Deliverable}),
		saleNotification(models.TemplateOrderPlacedAdmin, s.adminEmail, sale, map[string]interface{}{"customer_email": email}))

	if idemKey != "" {
		s.storeResult(ctx, idemKey, result)
	}
	return result, nil
}

// InitializeGuestPayment starts payment for an existing guest invoice. The
// email must match the one the order was placed with.
func (s *CheckoutService) InitializeGuestPayment(ctx context.Context, saleID, email string) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.InitializeGuestPayment")
	defer span.End()

	var result *CheckoutResult

	err := s.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		sale, err := repo.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return notFound(err, apperr.ErrForbidden)
		}
		checkout, err := repo.GetCheckoutBySaleID(ctx, saleID)
		if err != nil {
			return notFound(err, apperr.ErrForbidden)
		}
		if !guestEmailMatches(checkout, email) {
			return apperr.ErrForbidden
		}

		if sale.OrderStatus == models.OrderStatusCancelled {
			return apperr.ErrInvalidState.Withf("sale is cancelled")
		}
		switch sale.PaymentStatus {
		case models.PaymentStatusInvoiceRequested, models.PaymentStatusPendingPayment:
		case models.PaymentStatusAwaitingDelivery:
			return apperr.ErrDeliveryQuoteRequired
		default:
			return apperr.ErrInvalidState.Withf("sale is already %s", sale.PaymentStatus)
		}

		result = &CheckoutResult{
			SaleID:      sale.ID,
			CheckoutID:  checkout.ID,
			Amount:      sale.Amount,
			DeliveryFee: sale.DeliveryFee,
			Total:       sale.Total(),
			Deliverable: true,
		}
		if reusePayment(sale, checkout, result) {
			return nil
		}
		return s.startPayment(ctx, repo, sale, checkout, *checkout.GuestEmail, result)
	})
	if err != nil {
		util.FailSpan(span, err)
		util.CheckoutsFailedTotal.WithLabelValues(apperr.ReasonOf(err)).Inc()
		return nil, err
	}

	util.CheckoutsTotal.WithLabelValues(ModeGuestPay).Inc()
	s.logger.Info("Guest payment initialized", zap.String("sale_id", saleID), zap.String("reference", result.Reference))
	return result, nil
}

// reusePayment fills result from the authorization already issued for the
// sale when it was for the current total. Paying that link must keep working,
// so a fresh reference is only issued when the amount moved.
func reusePayment(sale *models.Sale, checkout *models.Checkout, result *CheckoutResult) bool {
	if sale.PaymentStatus != models.PaymentStatusPendingPayment || sale.Reference() == "" {
		return false
	}
	if checkout.AuthorizationURL == nil || !checkout.Amount.Equal(sale.Total()) {
		return false
	}
	result.PaymentStatus = sale.PaymentStatus
	result.Reference = sale.Reference()
	result.AuthorizationURL = *checkout.AuthorizationURL
	if checkout.AccessCode != nil {
		result.AccessCode = *checkout.AccessCode
	}
	return true
}

// startPayment calls the gateway and records the reference on sale and checkout.
// Earlier references stay resolvable so a superseded link still reconciles.
func (s *CheckoutService) startPayment(ctx context.Context, repo store.Repository, sale *models.Sale, checkout *models.Checkout, email string, result *CheckoutResult) error {
	reference := paystack.GenerateReference()
	auth, err := s.gateway.Initialize(ctx, sale.Total(), email, reference)
	if err != nil {
		return err
	}
	if auth.Reference != "" {
		reference = auth.Reference
	}

	sale.PaymentStatus = models.PaymentStatusPendingPayment
	sale.PaymentReference = &reference
	if err := repo.UpdateSale(ctx, sale); err != nil {
		return fmt.Errorf("failed to record payment reference: %w", err)
	}

	if err := repo.RecordPaymentReference(ctx, sale.ID, reference); err != nil {
		return fmt.Errorf("failed to record payment reference: %w", err)
	}

	checkout.PaymentReference = &reference
	checkout.AuthorizationURL = &auth.AuthorizationURL
	checkout.AccessCode = &auth.AccessCode
	checkout.Amount = sale.Total()
	if err := repo.UpdateCheckout(ctx, checkout); err != nil {
		return fmt.Errorf("failed to record payment reference: %w", err)
	}

	result.PaymentStatus = sale.PaymentStatus
	result.Reference = reference
	result.AuthorizationURL = auth.AuthorizationURL
	result.AccessCode = auth.AccessCode
	return nil
}

// upsertCustomer finds the buyer by user id, or by email for guests, and
// overwrites the contact and address fields
func (s *CheckoutService) upsertCustomer(ctx context.Context, repo store.Repository, actor models.Actor, req *CheckoutRequest, email string) (*models.Customer, error) {
	var existing *models.Customer
	var err error
	if actor.IsGuest() {
		existing, err = repo.FindCustomerByEmail(ctx, email)
	} else {
		existing, err = repo.FindCustomerByUserID(ctx, actor.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}

	customer := existing
	if customer == nil {
		customer = &models.Customer{ID: uuid.New().String()}
		if !actor.IsGuest() {
			userID := actor.UserID
			customer.UserID = &userID
		}
	}
	customer.Name = strings.TrimSpace(req.Name)
	customer.Email = email
	customer.Phone = strings.TrimSpace(req.Phone)
	customer.Address = strings.TrimSpace(req.Address)
	customer.Country = strings.TrimSpace(req.Country)
	customer.Region = strings.TrimSpace(req.Region)
	customer.City = strings.TrimSpace(req.City)
	customer.ExtraInfo = strings.TrimSpace(req.ExtraInfo)

	if existing == nil {
		err = repo.CreateCustomer(ctx, customer)
	} else {
		err = repo.UpdateCustomer(ctx, customer)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save customer: %w", err)
	}
	return customer, nil
}

// lock takes the per-owner checkout lock. Redis trouble is logged and the
// checkout goes ahead; the row locks in the transaction still hold.
func (s *CheckoutService) lock(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}
	token, ok, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		s.logger.Warn("Checkout lock unavailable", zap.String("key", key), zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, apperr.ErrCheckoutInProgress
	}
	return func() {
		if err := s.locker.ReleaseLock(context.Background(), key, token); err != nil {
			s.logger.Warn("Failed to release checkout lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (s *CheckoutService) cachedResult(ctx context.Context, key string) *CheckoutResult {
	if s.idempotency == nil {
		return nil
	}
	raw, found, err := s.idempotency.GetIdempotent(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	var result CheckoutResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		s.logger.Warn("Discarding unreadable idempotent result", zap.String("key", key), zap.Error(err))
		return nil
	}
	s.logger.Info("Duplicate checkout request detected", zap.String("key", key), zap.String("sale_id", result.SaleID))
	return &result
}

func (s *CheckoutService) storeResult(ctx context.Context, key string, result *CheckoutResult) {
	if s.idempotency == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("Failed to encode checkout result", zap.Error(err))
		return
	}
	if err := s.idempotency.SetIdempotent(ctx, key, string(raw), s.idempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotent result", zap.String("key", key), zap.Error(err))
	}
}

func cartProductIDs(carts []models.Cart) []string {
	seen := make(map[string]bool, len(carts))
	ids := make([]string, 0, len(carts))
	for _, c := range carts {
		if !seen[c.ProductID] {
			seen[c.ProductID] = true
			ids = append(ids, c.ProductID)
		}
	}
	return ids
}
