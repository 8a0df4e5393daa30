package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"shea-order-service/internal/apperr"
	"shea-order-service/internal/models"
	"shea-order-service/internal/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	held bool
	err  error
	mu   sync.Mutex
	keys []string
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	l.keys = append(l.keys, key)
	return "token", !l.held, nil
}

func (l *fakeLocker) ReleaseLock(context.Context, string, string) error { return nil }

type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (c *fakeCache) GetIdempotent(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) SetIdempotent(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string]string{}
	}
	c.data[key] = value
	return nil
}

var guestActor = models.Actor{SessionID: "sess-guest"}

func addCart(t *testing.T, st *memory.Store, actor models.Actor, productID string, qty int) {
	t.Helper()
	owner := actor.CartOwner()
	cart := &models.Cart{ID: uuid.New().String(), ProductID: productID, Quantity: qty}
	if owner.UserID != "" {
		cart.UserID = strPtr(owner.UserID)
	} else {
		cart.SessionID = strPtr(owner.SessionID)
	}
	require.NoError(t, st.AddCartItem(context.Background(), cart))
}

func tamaleRequest(email string) *CheckoutRequest {
	return &CheckoutRequest{Name: "Ama", Email: email, Phone: "0240000000", Address: "12 Market Rd", Country: "Ghana", Region: "Northern", City: "Tamale"}
}

func newCheckout(st *memory.Store, gw *fakeGateway, n *fakeNotifier, opts CheckoutOptions) *CheckoutService {
	if opts.AdminEmail == "" {
		opts.AdminEmail = "orders@example.com"
	}
	return NewCheckoutService(st, gw, newCalculator(), n, opts)
}

func openCarts(st *memory.Store) int {
	n := 0
	for _, c := range st.Carts() {
		if c.CheckoutID == nil {
			n++
		}
	}
	return n
}

func TestPlaceOrder_HappyPath(t *testing.T) {
	st := newFixtureStore(t)
	notifier := &fakeNotifier{}
	svc := newCheckout(st, &fakeGateway{}, notifier, CheckoutOptions{})
	addCart(t, st, customerActor, productSoap, 2)

	res, err := svc.PlaceOrder(context.Background(), customerActor, tamaleRequest(""))

	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(dec("40")))
	assert.True(t, res.DeliveryFee.Equal(dec("25")))
	assert.True(t, res.Total.Equal(dec("65")))
	assert.Equal(t, models.PaymentStatusInvoiceRequested, res.PaymentStatus)
	assert.Empty(t, res.Reference)

	sales := st.Sales()
	require.Len(t, sales, 1)
	assert.Equal(t, customerAma, sales[0].CustomerID, "registered user reuses the linked customer")
	assert.Equal(t, models.OrderStatusPending, sales[0].OrderStatus)
	require.Len(t, sales[0].LineItems, 1)
	assert.Empty(t, sales[0].LineItems[0].BatchAllocations)
	assert.Equal(t, 2, sales[0].LineItems[0].RequestedQuantity)

	checkouts := st.Checkouts()
	require.Len(t, checkouts, 1)
	assert.True(t, checkouts[0].Amount.Equal(dec("65")))
	assert.Nil(t, checkouts[0].GuestEmail)

	assert.Equal(t, 0, openCarts(st))
	assert.Equal(t, 10, batchQty(t, st, batchSoap), "checkout does not allocate stock")
	assert.ElementsMatch(t, []string{models.TemplateOrderPlaced, models.TemplateOrderPlacedAdmin}, notifier.templates())
}

func TestPlaceOrder_UndeliverableAwaitsDeliveryQuote(t *testing.T) {
	st := newFixtureStore(t)
	svc := newCheckout(st, &fakeGateway{}, &fakeNotifier{}, CheckoutOptions{})
	addCart(t, st, guestActor, productButter, 3)
	req := tamaleRequest("yaw@example.com")
	req.Country, req.City = "Togo", "Lome"

	res, err := svc.PlaceOrder(context.Background(), guestActor, req)

	require.NoError(t, err)
	assert.False(t, res.Deliverable)
	assert.Equal(t, models.PaymentStatusAwaitingDelivery, res.PaymentStatus)
	assert.True(t, res.DeliveryFee.IsZero())
	assert.True(t, res.Total.Equal(dec("135")))
	require.Len(t, st.Checkouts(), 1)
	assert.Equal(t, "yaw@example.com", *st.Checkouts()[0].GuestEmail)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	st := newFixtureStore(t)
	svc := newCheckout(st, &fakeGateway{}, &fakeNotifier{}, CheckoutOptions{})

	_, err := svc.PlaceOrder(context.Background(), customerActor, tamaleRequest(""))

	assert.ErrorIs(t, err, apperr.ErrEmptyCart)
}

func TestPlaceOrder_RequiresOwnerAndEmail(t *testing.T) {
	st := newFixtureStore(t)
	svc := newCheckout(st, &fakeGateway{}, &fakeNotifier{}, CheckoutOptions{})

	_, err := svc.PlaceOrder(context.Background(), models.Actor{}, tamaleRequest("a@b.c"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.PlaceOrder(context.Background(), guestActor, tamaleRequest(""))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPlaceOrder_ConcurrentCheckoutsClaimCartOnce(t *testing.T) {
	st := newFixtureStore(t)
	svc := newCheckout(st, &fakeGateway{}, &fakeNotifier{}, CheckoutOptions{})
	addCart(t, st, customerActor, productSoap, 2)
	addCart(t, st, customerActor, productButter, 1)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.PlaceOrder(context.Background(), customerActor, tamaleRequest(""))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrEmptyCart)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, st.Sales(), 1)
}

func TestInitializeTransaction_StartsPayment(t *testing.T) {
	st := newFixtureStore(t)
	gw := &fakeGateway{}
	svc := newCheckout(st, gw, &fakeNotifier{}, CheckoutOptions{})
	addCart(t, st, customerActor, productSoap, 2)

	res, err := svc.InitializeTransaction(context.Background(), customerActor, tamaleRequest(""))

	require.NoError(t, err)
	assert.Equal(t, 1, gw.initCalls)
	assert.NotEmpty(t, res.Reference)
	assert.Equal(t, "https://pay.test/"+res.Reference, res.AuthorizationURL)
	assert.Equal(t, models.PaymentStatusPendingPayment, res.PaymentStatus)

	sale := st.Sales()[0]
	assert.Equal(t, res.Reference, sale.Reference())
	assert.Equal(t, models.PaymentStatusPendingPayment, sale.PaymentStatus)
	assert.Equal(t, res.Reference, *st.Checkouts()[0].PaymentReference)
}

func TestInitializeTransaction_GatewayFailureRollsBackEverything(t *testing.T) {
	st := newFixtureStore(t)
	gw := &fakeGateway{initErr: apperr.ErrPaymentInitFailed.Wrap(errBoom)}
	notifier := &fakeNotifier{}
	svc := newCheckout(st, gw, notifier, CheckoutOptions{})
	addCart(t, st, guestActor, productSoap, 2)
	addCart(t, st, guestActor, productButter, 1)

	_, err := svc.InitializeTransaction(context.Background(), guestActor, tamaleRequest("yaw@example.com"))

	assert.ErrorIs(t, err, apperr.ErrPaymentInitFailed)
	assert.Empty(t, st.Sales())
	assert.Empty(t, st.Checkouts())
	assert.Equal(t, 2, openCarts(st))
	assert.Empty(t, notifier.templates())
}

func TestInitializeTransaction_UndeliverableRejectedBeforeGateway(t *testing.T) {
	st := newFixtureStore(t)
	gw := &fakeGateway{}
	svc := newCheckout(st, gw, &fakeNotifier{}, CheckoutOptions{})
	addCart(t, st, customerActor, productSoap, 1)
	req := tamaleRequest("")
	req.Country = "Nigeria"

	_, err := svc.InitializeTransaction(context.Background(), customerActor, req)

	assert.ErrorIs(t, err, apperr.ErrDeliveryQuoteRequired)
	assert.Equal(t, 0, gw.initCalls)
	assert.Equal(t, 1, openCarts(st))
}

func TestCheckout_LockHeldElsewhere(t *testing.T) {
	st := newFixtureStore(t)
	locker := &fakeLocker{held: true}
	svc := newCheckout(st, &fakeGateway{}, &fakeNotifier{}, CheckoutOptions{Locker: locker})
	addCart(t, st, customerActor, productSoap, 1)

	_, err := svc.PlaceOrder(context.Background(), customerActor, tamaleRequest(""))

	assert.ErrorIs(t, err, apperr.ErrCheckoutInProgress)
	assert.Equal(t, []string{"checkout:user:" + userAma}, locker.keys)
	assert.Equal(t, 1, openCarts(st))
}

func TestCheckout_LockErrorDoesNotBlock(t *testing.T) {
	st := newFixtureStore(t)
	svc := newCheckout(st, &fakeGateway{}, &fakeNotifier{}, CheckoutOptions{Locker: &fakeLocker{err: errBoom}})
	addCart(t, st, customerActor, productSoap, 1)

	_, err := svc.PlaceOrder(context.Background(), customerActor, tamaleRequest(""))

	assert.NoError(t, err)
}

func TestCheckout_IdempotencyKeyReplaysResult(t *testing.T) {
	st := newFixtureStore(t)
	svc := newCheckout(st, &fakeGateway{}, &fakeNotifier{}, CheckoutOptions{Idempotency: &fakeCache{}})
	addCart(t, st, customerActor, productSoap, 2)

	req := tamaleRequest("")
	req.IdempotencyKey = "key-1"
	first, err := svc.PlaceOrder(context.Background(), customerActor, req)
	require.NoError(t, err)

	second, err := svc.PlaceOrder(context.Background(), customerActor, req)
	require.NoError(t, err)

	assert.Equal(t, first.SaleID, second.SaleID)
	assert.True(t, second.Total.Equal(dec("65")))
	assert.Len(t, st.Sales(), 1)
}

func TestCheckout_NotificationFailureDoesNotFail(t *testing.T) {
	st := newFixtureStore(t)
	svc := newCheckout(st, &fakeGateway{}, &fakeNotifier{err: errBoom}, CheckoutOptions{})
	addCart(t, st, customerActor, productSoap, 1)

	_, err := svc.PlaceOrder(context.Background(), customerActor, tamaleRequest(""))

	require.NoError(t, err)
	assert.Len(t, st.Sales(), 1)
}

func TestInitializeGuestPayment(t *testing.T) {
	st := newFixtureStore(t)
	gw := &fakeGateway{}
	svc := newCheckout(st, gw, &fakeNotifier{}, CheckoutOptions{})
	addCart(t, st, guestActor, productSoap, 2)

	placed, err := svc.PlaceOrder(context.Background(), guestActor, tamaleRequest("Yaw@Example.com"))
	require.NoError(t, err)

	_, err = svc.InitializeGuestPayment(context.Background(), placed.SaleID, "someone@example.com")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.InitializeGuestPayment(context.Background(), "sale-unknown", "yaw@example.com")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, 0, gw.initCalls)

	res, err := svc.InitializeGuestPayment(context.Background(), placed.SaleID, " yaw@example.com ")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPendingPayment, res.PaymentStatus)
	assert.True(t, res.Total.Equal(dec("65")))
	assert.Equal(t, res.Reference, st.Sales()[0].Reference())
}

func TestInitializeGuestPayment_AwaitingDeliveryQuote(t *testing.T) {
	st := newFixtureStore(t)
	svc := newCheckout(st, &fakeGateway{}, &fakeNotifier{}, CheckoutOptions{})
	addCart(t, st, guestActor, productSoap, 2)
	req := tamaleRequest("yaw@example.com")
	req.Country = "Togo"

	placed, err := svc.PlaceOrder(context.Background(), guestActor, req)
	require.NoError(t, err)

	_, err = svc.InitializeGuestPayment(context.Background(), placed.SaleID, "yaw@example.com")
	assert.ErrorIs(t, err, apperr.ErrDeliveryQuoteRequired)
}

func TestInitializeGuestPayment_RepeatReturnsLiveAuthorization(t *testing.T) {
	st := newFixtureStore(t)
	gw := &fakeGateway{}
	svc := newCheckout(st, gw, &fakeNotifier{}, CheckoutOptions{})
	reconciler := NewPaymentReconciler(st, gw, &fakeNotifier{}, webhookSecret, "orders@example.com")
	addCart(t, st, guestActor, productSoap, 2)

	placed, err := svc.PlaceOrder(context.Background(), guestActor, tamaleRequest("yaw@example.com"))
	require.NoError(t, err)

	first, err := svc.InitializeGuestPayment(context.Background(), placed.SaleID, "yaw@example.com")
	require.NoError(t, err)
	second, err := svc.InitializeGuestPayment(context.Background(), placed.SaleID, "yaw@example.com")
	require.NoError(t, err)

	assert.Equal(t, 1, gw.initCalls)
	assert.Equal(t, first.Reference, second.Reference)
	assert.Equal(t, first.AuthorizationURL, second.AuthorizationURL)
	assert.Equal(t, first.AccessCode, second.AccessCode)

	res, err := reconciler.MarkPaid(context.Background(), first.Reference)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, models.PaymentStatusPaid, st.Sales()[0].PaymentStatus)
}

func TestInitializeGuestPayment_SupersededReferenceStillSettles(t *testing.T) {
	st := newFixtureStore(t)
	gw := &fakeGateway{}
	notifier := &fakeNotifier{}
	svc := newCheckout(st, gw, &fakeNotifier{}, CheckoutOptions{})
	sales := newSaleService(st, &fakeNotifier{})
	reconciler := NewPaymentReconciler(st, gw, notifier, webhookSecret, "orders@example.com")
	addCart(t, st, guestActor, productSoap, 2)

	placed, err := svc.PlaceOrder(context.Background(), guestActor, tamaleRequest("yaw@example.com"))
	require.NoError(t, err)
	first, err := svc.InitializeGuestPayment(context.Background(), placed.SaleID, "yaw@example.com")
	require.NoError(t, err)

	_, err = sales.UpdateDeliveryCost(context.Background(), placed.SaleID, dec("30"))
	require.NoError(t, err)

	second, err := svc.InitializeGuestPayment(context.Background(), placed.SaleID, "yaw@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, gw.initCalls, "the total moved, so a new authorization is issued")
	assert.NotEqual(t, first.Reference, second.Reference)
	assert.True(t, second.Total.Equal(dec("70")))

	// the buyer paid the old link at the old total
	_, err = reconciler.MarkPaid(context.Background(), first.Reference)
	assert.ErrorIs(t, err, apperr.ErrAmountMismatch)
	assert.Equal(t, models.PaymentStatusPendingPayment, st.Sales()[0].PaymentStatus)
	assert.Equal(t, 1, notifier.count(models.TemplatePaymentReviewAdmin))

	// a full charge on the old link still settles the sale
	gw.charge(first.Reference, "70")
	res, err := reconciler.MarkPaid(context.Background(), first.Reference)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.True(t, res.Changed)
	assert.Equal(t, placed.SaleID, res.SaleID)
	assert.Equal(t, models.PaymentStatusPaid, st.Sales()[0].PaymentStatus)
	assert.Equal(t, first.Reference, st.Sales()[0].Reference(), "refunds target the settling transaction")
}
