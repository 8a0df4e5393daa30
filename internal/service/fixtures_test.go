package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"shea-order-service/config"
	"shea-order-service/internal/delivery"
	"shea-order-service/internal/models"
	"shea-order-service/internal/paystack"
	"shea-order-service/internal/store/memory"

	"github.com/shopspring/decimal"
)

type refundCall struct {
	reference string
	amount    *decimal.Decimal
}

type fakeGateway struct {
	mu          sync.Mutex
	initErr     error
	verifyErr   error
	refundErr   error
	initCalls   int
	verifyCalls int
	refunds     []refundCall
	// charged is what the processor reports as paid per reference, in minor units
	charged map[string]int64
}

// charge records that reference was paid amount at the processor
func (g *fakeGateway) charge(reference, amount string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.charged == nil {
		g.charged = map[string]int64{}
	}
	g.charged[reference] = paystack.ToMinorUnits(dec(amount))
}

func (g *fakeGateway) Initialize(_ context.Context, amount decimal.Decimal, email, reference string) (*paystack.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls++
	if g.initErr != nil {
		return nil, g.initErr
	}
	if g.charged == nil {
		g.charged = map[string]int64{}
	}
	g.charged[reference] = paystack.ToMinorUnits(amount)
	return &paystack.Authorization{
		AuthorizationURL: "https://pay.test/" + reference,
		AccessCode:       "code-" + reference,
		Reference:        reference,
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, reference string) (*paystack.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return &paystack.Transaction{Reference: reference, Status: "success", Amount: g.charged[reference]}, nil
}

func (g *fakeGateway) Refund(_ context.Context, reference string, amount *decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunds = append(g.refunds, refundCall{reference: reference, amount: amount})
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, note models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

func (n *fakeNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Template)
	}
	return out
}

func (n *fakeNotifier) count(template string) int {
	c := 0
	for _, t := range n.templates() {
		if t == template {
			c++
		}
	}
	return c
}

var errBoom = errors.New("boom")

const (
	productSoap   = "prod-soap"
	productButter = "prod-butter"
	batchSoap     = "batch-soap-1"
	batchSoapB    = "batch-soap-2"
	batchButter   = "batch-butter-1"
	customerAma   = "cust-ama"
	userAma       = "user-ama"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strPtr(s string) *string {
	return &s
}

// newFixtureStore seeds two products with batches and one registered customer
func newFixtureStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	st.SeedProduct(models.Product{ID: productSoap, Name: "Shea Soap", RetailPrice: dec("20"), QuantityInBox: 12})
	st.SeedProduct(models.Product{ID: productButter, Name: "Raw Shea Butter", RetailPrice: dec("45"), QuantityInBox: 10})
	st.SeedBatch(models.Batch{ID: batchSoap, BatchNumber: "SOAP-001", ProductID: productSoap, Quantity: 10, IsActive: true})
	st.SeedBatch(models.Batch{ID: batchSoapB, BatchNumber: "SOAP-002", ProductID: productSoap, Quantity: 3, IsActive: true})
	st.SeedBatch(models.Batch{ID: batchButter, BatchNumber: "BUTTER-001", ProductID: productButter, Quantity: 8, IsActive: true})
	st.SeedCustomer(models.Customer{ID: customerAma, UserID: strPtr(userAma), Name: "Ama", Email: "ama@example.com", Country: "Ghana", City: "Tamale"})
	return st
}

func newCalculator() *delivery.Calculator {
	return delivery.NewCalculator(config.DeliveryConfig{
		Country:     "Ghana",
		CityRates:   map[string]decimal.Decimal{"Tamale": dec("25")},
		RegionRates: map[string]decimal.Decimal{"Northern": dec("35")},
		DefaultRate: dec("60"),
	})
}

func batchQty(t *testing.T, st *memory.Store, id string) int {
	t.Helper()
	b, ok := st.Batch(id)
	if !ok {
		t.Fatalf("batch %s missing", id)
	}
	return b.Quantity
}

// seedSale stores a sale owned by customerAma with one soap line allocated to batchSoap
func seedSale(st *memory.Store, id string, order models.OrderStatus, payment models.PaymentStatus, total string, reference *string) *models.Sale {
	sale := models.Sale{
		ID:            id,
		CustomerID:    customerAma,
		OrderStatus:   order,
		PaymentStatus: payment,
		LineItems: models.LineItems{{
			ProductID:         productSoap,
			BatchAllocations:  []models.BatchAllocation{{BatchID: batchSoap, Quantity: 2}},
			RequestedQuantity: 2,
			FinalPrice:        dec(total).Div(decimal.NewFromInt(2)),
		}},
		Amount:           dec(total),
		DeliveryFee:      decimal.Zero,
		PaymentReference: reference,
	}
	st.SeedSale(sale)
	st.SeedCheckout(models.Checkout{ID: "chk-" + id, SaleID: id, PaymentReference: reference, Amount: dec(total)})
	return &sale
}

var (
	adminActor    = models.Actor{UserID: "user-admin", Role: models.RoleAdmin, Email: "admin@example.com"}
	customerActor = models.Actor{UserID: userAma, Role: models.RoleCustomer, Email: "ama@example.com"}
	strangerActor = models.Actor{UserID: "user-kofi", Role: models.RoleCustomer, Email: "kofi@example.com"}
)
