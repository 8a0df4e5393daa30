package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"shea-order-service/internal/models"
	"shea-order-service/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type state struct {
	products   map[string]models.Product
	batches    map[string]models.Batch
	customers  map[string]models.Customer
	sales      map[string]models.Sale
	checkouts  map[string]models.Checkout
	carts      map[string]models.Cart
	events     map[string]models.ProcessedEvent
	references map[string]string // every issued payment reference to its sale id
}

func newState() *state {
	return &state{
		products:   map[string]models.Product{},
		batches:    map[string]models.Batch{},
		customers:  map[string]models.Customer{},
		sales:      map[string]models.Sale{},
		checkouts:  map[string]models.Checkout{},
		carts:      map[string]models.Cart{},
		events:     map[string]models.ProcessedEvent{},
		references: map[string]string{},
	}
}

func (st *state) clone() *state {
	cp := newState()
	for k, v := range st.products {
		cp.products[k] = v
	}
	for k, v := range st.batches {
		cp.batches[k] = v
	}
	for k, v := range st.customers {
		cp.customers[k] = v
	}
	for k, v := range st.sales {
		cp.sales[k] = copySale(v)
	}
	for k, v := range st.checkouts {
		cp.checkouts[k] = v
	}
	for k, v := range st.carts {
		cp.carts[k] = v
	}
	for k, v := range st.events {
		cp.events[k] = v
	}
	for k, v := range st.references {
		cp.references[k] = v
	}
	return cp
}

func copySale(s models.Sale) models.Sale {
	items := make(models.LineItems, len(s.LineItems))
	for i, item := range s.LineItems {
		item.BatchAllocations = append([]models.BatchAllocation(nil), item.BatchAllocations...)
		if item.CustomPrice != nil {
			price := *item.CustomPrice
			item.CustomPrice = &price
		}
		items[i] = item
	}
	s.LineItems = items
	return s
}

// Store is an in-memory store. WithTx works on a private copy of the state
// and swaps it in on success, so a failed unit of work leaves no trace.
// Transactions are serialized by a single mutex.
type Store struct {
	mu sync.Mutex
	st *state
}

// New creates an empty store
func New() *Store {
	return &Store{st: newState()}
}

// NewSeeded creates a store with a small shea catalog for local runs
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	products := []models.Product{
		{ID: "prod-raw-shea-500g", Name: "Raw Shea Butter 500g", Category: "butter", RetailPrice: decimal.NewFromInt(45), WholesalePrice: decimal.NewFromInt(35), QuantityInBox: 12},
		{ID: "prod-shea-soap", Name: "African Black Soap with Shea", Category: "soap", RetailPrice: decimal.NewFromInt(20), WholesalePrice: decimal.NewFromInt(14), QuantityInBox: 24},
		{ID: "prod-shea-lotion", Name: "Whipped Shea Body Lotion", Category: "lotion", RetailPrice: decimal.NewFromInt(60), WholesalePrice: decimal.NewFromInt(48), QuantityInBox: 10},
	}
	for _, p := range products {
		p.CreatedAt, p.UpdatedAt = now, now
		s.SeedProduct(p)
		s.SeedBatch(models.Batch{
			ID:          "batch-" + strings.TrimPrefix(p.ID, "prod-") + "-001",
			BatchNumber: strings.ToUpper(strings.TrimPrefix(p.ID, "prod-")) + "-001",
			ProductID:   p.ID,
			Quantity:    200,
			IsActive:    true,
		})
	}
	return s
}

// SeedProduct stores a product as-is
func (s *Store) SeedProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

// SeedBatch stores a batch as-is
func (s *Store) SeedBatch(b models.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.batches[b.ID] = b
}

// SeedCustomer stores a customer as-is
func (s *Store) SeedCustomer(c models.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.customers[c.ID] = c
}

// SeedSale stores a sale as-is
func (s *Store) SeedSale(sale models.Sale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.sales[sale.ID] = copySale(sale)
}

// SeedCheckout stores a checkout as-is
func (s *Store) SeedCheckout(c models.Checkout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.checkouts[c.ID] = c
}

// Batch returns a snapshot of a batch
func (s *Store) Batch(id string) (models.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.batches[id]
	return b, ok
}

// Carts returns a snapshot of every cart row
func (s *Store) Carts() []models.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Cart, 0, len(s.st.carts))
	for _, c := range s.st.carts {
		out = append(out, c)
	}
	return out
}

// Sales returns a snapshot of every sale
func (s *Store) Sales() []models.Sale {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Sale, 0, len(s.st.sales))
	for _, sale := range s.st.sales {
		out = append(out, copySale(sale))
	}
	return out
}

// Checkouts returns a snapshot of every checkout
func (s *Store) Checkouts() []models.Checkout {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Checkout, 0, len(s.st.checkouts))
	for _, c := range s.st.checkouts {
		out = append(out, c)
	}
	return out
}

// WithTx runs fn against a copy of the state and commits it when fn succeeds
func (s *Store) WithTx(ctx context.Context, fn store.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &repo{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

func (s *Store) run(fn func(r *repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&repo{st: s.st})
}

func (s *Store) GetProductByID(ctx context.Context, id string) (p *models.Product, err error) {
	err = s.run(func(r *repo) error { p, err = r.GetProductByID(ctx, id); return err })
	return p, err
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (m map[string]models.Product, err error) {
	err = s.run(func(r *repo) error { m, err = r.GetProductsByIDs(ctx, ids); return err })
	return m, err
}

func (s *Store) GetProductBatch(ctx context.Context, productID, batchID string) (b *models.Batch, err error) {
	err = s.run(func(r *repo) error { b, err = r.GetProductBatch(ctx, productID, batchID); return err })
	return b, err
}

func (s *Store) GetBatchForUpdate(ctx context.Context, batchID string) (b *models.Batch, err error) {
	err = s.run(func(r *repo) error { b, err = r.GetBatchForUpdate(ctx, batchID); return err })
	return b, err
}

func (s *Store) UpdateBatchStock(ctx context.Context, batchID string, quantity int, isActive bool) error {
	return s.run(func(r *repo) error { return r.UpdateBatchStock(ctx, batchID, quantity, isActive) })
}

func (s *Store) AddCartItem(ctx context.Context, cart *models.Cart) error {
	return s.run(func(r *repo) error { return r.AddCartItem(ctx, cart) })
}

func (s *Store) ListOpenCarts(ctx context.Context, owner models.CartOwner) (c []models.Cart, err error) {
	err = s.run(func(r *repo) error { c, err = r.ListOpenCarts(ctx, owner); return err })
	return c, err
}

func (s *Store) ListOpenCartsForUpdate(ctx context.Context, owner models.CartOwner) (c []models.Cart, err error) {
	err = s.run(func(r *repo) error { c, err = r.ListOpenCartsForUpdate(ctx, owner); return err })
	return c, err
}

func (s *Store) ClaimCarts(ctx context.Context, checkoutID string, cartIDs []string) (n int64, err error) {
	err = s.run(func(r *repo) error { n, err = r.ClaimCarts(ctx, checkoutID, cartIDs); return err })
	return n, err
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (c *models.Customer, err error) {
	err = s.run(func(r *repo) error { c, err = r.GetCustomerByID(ctx, id); return err })
	return c, err
}

func (s *Store) FindCustomerByUserID(ctx context.Context, userID string) (c *models.Customer, err error) {
	err = s.run(func(r *repo) error { c, err = r.FindCustomerByUserID(ctx, userID); return err })
	return c, err
}

func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (c *models.Customer, err error) {
	err = s.run(func(r *repo) error { c, err = r.FindCustomerByEmail(ctx, email); return err })
	return c, err
}

func (s *Store) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	return s.run(func(r *repo) error { return r.CreateCustomer(ctx, customer) })
}

func (s *Store) UpdateCustomer(ctx context.Context, customer *models.Customer) error {
	return s.run(func(r *repo) error { return r.UpdateCustomer(ctx, customer) })
}

func (s *Store) CreateSale(ctx context.Context, sale *models.Sale) error {
	return s.run(func(r *repo) error { return r.CreateSale(ctx, sale) })
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (sale *models.Sale, err error) {
	err = s.run(func(r *repo) error { sale, err = r.GetSaleByID(ctx, id); return err })
	return sale, err
}

func (s *Store) GetSaleForUpdate(ctx context.Context, id string) (sale *models.Sale, err error) {
	err = s.run(func(r *repo) error { sale, err = r.GetSaleForUpdate(ctx, id); return err })
	return sale, err
}

func (s *Store) GetSaleByReferenceForUpdate(ctx context.Context, reference string) (sale *models.Sale, err error) {
	err = s.run(func(r *repo) error { sale, err = r.GetSaleByReferenceForUpdate(ctx, reference); return err })
	return sale, err
}

func (s *Store) UpdateSale(ctx context.Context, sale *models.Sale) error {
	return s.run(func(r *repo) error { return r.UpdateSale(ctx, sale) })
}

func (s *Store) RecordPaymentReference(ctx context.Context, saleID, reference string) error {
	return s.run(func(r *repo) error { return r.RecordPaymentReference(ctx, saleID, reference) })
}

func (s *Store) CreateCheckout(ctx context.Context, checkout *models.Checkout) error {
	return s.run(func(r *repo) error { return r.CreateCheckout(ctx, checkout) })
}

func (s *Store) GetCheckoutBySaleID(ctx context.Context, saleID string) (c *models.Checkout, err error) {
	err = s.run(func(r *repo) error { c, err = r.GetCheckoutBySaleID(ctx, saleID); return err })
	return c, err
}

func (s *Store) UpdateCheckout(ctx context.Context, checkout *models.Checkout) error {
	return s.run(func(r *repo) error { return r.UpdateCheckout(ctx, checkout) })
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (ok bool, err error) {
	err = s.run(func(r *repo) error { ok, err = r.IsEventProcessed(ctx, eventID); return err })
	return ok, err
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	return s.run(func(r *repo) error { return r.MarkEventProcessed(ctx, eventID, eventType) })
}

// repo operates directly on one state value; callers hold the store mutex
type repo struct {
	st *state
}

func (r *repo) GetProductByID(_ context.Context, id string) (*models.Product, error) {
	p, ok := r.st.products[id]
	if !ok || p.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (r *repo) GetProductsByIDs(_ context.Context, ids []string) (map[string]models.Product, error) {
	out := make(map[string]models.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.st.products[id]; ok && p.DeletedAt == nil {
			out[id] = p
		}
	}
	return out, nil
}

func (r *repo) GetProductBatch(_ context.Context, productID, batchID string) (*models.Batch, error) {
	b, ok := r.st.batches[batchID]
	if !ok || b.ProductID != productID {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (r *repo) GetBatchForUpdate(_ context.Context, batchID string) (*models.Batch, error) {
	b, ok := r.st.batches[batchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (r *repo) UpdateBatchStock(_ context.Context, batchID string, quantity int, isActive bool) error {
	b, ok := r.st.batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	if quantity < 0 {
		return store.ErrConflict
	}
	b.Quantity = quantity
	b.IsActive = isActive
	b.UpdatedAt = time.Now().UTC()
	r.st.batches[batchID] = b
	return nil
}

func (r *repo) AddCartItem(_ context.Context, cart *models.Cart) error {
	owner := models.CartOwner{}
	if cart.UserID != nil {
		owner.UserID = *cart.UserID
	} else if cart.SessionID != nil {
		owner.SessionID = *cart.SessionID
	}
	now := time.Now().UTC()
	for id, existing := range r.st.carts {
		if existing.CheckoutID == nil && existing.ProductID == cart.ProductID && owner.Owns(&existing) {
			existing.Quantity += cart.Quantity
			existing.UpdatedAt = now
			r.st.carts[id] = existing
			*cart = existing
			return nil
		}
	}
	if cart.ID == "" {
		cart.ID = uuid.New().String()
	}
	cart.CreatedAt, cart.UpdatedAt = now, now
	r.st.carts[cart.ID] = *cart
	return nil
}

func (r *repo) ListOpenCarts(_ context.Context, owner models.CartOwner) ([]models.Cart, error) {
	out := make([]models.Cart, 0, 4)
	for _, c := range r.st.carts {
		c := c
		if c.CheckoutID == nil && owner.Owns(&c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *repo) ListOpenCartsForUpdate(ctx context.Context, owner models.CartOwner) ([]models.Cart, error) {
	return r.ListOpenCarts(ctx, owner)
}

func (r *repo) ClaimCarts(_ context.Context, checkoutID string, cartIDs []string) (int64, error) {
	var n int64
	now := time.Now().UTC()
	for _, id := range cartIDs {
		c, ok := r.st.carts[id]
		if !ok || c.CheckoutID != nil {
			continue
		}
		cid := checkoutID
		c.CheckoutID = &cid
		c.UpdatedAt = now
		r.st.carts[id] = c
		n++
	}
	return n, nil
}

func (r *repo) GetCustomerByID(_ context.Context, id string) (*models.Customer, error) {
	c, ok := r.st.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (r *repo) FindCustomerByUserID(_ context.Context, userID string) (*models.Customer, error) {
	for _, c := range r.st.customers {
		if c.UserID != nil && *c.UserID == userID {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (r *repo) FindCustomerByEmail(_ context.Context, email string) (*models.Customer, error) {
	want := models.NormalizeEmail(email)
	var found *models.Customer
	for _, c := range r.st.customers {
		if c.UserID == nil && models.NormalizeEmail(c.Email) == want {
			c := c
			if found == nil || c.UpdatedAt.After(found.UpdatedAt) {
				found = &c
			}
		}
	}
	return found, nil
}

func (r *repo) CreateCustomer(_ context.Context, c *models.Customer) error {
	if _, exists := r.st.customers[c.ID]; exists {
		return store.ErrConflict
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.st.customers[c.ID] = *c
	return nil
}

func (r *repo) UpdateCustomer(_ context.Context, c *models.Customer) error {
	existing, ok := r.st.customers[c.ID]
	if !ok {
		return store.ErrNotFound
	}
	c.UserID = existing.UserID
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	r.st.customers[c.ID] = *c
	return nil
}

func (r *repo) CreateSale(_ context.Context, sale *models.Sale) error {
	if _, exists := r.st.sales[sale.ID]; exists {
		return store.ErrConflict
	}
	if err := r.checkReferenceUnique(sale); err != nil {
		return err
	}
	now := time.Now().UTC()
	sale.CreatedAt, sale.UpdatedAt = now, now
	r.st.sales[sale.ID] = copySale(*sale)
	return nil
}

func (r *repo) checkReferenceUnique(sale *models.Sale) error {
	if sale.PaymentReference == nil {
		return nil
	}
	for id, other := range r.st.sales {
		if id != sale.ID && other.PaymentReference != nil && *other.PaymentReference == *sale.PaymentReference {
			return store.ErrConflict
		}
	}
	return nil
}

func (r *repo) GetSaleByID(_ context.Context, id string) (*models.Sale, error) {
	sale, ok := r.st.sales[id]
	if !ok || sale.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cp := copySale(sale)
	return &cp, nil
}

func (r *repo) GetSaleForUpdate(ctx context.Context, id string) (*models.Sale, error) {
	return r.GetSaleByID(ctx, id)
}

func (r *repo) GetSaleByReferenceForUpdate(ctx context.Context, reference string) (*models.Sale, error) {
	for _, sale := range r.st.sales {
		if sale.DeletedAt == nil && sale.PaymentReference != nil && *sale.PaymentReference == reference {
			cp := copySale(sale)
			return &cp, nil
		}
	}
	if saleID, ok := r.st.references[reference]; ok {
		return r.GetSaleByID(ctx, saleID)
	}
	return nil, store.ErrNotFound
}

func (r *repo) RecordPaymentReference(_ context.Context, saleID, reference string) error {
	if _, ok := r.st.sales[saleID]; !ok {
		return store.ErrNotFound
	}
	if _, exists := r.st.references[reference]; !exists {
		r.st.references[reference] = saleID
	}
	return nil
}

func (r *repo) UpdateSale(_ context.Context, sale *models.Sale) error {
	existing, ok := r.st.sales[sale.ID]
	if !ok || existing.DeletedAt != nil {
		return store.ErrNotFound
	}
	if err := r.checkReferenceUnique(sale); err != nil {
		return err
	}
	sale.CreatedAt = existing.CreatedAt
	sale.UpdatedAt = time.Now().UTC()
	r.st.sales[sale.ID] = copySale(*sale)
	return nil
}

func (r *repo) CreateCheckout(_ context.Context, c *models.Checkout) error {
	for _, existing := range r.st.checkouts {
		if existing.ID == c.ID || existing.SaleID == c.SaleID {
			return store.ErrConflict
		}
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.st.checkouts[c.ID] = *c
	return nil
}

func (r *repo) GetCheckoutBySaleID(_ context.Context, saleID string) (*models.Checkout, error) {
	for _, c := range r.st.checkouts {
		if c.SaleID == saleID {
			c := c
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *repo) UpdateCheckout(_ context.Context, c *models.Checkout) error {
	existing, ok := r.st.checkouts[c.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.PaymentReference = c.PaymentReference
	existing.GuestEmail = c.GuestEmail
	existing.Amount = c.Amount
	existing.UpdatedAt = time.Now().UTC()
	r.st.checkouts[c.ID] = existing
	*c = existing
	return nil
}

func (r *repo) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	_, ok := r.st.events[eventID]
	return ok, nil
}

func (r *repo) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	if _, ok := r.st.events[eventID]; ok {
		return nil
	}
	r.st.events[eventID] = models.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: time.Now().UTC()}
	return nil
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.Repository = (*repo)(nil)
)
