package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shea-order-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	cartColumns     = "id, product_id, quantity, user_id, session_id, checkout_id, created_at, updated_at"
	customerColumns = "id, user_id, name, email, phone, address, country, region, city, extra_info, created_at, updated_at"
	saleColumns     = "id, customer_id, order_status, payment_status, line_items, amount, delivery_fee, payment_reference, created_at, updated_at, deleted_at"
	checkoutColumns = "id, sale_id, payment_reference, authorization_url, access_code, guest_email, amount, created_at, updated_at"
)

// ownerClause renders the open-cart ownership predicate for a bind position
func ownerClause(owner models.CartOwner, pos int) (string, interface{}) {
	if owner.UserID != "" {
		return fmt.Sprintf("user_id = $%d", pos), owner.UserID
	}
	return fmt.Sprintf("user_id IS NULL AND session_id = $%d", pos), owner.SessionID
}

// AddCartItem inserts an open cart line or adds to the quantity of the existing one
func (s *PostgresStore) AddCartItem(ctx context.Context, cart *models.Cart) error {
	conflict := "(product_id, user_id) WHERE checkout_id IS NULL AND user_id IS NOT NULL"
	if cart.UserID == nil {
		conflict = "(product_id, session_id) WHERE checkout_id IS NULL AND user_id IS NULL"
	}

	query := `
		INSERT INTO carts (id, product_id, quantity, user_id, session_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ` + conflict + `
		DO UPDATE SET quantity = carts.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING ` + cartColumns

	return sqlx.GetContext(ctx, s.q, cart, query,
		cart.ID, cart.ProductID, cart.Quantity, cart.UserID, cart.SessionID)
}

// ListOpenCarts retrieves the owner's cart lines not attached to a checkout
func (s *PostgresStore) ListOpenCarts(ctx context.Context, owner models.CartOwner) ([]models.Cart, error) {
	return s.listOpenCarts(ctx, owner, "")
}

// ListOpenCartsForUpdate locks the owner's open cart lines. A concurrent checkout
// blocks here and, once the first commits, re-evaluates checkout_id IS NULL and sees nothing.
func (s *PostgresStore) ListOpenCartsForUpdate(ctx context.Context, owner models.CartOwner) ([]models.Cart, error) {
	return s.listOpenCarts(ctx, owner, " FOR UPDATE")
}

func (s *PostgresStore) listOpenCarts(ctx context.Context, owner models.CartOwner, lock string) ([]models.Cart, error) {
	clause, arg := ownerClause(owner, 1)
	var carts []models.Cart
	err := sqlx.SelectContext(ctx, s.q, &carts,
		"SELECT "+cartColumns+" FROM carts WHERE checkout_id IS NULL AND "+clause+" ORDER BY created_at"+lock, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list open carts: %w", err)
	}
	return carts, nil
}

// ClaimCarts attaches still-open cart lines to a checkout and reports how many were claimed
func (s *PostgresStore) ClaimCarts(ctx context.Context, checkoutID string, cartIDs []string) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		"UPDATE carts SET checkout_id = $1, updated_at = NOW() WHERE id = ANY($2) AND checkout_id IS NULL",
		checkoutID, pq.Array(cartIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to claim carts: %w", err)
	}
	return res.RowsAffected()
}

// GetCustomerByID retrieves a customer by ID
func (s *PostgresStore) GetCustomerByID(ctx context.Context, id string) (*models.Customer, error) {
	var customer models.Customer
	err := sqlx.GetContext(ctx, s.q, &customer, "SELECT "+customerColumns+" FROM customers WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// FindCustomerByUserID returns nil when the user has no customer record yet
func (s *PostgresStore) FindCustomerByUserID(ctx context.Context, userID string) (*models.Customer, error) {
	return s.findCustomer(ctx, "user_id = $1", userID)
}

// FindCustomerByEmail looks up guest customers only; registered users are found by user ID
func (s *PostgresStore) FindCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	return s.findCustomer(ctx, "user_id IS NULL AND LOWER(email) = LOWER($1)", email)
}

func (s *PostgresStore) findCustomer(ctx context.Context, where string, arg interface{}) (*models.Customer, error) {
	var customer models.Customer
	err := sqlx.GetContext(ctx, s.q, &customer,
		"SELECT "+customerColumns+" FROM customers WHERE "+where+" ORDER BY updated_at DESC LIMIT 1", arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// CreateCustomer inserts a customer
func (s *PostgresStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	query := `
		INSERT INTO customers (id, user_id, name, email, phone, address, country, region, city, extra_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	return s.q.QueryRowxContext(ctx, query,
		c.ID, c.UserID, c.Name, c.Email, c.Phone, c.Address, c.Country, c.Region, c.City, c.ExtraInfo,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

// UpdateCustomer overwrites the contact and address fields
func (s *PostgresStore) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	query := `
		UPDATE customers
		SET name = $1, email = $2, phone = $3, address = $4, country = $5, region = $6,
		    city = $7, extra_info = $8, updated_at = NOW()
		WHERE id = $9
		RETURNING updated_at`

	err := s.q.QueryRowxContext(ctx, query,
		c.Name, c.Email, c.Phone, c.Address, c.Country, c.Region, c.City, c.ExtraInfo, c.ID,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// CreateSale inserts a sale with its embedded line items
func (s *PostgresStore) CreateSale(ctx context.Context, sale *models.Sale) error {
	query := `
		INSERT INTO sales (id, customer_id, order_status, payment_status, line_items, amount, delivery_fee, payment_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := s.q.QueryRowxContext(ctx, query,
		sale.ID, sale.CustomerID, sale.OrderStatus, sale.PaymentStatus, sale.LineItems,
		sale.Amount, sale.DeliveryFee, sale.PaymentReference,
	).Scan(&sale.CreatedAt, &sale.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetSaleByID retrieves a sale that has not been soft-deleted
func (s *PostgresStore) GetSaleByID(ctx context.Context, id string) (*models.Sale, error) {
	return s.getSale(ctx, "id = $1", id, "")
}

// GetSaleForUpdate locks a sale row for the rest of the transaction
func (s *PostgresStore) GetSaleForUpdate(ctx context.Context, id string) (*models.Sale, error) {
	return s.getSale(ctx, "id = $1", id, " FOR UPDATE")
}

// GetSaleByReferenceForUpdate locks the sale carrying a gateway reference
func (s *PostgresStore) GetSaleByReferenceForUpdate(ctx context.Context, reference string) (*models.Sale, error) {
	return s.getSale(ctx,
		"(payment_reference = $1 OR id = (SELECT sale_id FROM payment_references WHERE reference = $1))",
		reference, " FOR UPDATE")
}

// RecordPaymentReference remembers a reference issued for a sale
func (s *PostgresStore) RecordPaymentReference(ctx context.Context, saleID, reference string) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO payment_references (reference, sale_id) VALUES ($1, $2) ON CONFLICT (reference) DO NOTHING",
		reference, saleID)
	return err
}

func (s *PostgresStore) getSale(ctx context.Context, where string, arg interface{}, lock string) (*models.Sale, error) {
	var sale models.Sale
	err := sqlx.GetContext(ctx, s.q, &sale,
		"SELECT "+saleColumns+" FROM sales WHERE "+where+" AND deleted_at IS NULL"+lock, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// UpdateSale persists statuses, line items, amounts and the payment reference
func (s *PostgresStore) UpdateSale(ctx context.Context, sale *models.Sale) error {
	query := `
		UPDATE sales
		SET order_status = $1, payment_status = $2, line_items = $3, amount = $4,
		    delivery_fee = $5, payment_reference = $6, updated_at = NOW()
		WHERE id = $7 AND deleted_at IS NULL
		RETURNING updated_at`

	err := s.q.QueryRowxContext(ctx, query,
		sale.OrderStatus, sale.PaymentStatus, sale.LineItems, sale.Amount,
		sale.DeliveryFee, sale.PaymentReference, sale.ID,
	).Scan(&sale.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// CreateCheckout inserts a checkout
func (s *PostgresStore) CreateCheckout(ctx context.Context, c *models.Checkout) error {
	query := `
		INSERT INTO checkouts (id, sale_id, payment_reference, authorization_url, access_code, guest_email, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := s.q.QueryRowxContext(ctx, query,
		c.ID, c.SaleID, c.PaymentReference, c.AuthorizationURL, c.AccessCode, c.GuestEmail, c.Amount,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetCheckoutBySaleID retrieves the checkout wrapping a sale
func (s *PostgresStore) GetCheckoutBySaleID(ctx context.Context, saleID string) (*models.Checkout, error) {
	var checkout models.Checkout
	err := sqlx.GetContext(ctx, s.q, &checkout,
		"SELECT "+checkoutColumns+" FROM checkouts WHERE sale_id = $1", saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &checkout, nil
}

// UpdateCheckout persists the reference, authorization, guest email and amount
func (s *PostgresStore) UpdateCheckout(ctx context.Context, c *models.Checkout) error {
	query := `
		UPDATE checkouts
		SET payment_reference = $1, authorization_url = $2, access_code = $3,
		    guest_email = $4, amount = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`

	err := s.q.QueryRowxContext(ctx, query,
		c.PaymentReference, c.AuthorizationURL, c.AccessCode, c.GuestEmail, c.Amount, c.ID,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
