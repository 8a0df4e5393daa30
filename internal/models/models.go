package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog item
type Product struct {
	ID             string          `db:"id" json:"id"`
	SKU            *string         `db:"sku" json:"sku,omitempty"`
	Name           string          `db:"name" json:"name"`
	Category       string          `db:"category" json:"category"`
	RetailPrice    decimal.Decimal `db:"retail_price" json:"retail_price"`
	WholesalePrice decimal.Decimal `db:"wholesale_price" json:"wholesale_price"`
	QuantityInBox  int             `db:"quantity_in_box" json:"quantity_in_box"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Batch is a production lot of one product. Quantity is the available stock.
type Batch struct {
	ID          string     `db:"id" json:"id"`
	BatchNumber string     `db:"batch_number" json:"batch_number"`
	ProductID   string     `db:"product_id" json:"product_id"`
	Quantity    int        `db:"quantity" json:"quantity"`
	IsActive    bool       `db:"is_active" json:"is_active"`
	ExpiryDate  *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Customer is a purchaser snapshot, linked to a user or identified by email
type Customer struct {
	ID        string    `db:"id" json:"id"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone"`
	Address   string    `db:"address" json:"address"`
	Country   string    `db:"country" json:"country"`
	Region    string    `db:"region" json:"region"`
	City      string    `db:"city" json:"city"`
	ExtraInfo string    `db:"extra_info" json:"extra_info,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BatchAllocation assigns a quantity of one batch to a line item
type BatchAllocation struct {
	BatchID  string `json:"batch_id"`
	Quantity int    `json:"quantity"`
}

// LineItem is one product entry within a sale
type LineItem struct {
	ProductID         string            `json:"product_id"`
	ProductName       string            `json:"product_name,omitempty"`
	BatchAllocations  []BatchAllocation `json:"batch_allocations"`
	RequestedQuantity int               `json:"requested_quantity"`
	CustomPrice       *decimal.Decimal  `json:"custom_price,omitempty"`
	FinalPrice        decimal.Decimal   `json:"final_price"`
}

// AllocatedQuantity sums the quantities of all batch allocations
func (li LineItem) AllocatedQuantity() int {
	total := 0
	for _, a := range li.BatchAllocations {
		total += a.Quantity
	}
	return total
}

// Subtotal is the final unit price times the requested quantity
func (li LineItem) Subtotal() decimal.Decimal {
	return li.FinalPrice.Mul(decimal.NewFromInt(int64(li.RequestedQuantity)))
}

// LineItems is stored as a JSONB column on the sale row
type LineItems []LineItem

// Value implements driver.Valuer
func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *LineItems) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = LineItems{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported line items column type %T", src)
	}
	return json.Unmarshal(data, l)
}

// Sale represents one customer order
type Sale struct {
	ID               string          `db:"id" json:"id"`
	CustomerID       string          `db:"customer_id" json:"customer_id"`
	OrderStatus      OrderStatus     `db:"order_status" json:"order_status"`
	PaymentStatus    PaymentStatus   `db:"payment_status" json:"payment_status"`
	LineItems        LineItems       `db:"line_items" json:"line_items"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	DeliveryFee      decimal.Decimal `db:"delivery_fee" json:"delivery_fee"`
	PaymentReference *string         `db:"payment_reference" json:"payment_reference,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Total is the product subtotal plus the delivery fee
func (s *Sale) Total() decimal.Decimal {
	return s.Amount.Add(s.DeliveryFee)
}

// BatchesAssigned reports whether every line item draws from at least one batch
func (s *Sale) BatchesAssigned() bool {
	if len(s.LineItems) == 0 {
		return false
	}
	for _, item := range s.LineItems {
		if len(item.BatchAllocations) == 0 {
			return false
		}
	}
	return true
}

// Reference returns the payment reference or an empty string
func (s *Sale) Reference() string {
	if s.PaymentReference == nil {
		return ""
	}
	return *s.PaymentReference
}

// Checkout wraps a sale with payment and cart linkage
type Checkout struct {
	ID               string          `db:"id" json:"id"`
	SaleID           string          `db:"sale_id" json:"sale_id"`
	PaymentReference *string         `db:"payment_reference" json:"payment_reference,omitempty"`
	AuthorizationURL *string         `db:"authorization_url" json:"authorization_url,omitempty"`
	AccessCode       *string         `db:"access_code" json:"access_code,omitempty"`
	GuestEmail       *string         `db:"guest_email" json:"guest_email,omitempty"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Cart is a pending line not yet attached to a checkout
type Cart struct {
	ID         string    `db:"id" json:"id"`
	ProductID  string    `db:"product_id" json:"product_id"`
	Quantity   int       `db:"quantity" json:"quantity"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	SessionID  *string   `db:"session_id" json:"session_id,omitempty"`
	CheckoutID *string   `db:"checkout_id" json:"checkout_id,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// CartOwner identifies whose open cart is addressed: a user, or an anonymous session
type CartOwner struct {
	UserID    string
	SessionID string
}

// Key returns a stable identifier used for locks
func (o CartOwner) Key() string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return "session:" + o.SessionID
}

// IsZero reports whether neither a user nor a session is set
func (o CartOwner) IsZero() bool {
	return o.UserID == "" && o.SessionID == ""
}

// Owns reports whether the cart row belongs to the owner
func (o CartOwner) Owns(c *Cart) bool {
	if o.UserID != "" {
		return c.UserID != nil && *c.UserID == o.UserID
	}
	return c.UserID == nil && c.SessionID != nil && *c.SessionID == o.SessionID
}

// Actor roles
const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

// Actor is the caller of an operation. An empty UserID means a guest.
type Actor struct {
	UserID    string
	Role      string
	Email     string
	SessionID string
}

// IsAdmin reports whether the actor has the admin role
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsGuest reports whether the actor is unauthenticated
func (a Actor) IsGuest() bool {
	return a.UserID == ""
}

// CartOwner derives the cart owner from the actor
func (a Actor) CartOwner() CartOwner {
	if a.UserID != "" {
		return CartOwner{UserID: a.UserID}
	}
	return CartOwner{SessionID: a.SessionID}
}

// NormalizeEmail lower-cases and trims an address for comparisons
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
