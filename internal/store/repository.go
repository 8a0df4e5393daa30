package store

import (
	"context"
	"errors"

	"shea-order-service/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Repository is the data access surface of the fulfillment core.
// Implementations bound to a transaction see each other's writes and hold row locks
// taken by the ForUpdate methods until commit or rollback.
type Repository interface {
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]models.Product, error)

	GetProductBatch(ctx context.Context, productID, batchID string) (*models.Batch, error)
	GetBatchForUpdate(ctx context.Context, batchID string) (*models.Batch, error)
	UpdateBatchStock(ctx context.Context, batchID string, quantity int, isActive bool) error

	AddCartItem(ctx context.Context, cart *models.Cart) error
	ListOpenCarts(ctx context.Context, owner models.CartOwner) ([]models.Cart, error)
	ListOpenCartsForUpdate(ctx context.Context, owner models.CartOwner) ([]models.Cart, error)
	ClaimCarts(ctx context.Context, checkoutID string, cartIDs []string) (int64, error)

	GetCustomerByID(ctx context.Context, id string) (*models.Customer, error)
	FindCustomerByUserID(ctx context.Context, userID string) (*models.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
	CreateCustomer(ctx context.Context, customer *models.Customer) error
	UpdateCustomer(ctx context.Context, customer *models.Customer) error

	CreateSale(ctx context.Context, sale *models.Sale) error
	GetSaleByID(ctx context.Context, id string) (*models.Sale, error)
	GetSaleForUpdate(ctx context.Context, id string) (*models.Sale, error)
	// GetSaleByReferenceForUpdate resolves any reference issued for a sale, current or superseded
	GetSaleByReferenceForUpdate(ctx context.Context, reference string) (*models.Sale, error)
	UpdateSale(ctx context.Context, sale *models.Sale) error
	RecordPaymentReference(ctx context.Context, saleID, reference string) error

	CreateCheckout(ctx context.Context, checkout *models.Checkout) error
	GetCheckoutBySaleID(ctx context.Context, saleID string) (*models.Checkout, error)
	UpdateCheckout(ctx context.Context, checkout *models.Checkout) error

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// TxFunc runs against a repository bound to one transaction
type TxFunc func(ctx context.Context, repo Repository) error

// Store is a Repository that can also open a unit of work.
// WithTx commits when fn returns nil and rolls back otherwise.
type Store interface {
	Repository
	WithTx(ctx context.Context, fn TxFunc) error
	Close() error
}
