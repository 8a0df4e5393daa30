package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"shea-order-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const (
	productColumns = "id, sku, name, category, retail_price, wholesale_price, quantity_in_box, created_at, updated_at, deleted_at"
	batchColumns   = "id, batch_number, product_id, quantity, is_active, expiry_date, created_at, updated_at"
)

// PostgresStore implements Store on top of sqlx. A PostgresStore returned to a
// WithTx callback is bound to that transaction.
type PostgresStore struct {
	db *sqlx.DB
	q  sqlx.ExtContext
	tx *sqlx.Tx
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db, q: db}, nil
}

// Migrate applies the embedded schema
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *PostgresStore) GetDB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a READ COMMITTED transaction. Row locks taken with
// FOR UPDATE serialize concurrent writers on the same batch, cart or sale.
func (s *PostgresStore) WithTx(ctx context.Context, fn TxFunc) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &PostgresStore{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetProductByID retrieves a live product by ID
func (s *PostgresStore) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, s.q, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1 AND deleted_at IS NULL", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves live products keyed by ID
func (s *PostgresStore) GetProductsByIDs(ctx context.Context, ids []string) (map[string]models.Product, error) {
	result := make(map[string]models.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?) AND deleted_at IS NULL", ids)
	if err != nil {
		return nil, err
	}
	query = s.q.Rebind(query)

	var products []models.Product
	if err := sqlx.SelectContext(ctx, s.q, &products, query, args...); err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

// GetProductBatch retrieves a batch that belongs to the given product
func (s *PostgresStore) GetProductBatch(ctx context.Context, productID, batchID string) (*models.Batch, error) {
	var batch models.Batch
	err := sqlx.GetContext(ctx, s.q, &batch,
		"SELECT "+batchColumns+" FROM batches WHERE id = $1 AND product_id = $2", batchID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetBatchForUpdate locks a batch row for the rest of the transaction
func (s *PostgresStore) GetBatchForUpdate(ctx context.Context, batchID string) (*models.Batch, error) {
	var batch models.Batch
	err := sqlx.GetContext(ctx, s.q, &batch,
		"SELECT "+batchColumns+" FROM batches WHERE id = $1 FOR UPDATE", batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock batch: %w", err)
	}
	return &batch, nil
}

// UpdateBatchStock writes the new quantity and active flag of a batch
func (s *PostgresStore) UpdateBatchStock(ctx context.Context, batchID string, quantity int, isActive bool) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE batches SET quantity = $1, is_active = $2, updated_at = NOW() WHERE id = $3",
		quantity, isActive, batchID)
	if err != nil {
		return fmt.Errorf("failed to update batch stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *PostgresStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, s.q, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *PostgresStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

var _ Store = (*PostgresStore)(nil)
