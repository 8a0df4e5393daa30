package service

import (
	"context"
	"errors"
	"fmt"

	"shea-order-service/internal/apperr"
	"shea-order-service/internal/store"
	"shea-order-service/internal/util"

	"go.uber.org/zap"
)

// StockLedger is the only writer of batch quantities. Both operations run
// against the repository of the caller's transaction.
type StockLedger struct {
	logger *zap.Logger
}

// NewStockLedger creates a new stock ledger
func NewStockLedger() *StockLedger {
	return &StockLedger{logger: util.GetLogger()}
}

// Deduct removes qty units from a batch, deactivating it when it runs empty
func (l *StockLedger) Deduct(ctx context.Context, repo store.Repository, batchID string, qty int) error {
	ctx, span := util.StartSpan(ctx, "StockLedger.Deduct")
	defer span.End()

	if qty <= 0 {
		return apperr.ErrInvalidQuantity.Withf("deduct %d from batch %s", qty, batchID)
	}

	batch, err := repo.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		util.StockDeductionsFailed.WithLabelValues("batch_not_found").Inc()
		return notFound(err, apperr.ErrBatchNotFound.Withf("batch %s", batchID))
	}

	if batch.Quantity < qty {
		util.StockDeductionsFailed.WithLabelValues("insufficient_stock").Inc()
		return apperr.ErrInsufficientStock.Withf("batch %s has %d, need %d", batchID, batch.Quantity, qty)
	}

	remaining := batch.Quantity - qty
	active := batch.IsActive
	if remaining == 0 {
		active = false
	}

	if err := repo.UpdateBatchStock(ctx, batchID, remaining, active); err != nil {
		return fmt.Errorf("failed to deduct stock: %w", err)
	}

	util.StockDeductedUnits.Add(float64(qty))
	l.logger.Debug("Stock deducted",
		zap.String("batch_id", batchID),
		zap.Int("quantity", qty),
		zap.Int("remaining", remaining))
	return nil
}

// Return puts qty units back on a batch. A batch that no longer exists is
// logged and skipped so it never blocks a cancellation.
func (l *StockLedger) Return(ctx context.Context, repo store.Repository, batchID string, qty int) error {
	ctx, span := util.StartSpan(ctx, "StockLedger.Return")
	defer span.End()

	if qty <= 0 {
		return apperr.ErrInvalidQuantity.Withf("return %d to batch %s", qty, batchID)
	}

	batch, err := repo.GetBatchForUpdate(ctx, batchID)
	if errors.Is(err, store.ErrNotFound) {
		l.logger.Warn("Skipping stock return for missing batch",
			zap.String("batch_id", batchID),
			zap.Int("quantity", qty))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}

	restored := batch.Quantity + qty
	if err := repo.UpdateBatchStock(ctx, batchID, restored, true); err != nil {
		return fmt.Errorf("failed to return stock: %w", err)
	}

	util.StockReturnedUnits.Add(float64(qty))
	return nil
}
