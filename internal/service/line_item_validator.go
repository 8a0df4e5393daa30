package service

import (
	"context"

	"shea-order-service/internal/apperr"
	"shea-order-service/internal/models"
	"shea-order-service/internal/store"
	"shea-order-service/internal/util"

	"github.com/shopspring/decimal"
)

// LineItemInput is a client-submitted line item before pricing
type LineItemInput struct {
	ProductID         string                   `json:"product_id" binding:"required"`
	BatchAllocations  []models.BatchAllocation `json:"batch_allocations"`
	RequestedQuantity int                      `json:"requested_quantity" binding:"required,min=1"`
	CustomPrice       *decimal.Decimal         `json:"custom_price,omitempty"`
}

// LineItemValidator prices line items and checks their allocations. It never writes.
type LineItemValidator struct{}

// NewLineItemValidator creates a new validator
func NewLineItemValidator() *LineItemValidator {
	return &LineItemValidator{}
}

// Validate turns inputs into priced line items. Every allocation is checked
// against current stock, and allocations of one batch across several items
// are checked together. Under-allocation is accepted.
func (v *LineItemValidator) Validate(ctx context.Context, repo store.Repository, inputs []LineItemInput) (models.LineItems, error) {
	ctx, span := util.StartSpan(ctx, "LineItemValidator.Validate")
	defer span.End()

	if len(inputs) == 0 {
		return nil, apperr.ErrValidation.Withf("at least one line item is required")
	}

	demand := make(map[string]int)
	items := make(models.LineItems, 0, len(inputs))

	for i, in := range inputs {
		if in.RequestedQuantity <= 0 {
			return nil, apperr.ErrInvalidQuantity.Withf("item %d requests %d", i, in.RequestedQuantity)
		}
		if in.CustomPrice != nil && in.CustomPrice.IsNegative() {
			return nil, apperr.ErrValidation.Withf("item %d has a negative price", i)
		}

		product, err := repo.GetProductByID(ctx, in.ProductID)
		if err != nil {
			return nil, notFound(err, apperr.ErrProductNotFound.Withf("product %s", in.ProductID))
		}

		allocations := make([]models.BatchAllocation, 0, len(in.BatchAllocations))
		total := 0
		for _, alloc := range in.BatchAllocations {
			if alloc.Quantity <= 0 {
				return nil, apperr.ErrInvalidQuantity.Withf("allocation of batch %s is %d", alloc.BatchID, alloc.Quantity)
			}

			batch, err := repo.GetProductBatch(ctx, product.ID, alloc.BatchID)
			if err != nil {
				return nil, notFound(err, apperr.ErrBatchNotFound.Withf("batch %s of product %s", alloc.BatchID, product.ID))
			}

			demand[batch.ID] += alloc.Quantity
			if batch.Quantity < demand[batch.ID] {
				return nil, apperr.ErrInsufficientStock.Withf("batch %s has %d, need %d", batch.ID, batch.Quantity, demand[batch.ID])
			}

			total += alloc.Quantity
			allocations = append(allocations, alloc)
		}

		if total > in.RequestedQuantity {
			return nil, apperr.ErrOverAllocation.Withf("item %d allocates %d of %d", i, total, in.RequestedQuantity)
		}

		price := product.RetailPrice
		if in.CustomPrice != nil {
			price = *in.CustomPrice
		}

		items = append(items, models.LineItem{
			ProductID:         product.ID,
			ProductName:       product.Name,
			BatchAllocations:  allocations,
			RequestedQuantity: in.RequestedQuantity,
			CustomPrice:       in.CustomPrice,
			FinalPrice:        price,
		})
	}

	return items, nil
}

// Subtotal sums the line item subtotals
func Subtotal(items models.LineItems) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}
