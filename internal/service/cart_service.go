package service

import (
	"context"
	"fmt"

	"shea-order-service/internal/apperr"
	"shea-order-service/internal/models"
	"shea-order-service/internal/store"
	"shea-order-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sync item outcomes
const (
	SyncStatusSynced = "synced"
	SyncStatusFailed = "failed"
)

// CartItemInput is one product and quantity to add to a cart
type CartItemInput struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
}

// SyncItemResult reports the outcome of one synced item
type SyncItemResult struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SyncResult reports a bulk sync
type SyncResult struct {
	Items  []SyncItemResult `json:"items"`
	Synced int              `json:"synced"`
	Failed int              `json:"failed"`
}

// CartService manages open cart lines
type CartService struct {
	store  store.Store
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(st store.Store) *CartService {
	return &CartService{store: st, logger: util.GetLogger()}
}

// AddToCart adds quantity to the owner's open line for a product
func (s *CartService) AddToCart(ctx context.Context, actor models.Actor, item CartItemInput) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddToCart")
	defer span.End()

	owner := actor.CartOwner()
	if owner.IsZero() {
		return nil, apperr.ErrValidation.Withf("a signed-in user or a session id is required")
	}
	if item.Quantity <= 0 {
		return nil, apperr.ErrInvalidQuantity.Withf("quantity %d", item.Quantity)
	}

	if _, err := s.store.GetProductByID(ctx, item.ProductID); err != nil {
		return nil, notFound(err, apperr.ErrProductNotFound.Withf("product %s", item.ProductID))
	}

	cart := &models.Cart{
		ID:        uuid.New().String(),
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
	}
	if owner.UserID != "" {
		cart.UserID = &owner.UserID
	} else {
		cart.SessionID = &owner.SessionID
	}

	if err := s.store.AddCartItem(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to add cart item: %w", err)
	}
	return cart, nil
}

// ListCart returns the owner's open cart lines
func (s *CartService) ListCart(ctx context.Context, actor models.Actor) ([]models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.ListCart")
	defer span.End()

	owner := actor.CartOwner()
	if owner.IsZero() {
		return nil, apperr.ErrValidation.Withf("a signed-in user or a session id is required")
	}
	return s.store.ListOpenCarts(ctx, owner)
}

// SyncCart applies each item independently. A failing item is reported and
// never stops the remaining ones.
func (s *CartService) SyncCart(ctx context.Context, actor models.Actor, items []CartItemInput) (*SyncResult, error) {
	ctx, span := util.StartSpan(ctx, "CartService.SyncCart")
	defer span.End()

	if actor.CartOwner().IsZero() {
		return nil, apperr.ErrValidation.Withf("a signed-in user or a session id is required")
	}

	result := &SyncResult{Items: make([]SyncItemResult, 0, len(items))}
	for _, item := range items {
		r := SyncItemResult{ProductID: item.ProductID, Quantity: item.Quantity, Status: SyncStatusSynced}
		if _, err := s.AddToCart(ctx, actor, item); err != nil {
			r.Status = SyncStatusFailed
			r.Reason = apperr.ReasonOf(err)
			r.Message = err.Error()
			result.Failed++
			s.logger.Warn("Cart sync item failed",
				zap.String("product_id", item.ProductID),
				zap.Error(err))
		} else {
			result.Synced++
		}
		result.Items = append(result.Items, r)
	}
	return result, nil
}
