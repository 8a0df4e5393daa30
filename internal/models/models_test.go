package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineItemsColumn(t *testing.T) {
	items := LineItems{{
		ProductID:         "prod-soap",
		BatchAllocations:  []BatchAllocation{{BatchID: "b1", Quantity: 2}, {BatchID: "b2", Quantity: 1}},
		RequestedQuantity: 4,
		FinalPrice:        decimal.RequireFromString("18.50"),
	}}

	v, err := items.Value()
	require.NoError(t, err)

	var scanned LineItems
	require.NoError(t, scanned.Scan([]byte(v.(string))))
	require.Len(t, scanned, 1)
	assert.Equal(t, 3, scanned[0].AllocatedQuantity())
	assert.True(t, scanned[0].Subtotal().Equal(decimal.NewFromInt(74)))

	var empty LineItems
	require.NoError(t, empty.Scan(nil))
	assert.NotNil(t, empty)

	v, err = LineItems(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	assert.Error(t, scanned.Scan(42))
}

func TestSaleHelpers(t *testing.T) {
	sale := &Sale{Amount: decimal.NewFromInt(40), DeliveryFee: decimal.NewFromInt(25)}
	assert.True(t, sale.Total().Equal(decimal.NewFromInt(65)))
	assert.False(t, sale.BatchesAssigned(), "no line items")
	assert.Empty(t, sale.Reference())

	sale.LineItems = LineItems{
		{ProductID: "a", BatchAllocations: []BatchAllocation{{BatchID: "b1", Quantity: 1}}},
		{ProductID: "b"},
	}
	assert.False(t, sale.BatchesAssigned())

	sale.LineItems[1].BatchAllocations = []BatchAllocation{{BatchID: "b2", Quantity: 1}}
	assert.True(t, sale.BatchesAssigned())
}

func TestCartOwner(t *testing.T) {
	user, session := "user-1", "sess-1"
	userCart := &Cart{UserID: &user, SessionID: &session}
	guestCart := &Cart{SessionID: &session}

	byUser := Actor{UserID: user, SessionID: session}.CartOwner()
	assert.Equal(t, "user:user-1", byUser.Key())
	assert.True(t, byUser.Owns(userCart))
	assert.False(t, byUser.Owns(guestCart))

	bySession := Actor{SessionID: session}.CartOwner()
	assert.Equal(t, "session:sess-1", bySession.Key())
	assert.True(t, bySession.Owns(guestCart))
	assert.False(t, bySession.Owns(userCart), "a session never sees lines already tied to a user")

	assert.True(t, Actor{}.CartOwner().IsZero())
}

func TestStatuses(t *testing.T) {
	assert.True(t, OrderStatusInTransit.Valid())
	assert.False(t, OrderStatus("shipped").Valid())
	assert.True(t, OrderStatusPackaging.RequiresBatches())
	assert.False(t, OrderStatusCancelled.RequiresBatches())

	assert.True(t, PaymentStatusAwaitingDelivery.Unsettled())
	assert.False(t, PaymentStatusPaid.Unsettled())
	assert.False(t, PaymentStatus("void").Valid())
	assert.Equal(t, "yaw@example.com", NormalizeEmail("  Yaw@Example.COM "))
}
