package notify

import (
	"context"
	"testing"

	"shea-order-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRender_IsDeterministic(t *testing.T) {
	n := models.Notification{
		Template: models.TemplateOrderCancelled,
		SaleID:   "sale-1",
		Context:  map[string]interface{}{"refund_amount": "90", "penalty_amount": "10"},
	}

	body := Render(n)

	assert.Equal(t, "Your order was cancelled\nOrder: sale-1\npenalty_amount: 10\nrefund_amount: 90\n", body)
	assert.Equal(t, body, Render(n))
}

func TestSubject_Fallback(t *testing.T) {
	assert.Equal(t, "Order update", Subject("unknown"))
}

func TestLogMailer_RequiresRecipient(t *testing.T) {
	m := NewLogMailer()

	assert.Error(t, m.Send(context.Background(), models.Notification{Template: models.TemplateOrderPlaced}))
	assert.NoError(t, m.Send(context.Background(), models.Notification{Template: models.TemplateOrderPlaced, Recipient: "a@b.c"}))
}
