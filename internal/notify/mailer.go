// Package notify turns notification events into outgoing messages.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"shea-order-service/internal/models"
	"shea-order-service/internal/util"

	"go.uber.org/zap"
)

// Mailer delivers one rendered notification
type Mailer interface {
	Send(ctx context.Context, n models.Notification) error
}

var subjects = map[string]string{
	models.TemplateOrderPlaced:         "We received your order",
	models.TemplateOrderPlacedAdmin:    "New order placed",
	models.TemplatePaymentConfirmed:    "Payment confirmed",
	models.TemplateOrderStatusChanged:  "Your order status changed",
	models.TemplateOrderCancelled:      "Your order was cancelled",
	models.TemplateOrderCancelledAdmin: "Order cancelled",
	models.TemplatePaymentRefunded:     "Your refund is on its way",
	models.TemplatePaymentReviewAdmin:  "Payment needs review",
}

// Subject returns the subject line for a template
func Subject(template string) string {
	if s, ok := subjects[template]; ok {
		return s
	}
	return "Order update"
}

// Render builds a plain-text body from the notification context
func Render(n models.Notification) string {
	keys := make([]string, 0, len(n.Context))
	for k := range n.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\nOrder: %s\n", Subject(n.Template), n.SaleID)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, n.Context[k])
	}
	return b.String()
}

// LogMailer writes messages to the log. Transport delivery lives outside this service.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a log-backed mailer
func NewLogMailer() *LogMailer {
	return &LogMailer{logger: util.GetLogger()}
}

// Send logs the rendered message
func (m *LogMailer) Send(_ context.Context, n models.Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("notification %s for sale %s has no recipient", n.Template, n.SaleID)
	}
	m.logger.Info("Sending notification",
		zap.String("template", n.Template),
		zap.String("recipient", n.Recipient),
		zap.String("sale_id", n.SaleID),
		zap.String("subject", Subject(n.Template)),
		zap.String("body", Render(n)))
	return nil
}
