package models

import "time"

// Event types
const (
	EventTypeNotification = "NOTIFICATION"
)

// Notification templates
const (
	TemplateOrderPlaced         = "order_placed"
	TemplateOrderPlacedAdmin    = "order_placed_admin"
	TemplatePaymentConfirmed    = "payment_confirmed"
	TemplateOrderStatusChanged  = "order_status_changed"
	TemplateOrderCancelled      = "order_cancelled"
	TemplateOrderCancelledAdmin = "order_cancelled_admin"
	TemplatePaymentRefunded     = "payment_refunded"
	TemplatePaymentReviewAdmin  = "payment_review_admin"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is a request to send one templated message
type Notification struct {
	Template  string                 `json:"template"`
	Recipient string                 `json:"recipient"`
	SaleID    string                 `json:"sale_id"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// NotificationEvent carries a notification over the broker
type NotificationEvent struct {
	BaseEvent
	Notification
}
