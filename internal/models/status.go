package models

// OrderStatus is the fulfillment axis of a sale
type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPackaging OrderStatus = "packaging"
	OrderStatusInTransit OrderStatus = "in_transit"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether the status is a known value
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPackaging, OrderStatusInTransit, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// RequiresBatches reports whether entering this status needs every line item allocated
func (s OrderStatus) RequiresBatches() bool {
	return s == OrderStatusPackaging || s == OrderStatusInTransit || s == OrderStatusDelivered
}

// PaymentStatus is the money axis of a sale
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusInvoiceRequested PaymentStatus = "invoice_requested"
	PaymentStatusPendingPayment   PaymentStatus = "pending_payment"
	PaymentStatusAwaitingDelivery PaymentStatus = "awaiting_delivery"
	PaymentStatusPaid             PaymentStatus = "paid"
	PaymentStatusRefunded         PaymentStatus = "refunded"
)

// Valid reports whether the status is a known value
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusInvoiceRequested, PaymentStatusPendingPayment, PaymentStatusAwaitingDelivery,
		PaymentStatusPaid, PaymentStatusRefunded:
		return true
	}
	return false
}

// Unsettled reports whether no money has been captured yet, so the delivery fee may still change
func (s PaymentStatus) Unsettled() bool {
	return s == PaymentStatusInvoiceRequested || s == PaymentStatusPendingPayment || s == PaymentStatusAwaitingDelivery
}
