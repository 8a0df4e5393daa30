// Package apperr defines the typed failures returned by the fulfillment core.
package apperr

import (
	"errors"
	"fmt"
)

// Code groups failures by how callers should react to them
type Code string

const (
	CodeNotFound          Code = "not_found"
	CodeConflict          Code = "conflict"
	CodeInvalidState      Code = "invalid_state"
	CodeInsufficientStock Code = "insufficient_stock"
	CodeValidation        Code = "validation"
	CodeUnauthorized      Code = "unauthorized"
	CodeForbidden         Code = "forbidden"
	CodeUpstream          Code = "upstream_failure"
	CodeInternal          Code = "internal"
)

// Error is a business failure with a stable reason string.
// Two errors match under errors.Is when their reasons are equal.
type Error struct {
	Code    Code
	Reason  string
	Message string
	cause   error
}

// New creates a reason-coded error
func New(code Code, reason, message string) *Error {
	return &Error{Code: code, Reason: reason, Message: message}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on reason so detailed copies still match their sentinel
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == e.Reason
}

// Withf returns a copy whose message carries extra detail
func (e *Error) Withf(format string, args ...interface{}) *Error {
	cp := *e
	cp.Message = fmt.Sprintf("%s: %s", e.Message, fmt.Sprintf(format, args...))
	return &cp
}

// Wrap returns a copy that records the underlying cause
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.cause = err
	return &cp
}

// CodeOf extracts the code of err, defaulting to CodeInternal
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ReasonOf extracts the reason of err, defaulting to "Internal"
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "Internal"
}

var (
	ErrProductNotFound  = New(CodeNotFound, "ProductNotFound", "product not found")
	ErrBatchNotFound    = New(CodeNotFound, "BatchNotFound", "batch not found")
	ErrSaleNotFound     = New(CodeNotFound, "SaleNotFound", "sale not found")
	ErrCustomerNotFound = New(CodeNotFound, "CustomerNotFound", "customer not found")

	ErrAlreadyCancelled   = New(CodeConflict, "AlreadyCancelled", "sale is already cancelled")
	ErrCartClaimConflict  = New(CodeConflict, "CartClaimConflict", "cart lines were claimed by another checkout")
	ErrCheckoutInProgress = New(CodeConflict, "CheckoutInProgress", "another checkout for this cart is in progress")
	ErrAmountMismatch     = New(CodeConflict, "AmountMismatch", "paid amount does not match the sale total")

	ErrInvalidTransition     = New(CodeInvalidState, "InvalidTransition", "status transition not allowed")
	ErrBatchesNotAssigned    = New(CodeInvalidState, "BatchesNotAssigned", "every line item needs a batch allocation")
	ErrCannotCancel          = New(CodeInvalidState, "CannotCancel", "sale can no longer be cancelled")
	ErrEmptyCart             = New(CodeInvalidState, "EmptyCart", "cart is empty")
	ErrDeliveryQuoteRequired = New(CodeInvalidState, "DeliveryQuoteRequired", "delivery fee must be set before payment")
	ErrInvalidState          = New(CodeInvalidState, "InvalidState", "operation not allowed in the current state")

	ErrInsufficientStock = New(CodeInsufficientStock, "InsufficientStock", "insufficient stock")
	ErrOverAllocation    = New(CodeInsufficientStock, "OverAllocation", "allocated quantity exceeds requested quantity")

	ErrValidation      = New(CodeValidation, "Validation", "invalid request")
	ErrInvalidQuantity = New(CodeValidation, "InvalidQuantity", "quantity must be positive")

	ErrUnauthorized     = New(CodeUnauthorized, "Unauthorized", "unauthorized")
	ErrInvalidSignature = New(CodeUnauthorized, "InvalidSignature", "invalid webhook signature")
	ErrForbidden        = New(CodeForbidden, "Forbidden", "forbidden")

	ErrPaymentInitFailed         = New(CodeUpstream, "PaymentInitFailed", "payment initialization failed")
	ErrPaymentVerificationFailed = New(CodeUpstream, "PaymentVerificationFailed", "payment verification failed")
	ErrRefundFailed              = New(CodeUpstream, "RefundFailed", "refund failed")
)
