package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body
const SignatureHeader = "x-paystack-signature"

// Webhook event names handled by the reconciler
const (
	EventChargeSuccess   = "charge.success"
	EventRefundProcessed = "refund.processed"
)

// WebhookEvent is the decoded webhook body
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference            string `json:"reference"`
		TransactionReference string `json:"transaction_reference"`
	} `json:"data"`
}

// PaymentReference returns the sale reference the event concerns
func (e *WebhookEvent) PaymentReference() string {
	if e.Data.Reference != "" {
		return e.Data.Reference
	}
	return e.Data.TransactionReference
}

// Sign computes the signature for body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(Sign(secret, body))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// VerifySignature checks a webhook body against the client's secret key
func (c *Client) VerifySignature(body []byte, signature string) bool {
	return VerifySignature(c.secretKey, body, signature)
}

// ParseWebhook decodes a webhook body
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("failed to decode webhook: %w", err)
	}
	return &evt, nil
}
