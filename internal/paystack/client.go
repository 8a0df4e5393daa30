// Package paystack talks to a Paystack-style payment processor.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shea-order-service/config"
	"shea-order-service/internal/apperr"
	"shea-order-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Authorization is returned by Initialize; the buyer is sent to AuthorizationURL
type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Transaction is the verified state of a charge
type Transaction struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client is the HTTP adapter. Calls are never retried here.
type Client struct {
	baseURL     string
	secretKey   string
	callbackURL string
	timeout     time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient creates a gateway client
func NewClient(cfg config.PaystackConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,
		timeout:     timeout,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      util.GetLogger(),
	}
}

// Initialize starts a transaction for amount (major units) against email
func (c *Client) Initialize(ctx context.Context, amount decimal.Decimal, email, reference string) (*Authorization, error) {
	ctx, span := util.StartSpan(ctx, "Paystack.Initialize")
	defer span.End()

	payload := map[string]interface{}{
		"amount":       ToMinorUnits(amount),
		"email":        email,
		"reference":    reference,
		"callback_url": c.callbackURL,
	}

	var auth Authorization
	if err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", payload, &auth); err != nil {
		return nil, apperr.ErrPaymentInitFailed.Wrap(err)
	}
	if auth.Reference == "" {
		auth.Reference = reference
	}
	return &auth, nil
}

// Verify confirms a transaction settled. Any status other than success is a failure.
func (c *Client) Verify(ctx context.Context, reference string) (*Transaction, error) {
	ctx, span := util.StartSpan(ctx, "Paystack.Verify")
	defer span.End()

	var tx Transaction
	if err := c.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+reference, nil, &tx); err != nil {
		return nil, apperr.ErrPaymentVerificationFailed.Wrap(err)
	}
	if tx.Status != "success" {
		return nil, apperr.ErrPaymentVerificationFailed.Withf("reference %s reported %q", reference, tx.Status)
	}
	return &tx, nil
}

// Refund refunds a transaction; a nil amount refunds it in full
func (c *Client) Refund(ctx context.Context, reference string, amount *decimal.Decimal) error {
	ctx, span := util.StartSpan(ctx, "Paystack.Refund")
	defer span.End()

	payload := map[string]interface{}{"transaction": reference}
	if amount != nil {
		payload["amount"] = ToMinorUnits(*amount)
	}

	if err := c.do(ctx, "refund", http.MethodPost, "/refund", payload, nil); err != nil {
		return apperr.ErrRefundFailed.Wrap(err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		util.GatewayRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Gateway request failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("failed to decode gateway response (status %d): %w", resp.StatusCode, err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Status {
		c.logger.Warn("Gateway rejected request",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("message", env.Message))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode gateway data: %w", err)
		}
	}
	return nil
}

// ToMinorUnits converts a major-unit amount to the processor's smallest unit
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// GenerateReference returns a fresh unique transaction reference
func GenerateReference() string {
	return "SHEA-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
}
