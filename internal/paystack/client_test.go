package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shea-order-service/config"
	"shea-order-service/internal/apperr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.PaystackConfig{
		BaseURL:     srv.URL,
		SecretKey:   "sk_test",
		CallbackURL: "http://shop.test/callback",
		Timeout:     2 * time.Second,
	})
}

func TestInitialize_SendsMinorUnits(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://pay.test/abc","access_code":"abc","reference":"REF-1"}}`))
	})

	auth, err := client.Initialize(context.Background(), decimal.RequireFromString("65.50"), "ama@example.com", "REF-1")

	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/abc", auth.AuthorizationURL)
	assert.Equal(t, "abc", auth.AccessCode)
	assert.Equal(t, "REF-1", auth.Reference)
	assert.Equal(t, float64(6550), got["amount"])
	assert.Equal(t, "ama@example.com", got["email"])
	assert.Equal(t, "http://shop.test/callback", got["callback_url"])
}

func TestInitialize_Non2xxFails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	})

	_, err := client.Initialize(context.Background(), decimal.NewFromInt(10), "a@b.c", "REF")

	assert.ErrorIs(t, err, apperr.ErrPaymentInitFailed)
	assert.Equal(t, apperr.CodeUpstream, apperr.CodeOf(err))
}

func TestInitialize_TimeoutFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	client := NewClient(config.PaystackConfig{BaseURL: srv.URL, SecretKey: "sk", Timeout: 50 * time.Millisecond})

	_, err := client.Initialize(context.Background(), decimal.NewFromInt(10), "a@b.c", "REF")

	assert.ErrorIs(t, err, apperr.ErrPaymentInitFailed)
}

func TestVerify(t *testing.T) {
	status := "success"
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/REF-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":true,"data":{"reference":"REF-9","status":"` + status + `","amount":6500}}`))
	})

	tx, err := client.Verify(context.Background(), "REF-9")
	require.NoError(t, err)
	assert.Equal(t, int64(6500), tx.Amount)

	status = "abandoned"
	_, err = client.Verify(context.Background(), "REF-9")
	assert.ErrorIs(t, err, apperr.ErrPaymentVerificationFailed)
}

func TestRefund(t *testing.T) {
	var bodies []map[string]interface{}
	fail := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refund", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"status":true,"message":"Refund queued"}`))
	})

	partial := decimal.NewFromInt(90)
	require.NoError(t, client.Refund(context.Background(), "REF-1", &partial))
	require.NoError(t, client.Refund(context.Background(), "REF-2", nil))

	require.Len(t, bodies, 2)
	assert.Equal(t, float64(9000), bodies[0]["amount"])
	assert.Equal(t, "REF-1", bodies[0]["transaction"])
	_, hasAmount := bodies[1]["amount"]
	assert.False(t, hasAmount)

	fail = true
	assert.ErrorIs(t, client.Refund(context.Background(), "REF-3", nil), apperr.ErrRefundFailed)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"REF-1"}}`)
	sig := Sign("sk_test", body)

	assert.True(t, VerifySignature("sk_test", body, sig))
	assert.True(t, VerifySignature("sk_test", body, strings.ToUpper(sig)))
	assert.False(t, VerifySignature("sk_other", body, sig))
	assert.False(t, VerifySignature("sk_test", append(body, ' '), sig))
	assert.False(t, VerifySignature("sk_test", body, "not-hex"))
	assert.False(t, VerifySignature("sk_test", body, ""))
}

func TestParseWebhook(t *testing.T) {
	evt, err := ParseWebhook([]byte(`{"event":"refund.processed","data":{"transaction_reference":"REF-7"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventRefundProcessed, evt.Event)
	assert.Equal(t, "REF-7", evt.PaymentReference())
}

func TestGenerateReference_Unique(t *testing.T) {
	a, b := GenerateReference(), GenerateReference()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "SHEA-"))
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(6500), ToMinorUnits(decimal.NewFromInt(65)))
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.99")))
}
