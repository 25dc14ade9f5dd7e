package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"swiftpay/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitiateSTKPush(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/payments/stkpush", r.URL.Path)
		assert.Equal(t, "sk_live_1", r.Header.Get("X-API-Key"))
		assert.Equal(t, "order-1-try", r.Header.Get("Idempotency-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0712345678", body["phone_number"])
		assert.Equal(t, float64(250), body["amount"])

		_, _ = w.Write([]byte(`{"success":true,"transaction_id":"ws_CO_1","checkout_request_id":"ws_CO_1","reference":"ORDER-1","message":"ok"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "sk_live_1")
	resp, err := c.InitiateSTKPush(context.Background(), &STKPushRequest{
		PhoneNumber:    "0712345678",
		Amount:         250,
		Reference:      "ORDER-1",
		IdempotencyKey: "order-1-try",
	})

	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", resp.TransactionID)
	assert.Equal(t, "ORDER-1", resp.Reference)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"message":"Bad Request - Invalid PhoneNumber","code":"400.002.02"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "sk_live_1").InitiateSTKPush(context.Background(), &STKPushRequest{PhoneNumber: "1", Amount: 1})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "400.002.02", apiErr.Code)
	assert.Equal(t, "Bad Request - Invalid PhoneNumber", apiErr.Message)
}

func TestTransactionStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"transaction":{"transaction_id":"ws_CO_1","status":"completed","amount":100,"mpesa_receipt":"NLJ7RT61SV","created_at":"2025-03-01T09:00:00Z"}}`))
	}))
	defer srv.Close()

	tx, err := New(srv.URL, "sk_live_1").TransactionStatus(context.Background(), "ws_CO_1")

	require.NoError(t, err)
	assert.Equal(t, "completed", tx.Status)
	assert.Equal(t, "NLJ7RT61SV", tx.MpesaReceipt)
}

func TestWaitForPayment(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ORDER 1", r.URL.Query().Get("reference"))
		if atomic.AddInt32(&calls, 1) < 3 {
			_, _ = w.Write([]byte(`{"success":true,"payment":{"status":"PENDING"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"payment":{"status":"SUCCESS","mpesaReceiptNumber":"NLJ7RT61SV"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk_live_1", WithPolling(10*time.Millisecond, 5*time.Second))
	status, err := c.WaitForPayment(context.Background(), "ORDER 1")

	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", status.Status)
	assert.Equal(t, "NLJ7RT61SV", status.MpesaReceiptNumber)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWaitForPaymentTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"payment":{"status":"PENDING"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk_live_1", WithPolling(10*time.Millisecond, 50*time.Millisecond))
	status, err := c.WaitForPayment(context.Background(), "ORDER-1")

	assert.ErrorIs(t, err, ErrTimeout)
	require.NotNil(t, status)
	assert.Equal(t, "PENDING", status.Status)
}

func TestVerifyWebhook(t *testing.T) {
	payload := []byte(`{"event":"payment.completed"}`)
	ts := time.Now().Unix()

	header := http.Header{}
	header.Set(webhook.HeaderTimestamp, strconv.FormatInt(ts, 10))
	header.Set(webhook.HeaderSignature, webhook.Sign(payload, ts, "whsec_1"))

	assert.NoError(t, VerifyWebhook(header, payload, "whsec_1"))
	assert.Error(t, VerifyWebhook(header, payload, "whsec_2"))

	header.Del(webhook.HeaderTimestamp)
	assert.Error(t, VerifyWebhook(header, payload, "whsec_1"))
}
