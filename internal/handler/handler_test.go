package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"swiftpay/internal/cache"
	"swiftpay/internal/domain"
	"swiftpay/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePayments struct {
	initiateFn func(ctx context.Context, req usecase.InitiateRequest) (*usecase.InitiateResult, error)
	siteFn     func(ctx context.Context, phone string, amount *decimal.Decimal, description string) (*usecase.InitiateResult, error)
}

func (f *fakePayments) Initiate(ctx context.Context, req usecase.InitiateRequest) (*usecase.InitiateResult, error) {
	return f.initiateFn(ctx, req)
}

func (f *fakePayments) InitiateSitePayment(ctx context.Context, phone string, amount *decimal.Decimal, description string) (*usecase.InitiateResult, error) {
	return f.siteFn(ctx, phone, amount, description)
}

type fakeStatus struct {
	byReferenceFn func(ctx context.Context, reference string) (*usecase.PaymentStatus, error)
	forOwnerFn    func(ctx context.Context, apiKey, transactionID string) (*domain.Transaction, error)
}

func (f *fakeStatus) GetByReference(ctx context.Context, reference string) (*usecase.PaymentStatus, error) {
	return f.byReferenceFn(ctx, reference)
}

func (f *fakeStatus) GetForOwner(ctx context.Context, apiKey, transactionID string) (*domain.Transaction, error) {
	return f.forOwnerFn(ctx, apiKey, transactionID)
}

type fakeCallbacks struct {
	payloads [][]byte
	ctxErrs  []error
	err      error
}

func (f *fakeCallbacks) ProcessSTKCallback(ctx context.Context, payload []byte) error {
	f.payloads = append(f.payloads, payload)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.err
}

type fakeApplications struct {
	submitFn func(ctx context.Context, req domain.SubmitApplication) (*domain.Application, error)
}

func (f *fakeApplications) Submit(ctx context.Context, req domain.SubmitApplication) (*domain.Application, error) {
	return f.submitFn(ctx, req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func accepted() *usecase.InitiateResult {
	return &usecase.InitiateResult{
		TransactionID:     "ws_CO_1",
		CheckoutRequestID: "ws_CO_1",
		MerchantRequestID: "m-1",
		Reference:         "ORDER-1",
		CustomerMessage:   "Success. Request accepted for processing",
	}
}

func TestInitiateSTKPush(t *testing.T) {
	var got usecase.InitiateRequest
	h := NewPaymentHandler(&fakePayments{
		initiateFn: func(ctx context.Context, req usecase.InitiateRequest) (*usecase.InitiateResult, error) {
			got = req
			return accepted(), nil
		},
	}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/payments/stkpush",
		strings.NewReader(`{"phone_number":"0712345678","amount":"100","reference":"ORDER-1","description":"Order"}`))
	req.Header.Set("X-API-Key", "sk_live_1")
	req.Header.Set("Idempotency-Key", "idem-1")
	rec := httptest.NewRecorder()

	h.InitiateSTKPush(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "ws_CO_1", body["transaction_id"])
	assert.Equal(t, "ws_CO_1", body["checkout_request_id"])
	assert.Equal(t, false, body["using_user_till"])

	assert.Equal(t, "sk_live_1", got.APIKey)
	assert.Equal(t, "0712345678", got.Phone)
	assert.True(t, decimal.NewFromInt(100).Equal(got.Amount))
	assert.Equal(t, "idem-1", got.IdempotencyKey)
}

func TestInitiateSTKPushAPIKeySources(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		body   string
	}{
		{"bearer", map[string]string{"Authorization": "Bearer sk_live_1"}, `{"phone":"0712345678","amount":10}`},
		{"body", nil, `{"api_key":"sk_live_1","phoneNumber":"0712345678","amount":10}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := NewPaymentHandler(&fakePayments{
				initiateFn: func(ctx context.Context, req usecase.InitiateRequest) (*usecase.InitiateResult, error) {
					got = req.APIKey
					return accepted(), nil
				},
			}, nil, zap.NewNop())

			req := httptest.NewRequest(http.MethodPost, "/api/payments/stkpush", strings.NewReader(tt.body))
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.InitiateSTKPush(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "sk_live_1", got)
		})
	}
}

func TestInitiateSTKPushErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"invalid phone", domain.ErrInvalidPhone, http.StatusBadRequest, domain.ErrInvalidPhone.Error()},
		{"invalid amount", domain.ErrInvalidAmount, http.StatusBadRequest, domain.ErrInvalidAmount.Error()},
		{"invalid key", domain.ErrInvalidAPIKey, http.StatusUnauthorized, "invalid API key"},
		{"in flight", cache.ErrInFlight, http.StatusConflict, cache.ErrInFlight.Error()},
		{"rejected", &domain.UpstreamError{Code: "400.002.02", Message: "Bad Request - Invalid PhoneNumber"}, http.StatusBadRequest, "Bad Request - Invalid PhoneNumber"},
		{"unavailable", domain.ErrUpstreamUnavailable, http.StatusBadGateway, "Payment service is temporarily unavailable"},
		{"unexpected", assert.AnError, http.StatusInternalServerError, "An unexpected server error occurred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPaymentHandler(&fakePayments{
				initiateFn: func(ctx context.Context, req usecase.InitiateRequest) (*usecase.InitiateResult, error) {
					return nil, tt.err
				},
			}, nil, zap.NewNop())

			req := httptest.NewRequest(http.MethodPost, "/api/payments/stkpush", strings.NewReader(`{"phone":"0712345678","amount":10}`))
			req.Header.Set("X-API-Key", "sk_live_1")
			rec := httptest.NewRecorder()
			h.InitiateSTKPush(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantMsg, body["message"])
		})
	}
}

func TestInitiateSTKPushRequiresKeyAndPhone(t *testing.T) {
	h := NewPaymentHandler(&fakePayments{
		initiateFn: func(ctx context.Context, req usecase.InitiateRequest) (*usecase.InitiateResult, error) {
			t.Error("usecase must not be called")
			return nil, nil
		},
	}, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.InitiateSTKPush(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone":"0712345678","amount":10}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":10}`))
	req.Header.Set("X-API-Key", "sk_live_1")
	rec = httptest.NewRecorder()
	h.InitiateSTKPush(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
	req.Header.Set("X-API-Key", "sk_live_1")
	rec = httptest.NewRecorder()
	h.InitiateSTKPush(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitiateSitePayment(t *testing.T) {
	var gotPhone string
	var gotAmount *decimal.Decimal
	h := NewPaymentHandler(&fakePayments{
		siteFn: func(ctx context.Context, phone string, amount *decimal.Decimal, description string) (*usecase.InitiateResult, error) {
			gotPhone, gotAmount = phone, amount
			return accepted(), nil
		},
	}, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.InitiateSitePayment(rec, httptest.NewRequest(http.MethodPost, "/api/initiate-payment", strings.NewReader(`{"phoneNumber":"0712345678"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0712345678", gotPhone)
	assert.Nil(t, gotAmount)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "ws_CO_1", body["checkout_request_id"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "ws_CO_1", data["checkoutRequestId"])
	assert.Equal(t, "ws_CO_1", data["transactionRequestId"])
}

func TestPaymentStatus(t *testing.T) {
	amount := int64(130)
	h := NewPaymentHandler(nil, &fakeStatus{
		byReferenceFn: func(ctx context.Context, reference string) (*usecase.PaymentStatus, error) {
			assert.Equal(t, "ORDER-1", reference)
			return &usecase.PaymentStatus{Status: domain.PublicSuccess, Amount: &amount, MpesaReceiptNumber: "NLJ7RT61SV"}, nil
		},
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.PaymentStatus(rec, httptest.NewRequest(http.MethodGet, "/api/payment-status?reference=ORDER-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	payment := body["payment"].(map[string]interface{})
	assert.Equal(t, "SUCCESS", payment["status"])
	assert.Equal(t, float64(130), payment["amount"])
	assert.Equal(t, "NLJ7RT61SV", payment["mpesaReceiptNumber"])

	rec = httptest.NewRecorder()
	h.PaymentStatus(rec, httptest.NewRequest(http.MethodGet, "/api/payment-status", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactionStatus(t *testing.T) {
	h := NewPaymentHandler(nil, &fakeStatus{
		forOwnerFn: func(ctx context.Context, apiKey, transactionID string) (*domain.Transaction, error) {
			if transactionID != "ws_CO_1" {
				return nil, domain.ErrTransactionNotFound
			}
			return &domain.Transaction{
				CheckoutRequestID: "ws_CO_1",
				Reference:         "ORDER-1",
				Phone:             "254712345678",
				Amount:            100,
				Status:            domain.StatusCompleted,
				MpesaReceipt:      domain.StringPtr("NLJ7RT61SV"),
				CreatedAt:         time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
			}, nil
		},
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.TransactionStatus(rec, httptest.NewRequest(http.MethodPost, "/api/payments/status", strings.NewReader(`{"api_key":"sk_live_1","transaction_id":"ws_CO_1"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	tx := decode(t, rec)["transaction"].(map[string]interface{})
	assert.Equal(t, "ws_CO_1", tx["transaction_id"])
	assert.Equal(t, "completed", tx["status"])
	assert.Equal(t, "NLJ7RT61SV", tx["mpesa_receipt"])

	rec = httptest.NewRecorder()
	h.TransactionStatus(rec, httptest.NewRequest(http.MethodPost, "/api/payments/status", strings.NewReader(`{"api_key":"sk_live_1","transaction_id":"nope"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallbackAlwaysAccepted(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{"processed", `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`, nil},
		{"malformed", `{oops`, assert.AnError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callbacks := &fakeCallbacks{err: tt.err}
			h := NewCallbackHandler(callbacks, zap.NewNop())

			rec := httptest.NewRecorder()
			h.HandleSTKCallback(rec, httptest.NewRequest(http.MethodPost, "/api/payments/callback", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())
			require.Len(t, callbacks.payloads, 1)
			assert.Equal(t, tt.body, string(callbacks.payloads[0]))
		})
	}
}

func TestCallbackSurvivesClientDisconnect(t *testing.T) {
	callbacks := &fakeCallbacks{}
	h := NewCallbackHandler(callbacks, zap.NewNop())

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/payments/callback",
		strings.NewReader(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`)).WithContext(reqCtx)
	rec := httptest.NewRecorder()

	h.HandleSTKCallback(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, callbacks.ctxErrs, 1)
	assert.NoError(t, callbacks.ctxErrs[0])
}

func TestSubmitApplication(t *testing.T) {
	var got domain.SubmitApplication
	h := NewApplicationHandler(&fakeApplications{
		submitFn: func(ctx context.Context, req domain.SubmitApplication) (*domain.Application, error) {
			got = req
			if req.Email == "" {
				return nil, &domain.ValidationError{Field: "email", Err: domain.ErrInvalidRequest}
			}
			ref := req.PaymentReference
			return &domain.Application{ID: "app-1", PaymentReference: &ref}, nil
		},
	}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/applications",
		strings.NewReader(`{"fullName":"Jane","email":"jane@example.com","phone":"0712345678","jobTitle":"Cashier","paymentReference":"NAIVASJOBS-ABC"}`))
	req.Header.Set("User-Agent", "test-agent")
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "app-1", data["applicationId"])
	assert.Equal(t, "NAIVASJOBS-ABC", data["reference"])
	assert.Equal(t, "Cashier", got.JobTitle)
	assert.Equal(t, "test-agent", got.UserAgent)

	rec = httptest.NewRecorder()
	h.Submit(rec, httptest.NewRequest(http.MethodPost, "/api/applications", strings.NewReader(`{"fullName":"Jane"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamPaymentStatus(t *testing.T) {
	calls := 0
	status := &fakeStatus{
		byReferenceFn: func(ctx context.Context, reference string) (*usecase.PaymentStatus, error) {
			calls++
			if calls < 3 {
				return &usecase.PaymentStatus{Status: domain.PublicPending, Reference: reference}, nil
			}
			return &usecase.PaymentStatus{Status: domain.PublicSuccess, Reference: reference}, nil
		},
	}
	h := NewStreamHandler(status, 10*time.Millisecond, 5*time.Second, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/ws/payments/{reference}", h.StreamPaymentStatus)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/payments/ORDER-1", nil)
	require.NoError(t, err)
	defer conn.Close()

	var seen []domain.PublicStatus
	for {
		var msg usecase.PaymentStatus
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		assert.Equal(t, "ORDER-1", msg.Reference)
		seen = append(seen, msg.Status)
	}

	assert.Equal(t, []domain.PublicStatus{domain.PublicPending, domain.PublicPending, domain.PublicSuccess}, seen)
}

func TestStreamPaymentStatusTimeout(t *testing.T) {
	status := &fakeStatus{
		byReferenceFn: func(ctx context.Context, reference string) (*usecase.PaymentStatus, error) {
			return &usecase.PaymentStatus{Status: domain.PublicPending}, nil
		},
	}
	h := NewStreamHandler(status, 10*time.Millisecond, 50*time.Millisecond, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/ws/payments/{reference}", h.StreamPaymentStatus)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/payments/ORDER-1", nil)
	require.NoError(t, err)
	defer conn.Close()

	var last map[string]interface{}
	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		last = msg
	}

	require.NotNil(t, last)
	assert.Equal(t, "TIMEOUT", last["status"])
}
