// internal/handler/payment_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"swiftpay/internal/domain"
	"swiftpay/internal/usecase"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type PaymentService interface {
	Initiate(ctx context.Context, req usecase.InitiateRequest) (*usecase.InitiateResult, error)
	InitiateSitePayment(ctx context.Context, phone string, amount *decimal.Decimal, description string) (*usecase.InitiateResult, error)
}

type StatusService interface {
	GetByReference(ctx context.Context, reference string) (*usecase.PaymentStatus, error)
	GetForOwner(ctx context.Context, apiKey, transactionID string) (*domain.Transaction, error)
}

type PaymentHandler struct {
	payments PaymentService
	status   StatusService
	logger   *zap.Logger
}

func NewPaymentHandler(payments PaymentService, status StatusService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		status:   status,
		logger:   logger,
	}
}

type stkPushRequest struct {
	APIKey         string          `json:"api_key"`
	PhoneNumber    string          `json:"phone_number"`
	PhoneNumberAlt string          `json:"phoneNumber"`
	Phone          string          `json:"phone"`
	Amount         decimal.Decimal `json:"amount"`
	Reference      string          `json:"reference"`
	Description    string          `json:"description"`
}

func (r *stkPushRequest) phone() string {
	return firstNonEmpty(r.PhoneNumber, r.PhoneNumberAlt, r.Phone)
}

type stkPushResponse struct {
	Success           bool   `json:"success"`
	TransactionID     string `json:"transaction_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	Reference         string `json:"reference"`
	Message           string `json:"message"`
	UsingUserTill     bool   `json:"using_user_till"`
}

// InitiateSTKPush handles the tenant API: POST /api/payments/stkpush
func (h *PaymentHandler) InitiateSTKPush(w http.ResponseWriter, r *http.Request) {
	var req stkPushRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	apiKey := apiKeyFrom(r, req.APIKey)
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, domain.ErrAPIKeyRequired.Error())
		return
	}
	if req.phone() == "" {
		writeError(w, http.StatusBadRequest, "Phone number is required")
		return
	}

	res, err := h.payments.Initiate(r.Context(), usecase.InitiateRequest{
		APIKey:         apiKey,
		Phone:          req.phone(),
		Amount:         req.Amount,
		Reference:      req.Reference,
		Description:    req.Description,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeUsecaseError(w, h.logger, err)
		return
	}

	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeJSON(w, http.StatusOK, stkPushResponse{
		Success:           true,
		TransactionID:     res.TransactionID,
		CheckoutRequestID: res.CheckoutRequestID,
		Reference:         res.Reference,
		Message:           customerMessage(res),
		UsingUserTill:     res.UsingUserTill,
	})
}

type sitePaymentRequest struct {
	PhoneNumber string           `json:"phoneNumber"`
	Phone       string           `json:"phone"`
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
}

type sitePaymentData struct {
	RequestID            string `json:"requestId"`
	CheckoutRequestID    string `json:"checkoutRequestId"`
	TransactionRequestID string `json:"transactionRequestId"`
	Reference            string `json:"reference"`
}

type sitePaymentResponse struct {
	Success           bool            `json:"success"`
	TransactionID     string          `json:"transaction_id"`
	CheckoutRequestID string          `json:"checkout_request_id"`
	Message           string          `json:"message"`
	Data              sitePaymentData `json:"data"`
}

// InitiateSitePayment handles the job site fee: POST /api/initiate-payment
func (h *PaymentHandler) InitiateSitePayment(w http.ResponseWriter, r *http.Request) {
	var req sitePaymentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	phone := firstNonEmpty(req.PhoneNumber, req.Phone)
	if phone == "" {
		writeError(w, http.StatusBadRequest, "Phone number is required")
		return
	}

	res, err := h.payments.InitiateSitePayment(r.Context(), phone, req.Amount, req.Description)
	if err != nil {
		writeUsecaseError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, sitePaymentResponse{
		Success:           true,
		TransactionID:     res.TransactionID,
		CheckoutRequestID: res.CheckoutRequestID,
		Message:           "Payment initiated successfully",
		Data: sitePaymentData{
			RequestID:            res.CheckoutRequestID,
			CheckoutRequestID:    res.CheckoutRequestID,
			TransactionRequestID: res.TransactionID,
			Reference:            res.Reference,
		},
	})
}

type paymentStatusResponse struct {
	Success bool                   `json:"success"`
	Payment *usecase.PaymentStatus `json:"payment"`
}

// PaymentStatus handles polling: GET /api/payment-status?reference=
func (h *PaymentHandler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	reference := strings.TrimSpace(r.URL.Query().Get("reference"))
	if reference == "" {
		writeError(w, http.StatusBadRequest, "Payment reference is required")
		return
	}

	status, err := h.status.GetByReference(r.Context(), reference)
	if err != nil {
		writeUsecaseError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentStatusResponse{Success: true, Payment: status})
}

type transactionStatusRequest struct {
	APIKey        string `json:"api_key"`
	TransactionID string `json:"transaction_id"`
}

type transactionView struct {
	TransactionID string     `json:"transaction_id"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	Phone         string     `json:"phone"`
	Reference     string     `json:"reference"`
	MpesaReceipt  string     `json:"mpesa_receipt,omitempty"`
	ResultDesc    string     `json:"result_desc,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type transactionStatusResponse struct {
	Success     bool            `json:"success"`
	Transaction transactionView `json:"transaction"`
}

// TransactionStatus handles the tenant lookup: POST /api/payments/status
func (h *PaymentHandler) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	var req transactionStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.status.GetForOwner(r.Context(), apiKeyFrom(r, req.APIKey), strings.TrimSpace(req.TransactionID))
	if err != nil {
		writeUsecaseError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, transactionStatusResponse{
		Success: true,
		Transaction: transactionView{
			TransactionID: tx.CheckoutRequestID,
			Status:        string(tx.Status),
			Amount:        tx.Amount,
			Phone:         tx.Phone,
			Reference:     tx.Reference,
			MpesaReceipt:  domain.Deref(tx.MpesaReceipt),
			ResultDesc:    domain.Deref(tx.ResultDesc),
			CreatedAt:     tx.CreatedAt,
			CompletedAt:   tx.CompletedAt,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dest)
}

// apiKeyFrom reads the key from X-API-Key, then a bearer token, then the body.
func apiKeyFrom(r *http.Request, bodyKey string) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(bodyKey)
}

func customerMessage(res *usecase.InitiateResult) string {
	if res.CustomerMessage != "" {
		return res.CustomerMessage
	}
	return "STK push sent successfully"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
