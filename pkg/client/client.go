// pkg/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"swiftpay/internal/poller"
	"swiftpay/internal/webhook"

	"go.uber.org/zap"
)

var ErrTimeout = poller.ErrTimeout

// APIError is a non-2xx answer from the SwiftPay API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("swiftpay: %d %s (%s)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("swiftpay: %d %s", e.StatusCode, e.Message)
}

// Client calls the SwiftPay HTTP API on behalf of one tenant.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	logger       *zap.Logger
	pollInterval time.Duration
	pollTimeout  time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithPolling sets how often and how long WaitForPayment polls.
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.pollTimeout = timeout
	}
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       zap.NewNop(),
		pollInterval: poller.DefaultInterval,
		pollTimeout:  poller.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type STKPushRequest struct {
	PhoneNumber string `json:"phone_number"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference,omitempty"`
	Description string `json:"description,omitempty"`

	// IdempotencyKey makes retries of the same request safe.
	IdempotencyKey string `json:"-"`
}

type STKPushResponse struct {
	Success           bool   `json:"success"`
	TransactionID     string `json:"transaction_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	Reference         string `json:"reference"`
	Message           string `json:"message"`
	UsingUserTill     bool   `json:"using_user_till"`
}

type Transaction struct {
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

// PaymentStatus is the coarse PENDING / SUCCESS / FAILED view of a payment.
type PaymentStatus struct {
	Status             string     `json:"status"`
	Reference          string     `json:"reference,omitempty"`
	Amount             *int64     `json:"amount,omitempty"`
	PhoneNumber        string     `json:"phoneNumber,omitempty"`
	MpesaReceiptNumber string     `json:"mpesaReceiptNumber,omitempty"`
	ResultCode         *int       `json:"resultCode,omitempty"`
	ResultDesc         string     `json:"resultDesc,omitempty"`
	Timestamp          *time.Time `json:"timestamp,omitempty"`
	Message            string     `json:"message,omitempty"`
}

func (s *PaymentStatus) Final() bool {
	return s.Status == "SUCCESS" || s.Status == "FAILED"
}

// InitiateSTKPush asks SwiftPay to send a payment prompt to the customer's phone.
func (c *Client) InitiateSTKPush(ctx context.Context, req *STKPushRequest) (*STKPushResponse, error) {
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}

	var resp STKPushResponse
	if err := c.do(ctx, http.MethodPost, "/api/payments/stkpush", req, headers, &resp); err != nil {
		return nil, err
	}

	c.logger.Info("stk push initiated",
		zap.String("transaction_id", resp.TransactionID),
		zap.String("reference", resp.Reference))
	return &resp, nil
}

// TransactionStatus fetches a transaction owned by this client's API key.
func (c *Client) TransactionStatus(ctx context.Context, transactionID string) (*Transaction, error) {
	body := map[string]string{"transaction_id": transactionID}

	var resp struct {
		Transaction Transaction `json:"transaction"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/payments/status", body, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Transaction, nil
}

// PaymentStatus fetches the public status of a payment by its reference.
func (c *Client) PaymentStatus(ctx context.Context, reference string) (*PaymentStatus, error) {
	path := "/api/payment-status?reference=" + url.QueryEscape(reference)

	var resp struct {
		Payment PaymentStatus `json:"payment"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Payment, nil
}

// WaitForPayment polls PaymentStatus until the payment is final. On timeout it
// returns the last status seen together with ErrTimeout.
func (c *Client) WaitForPayment(ctx context.Context, reference string) (*PaymentStatus, error) {
	return poller.Poll(ctx, c.pollInterval, c.pollTimeout, func(ctx context.Context) (*PaymentStatus, bool, error) {
		status, err := c.PaymentStatus(ctx, reference)
		if err != nil {
			c.logger.Debug("payment status check failed",
				zap.String("reference", reference),
				zap.Error(err))
			return nil, false, err
		}
		return status, status.Final(), nil
	})
}

// VerifyWebhook checks the signature headers of a delivered webhook against the
// endpoint secret.
func VerifyWebhook(header http.Header, payload []byte, secret string) error {
	ts, err := strconv.ParseInt(header.Get(webhook.HeaderTimestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid webhook timestamp: %w", err)
	}
	if !webhook.Verify(payload, ts, secret, header.Get(webhook.HeaderSignature)) {
		return errors.New("webhook signature mismatch")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}, headers map[string]string, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var e struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			apiErr.Message = e.Message
			apiErr.Code = e.Code
		}
		return apiErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
