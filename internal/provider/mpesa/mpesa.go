// internal/provider/mpesa/mpesa.go
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"swiftpay/config"
	"swiftpay/internal/domain"
	"swiftpay/internal/metrics"
	"swiftpay/internal/provider"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	sandboxURL    = "https://sandbox.safaricom.co.ke"
	productionURL = "https://api.safaricom.co.ke"

	timestampLayout = "20060102150405"

	// Daraja field limits.
	maxAccountReference = 12
	maxTransactionDesc  = 13

	// errorCode returned by the query endpoint while the payer has not responded.
	codeStillProcessing = "500.001.1001"
)

// Daraja timestamps are in East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

type MpesaProvider struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

var _ provider.STKGateway = (*MpesaProvider)(nil)

func NewMpesaProvider(cfg config.MpesaConfig) *MpesaProvider {
	baseURL := sandboxURL
	if cfg.Environment == "production" {
		baseURL = productionURL
	}
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &MpesaProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// MasterCredentials builds gateway credentials from the shared account config.
func MasterCredentials(cfg config.MpesaConfig) provider.Credentials {
	partyB := cfg.TillNumber
	if partyB == "" {
		partyB = cfg.ShortCode
	}
	return provider.Credentials{
		ConsumerKey:     cfg.ConsumerKey,
		ConsumerSecret:  cfg.ConsumerSecret,
		ShortCode:       cfg.ShortCode,
		Passkey:         cfg.Passkey,
		PartyB:          partyB,
		TransactionType: cfg.TransactionType,
	}
}

// ============================================
// STK PUSH (Lipa Na M-Pesa Online)
// ============================================

type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// InitiateSTKPush sends the PIN prompt to the payer. A fresh token is fetched for every call.
func (m *MpesaProvider) InitiateSTKPush(ctx context.Context, creds provider.Credentials, params provider.STKPushParams) (*provider.STKPushResult, error) {
	timer := prometheus.NewTimer(metrics.GatewayRequestDuration.WithLabelValues("stk_push"))
	defer timer.ObserveDuration()

	token, err := m.GetAccessToken(ctx, creds)
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("stk_push", "token_error").Inc()
		return nil, err
	}

	timestamp := Timestamp(m.now())
	transactionType := creds.TransactionType
	if transactionType == "" {
		transactionType = "CustomerBuyGoodsOnline"
	}
	partyB := creds.PartyB
	if partyB == "" {
		partyB = creds.ShortCode
	}

	request := STKPushRequest{
		BusinessShortCode: creds.ShortCode,
		Password:          Password(creds.ShortCode, creds.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            params.Amount,
		PartyA:            params.Phone,
		PartyB:            partyB,
		PhoneNumber:       params.Phone,
		CallBackURL:       params.CallbackURL,
		AccountReference:  truncate(params.AccountReference, maxAccountReference),
		TransactionDesc:   truncate(params.Description, maxTransactionDesc),
	}

	var response STKPushResponse
	if err := m.makeRequest(ctx, http.MethodPost, m.baseURL+"/mpesa/stkpush/v1/processrequest", token, request, &response); err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("stk_push", outcomeOf(err)).Inc()
		return nil, err
	}

	result := &provider.STKPushResult{
		MerchantRequestID:   response.MerchantRequestID,
		CheckoutRequestID:   response.CheckoutRequestID,
		ResponseCode:        response.ResponseCode,
		ResponseDescription: response.ResponseDescription,
		CustomerMessage:     response.CustomerMessage,
	}
	if result.Accepted() {
		metrics.GatewayRequestsTotal.WithLabelValues("stk_push", "accepted").Inc()
	} else {
		metrics.GatewayRequestsTotal.WithLabelValues("stk_push", "rejected").Inc()
	}
	return result, nil
}

// ============================================
// STK QUERY
// ============================================

type STKQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type STKQueryResponse struct {
	ResponseCode        string      `json:"ResponseCode"`
	ResponseDescription string      `json:"ResponseDescription"`
	MerchantRequestID   string      `json:"MerchantRequestID"`
	CheckoutRequestID   string      `json:"CheckoutRequestID"`
	ResultCode          json.Number `json:"ResultCode"`
	ResultDesc          string      `json:"ResultDesc"`
}

// QuerySTKStatus asks the gateway for the outcome of a previous push.
func (m *MpesaProvider) QuerySTKStatus(ctx context.Context, creds provider.Credentials, checkoutRequestID string) (*provider.STKQueryResult, error) {
	timer := prometheus.NewTimer(metrics.GatewayRequestDuration.WithLabelValues("stk_query"))
	defer timer.ObserveDuration()

	token, err := m.GetAccessToken(ctx, creds)
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("stk_query", "token_error").Inc()
		return nil, err
	}

	timestamp := Timestamp(m.now())
	request := STKQueryRequest{
		BusinessShortCode: creds.ShortCode,
		Password:          Password(creds.ShortCode, creds.Passkey, timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var response STKQueryResponse
	err = m.makeRequest(ctx, http.MethodPost, m.baseURL+"/mpesa/stkpushquery/v1/query", token, request, &response)

	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) && upstream.Code == codeStillProcessing {
		metrics.GatewayRequestsTotal.WithLabelValues("stk_query", "processing").Inc()
		return &provider.STKQueryResult{
			CheckoutRequestID: checkoutRequestID,
			ResultDesc:        upstream.Message,
			Processing:        true,
		}, nil
	}
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("stk_query", outcomeOf(err)).Inc()
		return nil, err
	}

	metrics.GatewayRequestsTotal.WithLabelValues("stk_query", "ok").Inc()
	return &provider.STKQueryResult{
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        response.ResultCode.String(),
		ResultDesc:        response.ResultDesc,
		Processing:        response.ResultCode == "",
	}, nil
}

// ============================================
// SHARED HELPERS
// ============================================

// Password is base64(shortcode + passkey + timestamp) as the gateway specifies.
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// Timestamp formats t as YYYYMMDDHHmmss in East Africa Time.
func Timestamp(t time.Time) string {
	return t.In(eat).Format(timestampLayout)
}

type apiError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// GetAccessToken exchanges consumer key and secret for a bearer token.
func (m *MpesaProvider) GetAccessToken(ctx context.Context, creds provider.Credentials) (string, error) {
	url := m.baseURL + "/oauth/v1/generate?grant_type=client_credentials"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(creds.ConsumerKey, creds.ConsumerSecret)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read token response: %v", domain.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", upstreamErrorFrom(resp.StatusCode, body, "failed to get access token")
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", domain.ErrUpstreamUnavailable, err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", domain.ErrUpstreamUnavailable)
	}

	return result.AccessToken, nil
}

func (m *MpesaProvider) makeRequest(ctx context.Context, method, url, token string, payload, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return upstreamErrorFrom(resp.StatusCode, body, "gateway request failed")
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to parse response: %v", domain.ErrUpstreamUnavailable, err)
	}
	return nil
}

// upstreamErrorFrom turns a non-200 gateway reply into an UpstreamError when it
// carries the gateway's error body, and into ErrUpstreamUnavailable otherwise.
func upstreamErrorFrom(status int, body []byte, fallback string) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && (apiErr.ErrorCode != "" || apiErr.ErrorMessage != "") {
		return &domain.UpstreamError{Code: apiErr.ErrorCode, Message: apiErr.ErrorMessage}
	}
	if status >= 500 {
		return fmt.Errorf("%w: status %d", domain.ErrUpstreamUnavailable, status)
	}
	return &domain.UpstreamError{Code: fmt.Sprintf("%d", status), Message: fallback}
}

func outcomeOf(err error) string {
	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		return "rejected"
	}
	return "error"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
