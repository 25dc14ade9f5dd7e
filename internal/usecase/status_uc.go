// internal/usecase/status_uc.go
package usecase

import (
	"context"
	"errors"
	"strconv"
	"time"

	"swiftpay/internal/cache"
	"swiftpay/internal/domain"
	"swiftpay/internal/metrics"
	"swiftpay/internal/provider"
	"swiftpay/internal/repository"

	"go.uber.org/zap"
)

// PaymentStatus is the polling view of a payment.
type PaymentStatus struct {
	Status             domain.PublicStatus `json:"status"`
	Reference          string              `json:"reference,omitempty"`
	Amount             *int64              `json:"amount,omitempty"`
	PhoneNumber        string              `json:"phoneNumber,omitempty"`
	MpesaReceiptNumber string              `json:"mpesaReceiptNumber,omitempty"`
	ResultCode         *int                `json:"resultCode,omitempty"`
	ResultDesc         string              `json:"resultDesc,omitempty"`
	Timestamp          *time.Time          `json:"timestamp,omitempty"`
	Message            string              `json:"message,omitempty"`
}

const pendingMessage = "Payment is still being processed"

type StatusUsecase struct {
	txRepo   repository.TransactionRepository
	credRepo repository.CredentialRepository
	gateway  provider.STKGateway
	settler  *Settler
	cache    StatusCache
	master   provider.Credentials
	cacheTTL time.Duration
	logger   *zap.Logger
}

func NewStatusUsecase(
	txRepo repository.TransactionRepository,
	credRepo repository.CredentialRepository,
	gateway provider.STKGateway,
	settler *Settler,
	statusCache StatusCache,
	master provider.Credentials,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *StatusUsecase {
	return &StatusUsecase{
		txRepo:   txRepo,
		credRepo: credRepo,
		gateway:  gateway,
		settler:  settler,
		cache:    statusCache,
		master:   master,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// GetByReference answers a polling client. Terminal answers come from the
// cache or the store. Anything else is checked against the gateway; a success
// reported there for a known row is persisted, other gateway answers are only reported.
func (uc *StatusUsecase) GetByReference(ctx context.Context, reference string) (*PaymentStatus, error) {
	if reference == "" {
		return nil, &domain.ValidationError{Field: "reference", Err: domain.ErrInvalidRequest}
	}

	var cached PaymentStatus
	if found, err := uc.cache.GetJSON(ctx, cache.StatusKey(reference), &cached); err != nil {
		uc.logger.Warn("status cache read failed", zap.String("reference", reference), zap.Error(err))
	} else if found {
		metrics.StatusChecksTotal.WithLabelValues("cache", string(cached.Status)).Inc()
		return &cached, nil
	}

	tx, err := uc.txRepo.GetByReference(ctx, reference)
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		return uc.checkUnknown(ctx, reference), nil
	case err != nil:
		uc.logger.Error("status lookup failed", zap.String("reference", reference), zap.Error(err))
		return uc.checkUnknown(ctx, reference), nil
	}

	if tx.Status.IsTerminal() {
		view := statusView(tx)
		uc.remember(ctx, reference, view)
		metrics.StatusChecksTotal.WithLabelValues("store", string(view.Status)).Inc()
		return view, nil
	}

	return uc.checkUpstream(ctx, reference, tx), nil
}

func (uc *StatusUsecase) checkUpstream(ctx context.Context, reference string, tx *domain.Transaction) *PaymentStatus {
	pending := statusView(tx)
	pending.Message = pendingMessage

	res, err := uc.gateway.QuerySTKStatus(ctx, uc.credentialsFor(ctx, tx), tx.CheckoutRequestID)
	if err != nil {
		uc.logger.Warn("gateway status query failed",
			zap.String("checkout_request_id", tx.CheckoutRequestID),
			zap.Error(err))
		metrics.StatusChecksTotal.WithLabelValues("gateway", string(domain.PublicPending)).Inc()
		return pending
	}
	if res.Processing || res.ResultCode == "" {
		metrics.StatusChecksTotal.WithLabelValues("gateway", string(domain.PublicPending)).Inc()
		return pending
	}

	code, err := strconv.Atoi(res.ResultCode)
	if err != nil {
		uc.logger.Warn("gateway returned non-numeric result code",
			zap.String("checkout_request_id", tx.CheckoutRequestID),
			zap.String("result_code", res.ResultCode))
		return pending
	}

	if code != domain.ResultCodeSuccess {
		view := statusView(tx)
		view.Status = domain.PublicFailed
		view.ResultCode = &code
		view.ResultDesc = res.ResultDesc
		metrics.StatusChecksTotal.WithLabelValues("gateway", string(view.Status)).Inc()
		return view
	}

	outcome, err := uc.settler.Settle(ctx, domain.Settlement{
		CheckoutRequestID: tx.CheckoutRequestID,
		Status:            domain.StatusCompleted,
		ResultCode:        code,
		ResultDesc:        res.ResultDesc,
	}, "poller")
	if err != nil {
		uc.logger.Error("failed to persist gateway-reported completion",
			zap.String("checkout_request_id", tx.CheckoutRequestID),
			zap.Error(err))
		view := statusView(tx)
		view.Status = domain.PublicSuccess
		view.ResultCode = &code
		view.ResultDesc = res.ResultDesc
		return view
	}

	view := statusView(outcome.Transaction)
	uc.remember(ctx, reference, view)
	metrics.StatusChecksTotal.WithLabelValues("gateway", string(view.Status)).Inc()
	return view
}

// checkUnknown asks the gateway about a reference with no local row, treating it
// as a checkout id on the master account. Nothing is persisted.
func (uc *StatusUsecase) checkUnknown(ctx context.Context, reference string) *PaymentStatus {
	view := &PaymentStatus{Status: domain.PublicPending, Reference: reference, Message: pendingMessage}

	res, err := uc.gateway.QuerySTKStatus(ctx, uc.master, reference)
	if err != nil || res.Processing || res.ResultCode == "" {
		metrics.StatusChecksTotal.WithLabelValues("gateway", string(view.Status)).Inc()
		return view
	}
	code, err := strconv.Atoi(res.ResultCode)
	if err != nil {
		return view
	}

	view.Status = domain.StatusFromResultCode(code).Public()
	view.ResultCode = &code
	view.ResultDesc = res.ResultDesc
	view.Message = ""
	metrics.StatusChecksTotal.WithLabelValues("gateway", string(view.Status)).Inc()
	return view
}

// credentialsFor queries with the account that initiated the push.
func (uc *StatusUsecase) credentialsFor(ctx context.Context, tx *domain.Transaction) provider.Credentials {
	if tx.UserID == nil || tx.TillID == nil {
		return uc.master
	}
	till, err := uc.credRepo.GetDefaultTill(ctx, *tx.UserID)
	if err != nil || till == nil || till.ID != *tx.TillID {
		return uc.master
	}
	return tillCredentials(till, uc.master)
}

func (uc *StatusUsecase) remember(ctx context.Context, reference string, view *PaymentStatus) {
	if !view.Status.IsTerminal() {
		return
	}
	if err := uc.cache.SetJSON(ctx, cache.StatusKey(reference), view, uc.cacheTTL); err != nil {
		uc.logger.Warn("status cache write failed", zap.String("reference", reference), zap.Error(err))
	}
}

// GetForOwner returns a tenant's own transaction by checkout id or reference.
func (uc *StatusUsecase) GetForOwner(ctx context.Context, apiKey, transactionID string) (*domain.Transaction, error) {
	if apiKey == "" {
		return nil, domain.ErrAPIKeyRequired
	}
	if transactionID == "" {
		return nil, &domain.ValidationError{Field: "transaction_id", Err: domain.ErrInvalidRequest}
	}

	key, err := uc.credRepo.GetActiveAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if err := uc.credRepo.TouchAPIKey(ctx, key.ID); err != nil {
		uc.logger.Warn("failed to update api key last_used_at", zap.String("api_key_id", key.ID), zap.Error(err))
	}

	return uc.txRepo.GetForUser(ctx, key.UserID, transactionID)
}

func statusView(tx *domain.Transaction) *PaymentStatus {
	amount := tx.Amount
	view := &PaymentStatus{
		Status:             tx.Status.Public(),
		Reference:          tx.Reference,
		Amount:             &amount,
		PhoneNumber:        tx.Phone,
		MpesaReceiptNumber: domain.Deref(tx.MpesaReceipt),
		ResultCode:         tx.ResultCode,
		ResultDesc:         domain.Deref(tx.ResultDesc),
	}
	ts := tx.UpdatedAt
	if tx.CompletedAt != nil {
		ts = *tx.CompletedAt
	}
	if !ts.IsZero() {
		view.Timestamp = &ts
	}
	return view
}
