// internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swiftpay/internal/cache"
	"swiftpay/internal/domain"
	"swiftpay/internal/metrics"
	"swiftpay/internal/provider"
	"swiftpay/internal/repository"
	"swiftpay/pkg/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const idempotencyLockTTL = time.Minute

type PaymentConfig struct {
	Master         provider.Credentials
	CallbackURL    string
	IdempotencyTTL time.Duration

	SiteOwnerID         string
	SiteDefaultAmount   int64
	SiteReferencePrefix string
	SiteDescription     string
}

type PaymentUsecase struct {
	txRepo   repository.TransactionRepository
	credRepo repository.CredentialRepository
	gateway  provider.STKGateway
	idem     IdempotencyStore
	cfg      PaymentConfig
	logger   *zap.Logger
}

func NewPaymentUsecase(
	txRepo repository.TransactionRepository,
	credRepo repository.CredentialRepository,
	gateway provider.STKGateway,
	idem IdempotencyStore,
	cfg PaymentConfig,
	logger *zap.Logger,
) *PaymentUsecase {
	return &PaymentUsecase{
		txRepo:   txRepo,
		credRepo: credRepo,
		gateway:  gateway,
		idem:     idem,
		cfg:      cfg,
		logger:   logger,
	}
}

type InitiateRequest struct {
	// APIKey authenticates a tenant. Empty for the site flow.
	APIKey string
	// OwnerID attributes a keyless request to an owner (site flow).
	OwnerID        string
	Phone          string
	Amount         decimal.Decimal
	Reference      string
	Description    string
	IdempotencyKey string
}

type InitiateResult struct {
	TransactionID     string `json:"transaction_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	MerchantRequestID string `json:"merchant_request_id"`
	Reference         string `json:"reference"`
	Amount            int64  `json:"amount"`
	CustomerMessage   string `json:"customer_message"`
	UsingUserTill     bool   `json:"using_user_till"`
	Replayed          bool   `json:"-"`
}

// Initiate validates the request, resolves the merchant account and asks the
// gateway to prompt the payer. A pending transaction is recorded only after the
// gateway accepts.
func (uc *PaymentUsecase) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	phone, err := domain.NormalizePhone(req.Phone)
	if err != nil {
		metrics.PaymentsInitiatedTotal.WithLabelValues("invalid", "none").Inc()
		return nil, err
	}

	amount, err := domain.ValidateAmount(req.Amount)
	if err != nil {
		metrics.PaymentsInitiatedTotal.WithLabelValues("invalid", "none").Inc()
		return nil, err
	}

	ownerID := req.OwnerID
	if req.APIKey != "" {
		key, err := uc.credRepo.GetActiveAPIKey(ctx, req.APIKey)
		if err != nil {
			metrics.PaymentsInitiatedTotal.WithLabelValues("unauthorized", "none").Inc()
			return nil, err
		}
		ownerID = key.UserID
		if err := uc.credRepo.TouchAPIKey(ctx, key.ID); err != nil {
			uc.logger.Warn("failed to update api key last_used_at",
				zap.String("api_key_id", key.ID),
				zap.Error(err))
		}
	}

	var idemKey string
	if req.IdempotencyKey != "" {
		idemKey = cache.IdempotencyKey(ownerOrAnonymous(ownerID), req.IdempotencyKey)
		var previous InitiateResult
		found, err := uc.idem.Begin(ctx, idemKey, idempotencyLockTTL, &previous)
		switch {
		case errors.Is(err, cache.ErrInFlight):
			return nil, err
		case err != nil:
			uc.logger.Warn("idempotency store unavailable, continuing without it",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(err))
			idemKey = ""
		case found:
			metrics.PaymentsInitiatedTotal.WithLabelValues("replayed", "none").Inc()
			previous.Replayed = true
			return &previous, nil
		}
	}

	result, err := uc.initiate(ctx, ownerID, phone, amount, req)
	if idemKey != "" {
		uc.finishIdempotency(ctx, idemKey, result, err)
	}
	return result, err
}

// InitiateSitePayment starts the public job-site fee payment. Amount and
// description fall back to the site defaults.
func (uc *PaymentUsecase) InitiateSitePayment(ctx context.Context, phone string, amount *decimal.Decimal, description string) (*InitiateResult, error) {
	value := decimal.NewFromInt(uc.cfg.SiteDefaultAmount)
	if amount != nil {
		value = *amount
	}
	if description == "" {
		description = uc.cfg.SiteDescription
	}

	return uc.Initiate(ctx, InitiateRequest{
		OwnerID:     uc.cfg.SiteOwnerID,
		Phone:       phone,
		Amount:      value,
		Reference:   fmt.Sprintf("%s-%s", uc.cfg.SiteReferencePrefix, id.Short(10)),
		Description: description,
	})
}

func (uc *PaymentUsecase) initiate(ctx context.Context, ownerID, phone string, amount int64, req InitiateRequest) (*InitiateResult, error) {
	creds, till := uc.credentialsFor(ctx, ownerID)
	credLabel := "master"
	if till != nil {
		credLabel = "till"
	}

	reference := req.Reference
	if reference == "" {
		reference = id.WithPrefix("SWP")
	}
	description := req.Description
	if description == "" {
		description = "Payment"
	}

	push, err := uc.gateway.InitiateSTKPush(ctx, creds, provider.STKPushParams{
		Phone:            phone,
		Amount:           amount,
		AccountReference: reference,
		Description:      description,
		CallbackURL:      uc.cfg.CallbackURL,
	})
	if err != nil {
		metrics.PaymentsInitiatedTotal.WithLabelValues("gateway_error", credLabel).Inc()
		uc.logger.Error("stk push failed",
			zap.String("reference", reference),
			zap.String("phone", domain.MaskPhone(phone)),
			zap.Error(err))
		return nil, err
	}
	if !push.Accepted() {
		metrics.PaymentsInitiatedTotal.WithLabelValues("rejected", credLabel).Inc()
		msg := push.ResponseDescription
		if msg == "" {
			msg = push.CustomerMessage
		}
		return nil, &domain.UpstreamError{Code: push.ResponseCode, Message: msg}
	}

	tx := &domain.Transaction{
		CheckoutRequestID: push.CheckoutRequestID,
		MerchantRequestID: push.MerchantRequestID,
		Reference:         reference,
		Phone:             phone,
		Amount:            amount,
		Description:       description,
		Status:            domain.StatusPending,
	}
	if ownerID != "" {
		tx.UserID = domain.StringPtr(ownerID)
	}
	if till != nil {
		tx.TillID = domain.StringPtr(till.ID)
	}

	// The payer already has the prompt, so a failed insert is logged and the
	// initiation still reported as accepted. The callback for it will be
	// treated as an unknown transaction.
	if err := uc.txRepo.Create(ctx, tx); err != nil {
		uc.logger.Error("failed to record pending transaction",
			zap.String("checkout_request_id", push.CheckoutRequestID),
			zap.String("reference", reference),
			zap.Error(err))
	}

	metrics.PaymentsInitiatedTotal.WithLabelValues("accepted", credLabel).Inc()
	uc.logger.Info("stk push accepted",
		zap.String("checkout_request_id", push.CheckoutRequestID),
		zap.String("reference", reference),
		zap.String("owner_id", ownerID),
		zap.String("phone", domain.MaskPhone(phone)),
		zap.Int64("amount", amount),
		zap.Bool("using_user_till", till != nil))

	return &InitiateResult{
		TransactionID:     push.CheckoutRequestID,
		CheckoutRequestID: push.CheckoutRequestID,
		MerchantRequestID: push.MerchantRequestID,
		Reference:         reference,
		Amount:            amount,
		CustomerMessage:   push.CustomerMessage,
		UsingUserTill:     till != nil,
	}, nil
}

// credentialsFor returns the owner's default till when it has one, the master account otherwise.
func (uc *PaymentUsecase) credentialsFor(ctx context.Context, ownerID string) (provider.Credentials, *domain.Till) {
	if ownerID == "" {
		return uc.cfg.Master, nil
	}

	till, err := uc.credRepo.GetDefaultTill(ctx, ownerID)
	if err != nil {
		uc.logger.Warn("failed to load till, using master account",
			zap.String("owner_id", ownerID),
			zap.Error(err))
		return uc.cfg.Master, nil
	}
	if till == nil {
		return uc.cfg.Master, nil
	}
	return tillCredentials(till, uc.cfg.Master), till
}

func tillCredentials(till *domain.Till, master provider.Credentials) provider.Credentials {
	shortCode := till.ShortCode
	if shortCode == "" {
		shortCode = till.TillNumber
	}
	return provider.Credentials{
		ConsumerKey:     till.ConsumerKey,
		ConsumerSecret:  till.ConsumerSecret,
		ShortCode:       shortCode,
		Passkey:         till.Passkey,
		PartyB:          till.TillNumber,
		TransactionType: master.TransactionType,
	}
}

func (uc *PaymentUsecase) finishIdempotency(ctx context.Context, key string, result *InitiateResult, err error) {
	if err != nil {
		if relErr := uc.idem.Release(ctx, key); relErr != nil {
			uc.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
		}
		return
	}
	if err := uc.idem.Complete(ctx, key, result, uc.cfg.IdempotencyTTL); err != nil {
		uc.logger.Warn("failed to store idempotent result", zap.String("key", key), zap.Error(err))
	}
}

func ownerOrAnonymous(ownerID string) string {
	if ownerID == "" {
		return "anonymous"
	}
	return ownerID
}
