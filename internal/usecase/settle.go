package usecase

import (
	"context"
	"strings"
	"time"

	"swiftpay/internal/cache"
	"swiftpay/internal/domain"
	"swiftpay/internal/events"
	"swiftpay/internal/metrics"
	"swiftpay/internal/repository"
	"swiftpay/pkg/id"

	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// PaidMarker records that the payment behind reference completed. *ApplicationUsecase satisfies it.
type PaidMarker interface {
	MarkPaid(ctx context.Context, reference string, amount int64) error
}

// SiteScope identifies transactions started by the job-site flow. Only those
// can pay for an application.
type SiteScope struct {
	OwnerID         string
	ReferencePrefix string
}

// Includes reports whether tx is a site payment: the site owner (no owner when
// none is configured) and a reference of the form "<prefix>-...".
func (s SiteScope) Includes(tx *domain.Transaction) bool {
	if s.ReferencePrefix == "" || !strings.HasPrefix(tx.Reference, s.ReferencePrefix+"-") {
		return false
	}
	return tx.OwnerID() == s.OwnerID
}

// Settler applies terminal outcomes and runs the side effects of a real
// transition: event publish, cache invalidation and application payment marking.
// Webhook deliveries are enqueued by the repository inside the settle transaction.
type Settler struct {
	txRepo    repository.TransactionRepository
	apps      PaidMarker
	site      SiteScope
	cache     StatusCache
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewSettler(
	txRepo repository.TransactionRepository,
	apps PaidMarker,
	site SiteScope,
	statusCache StatusCache,
	publisher events.Publisher,
	logger *zap.Logger,
) *Settler {
	return &Settler{
		txRepo:    txRepo,
		apps:      apps,
		site:      site,
		cache:     statusCache,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Settle writes s and reports what happened. source labels the metrics ("callback", "poller").
func (s *Settler) Settle(ctx context.Context, settlement domain.Settlement, source string) (*domain.SettleOutcome, error) {
	if settlement.EventID == "" {
		settlement.EventID = id.WithPrefix("evt")
	}
	if settlement.OccurredAt.IsZero() {
		settlement.OccurredAt = s.now().UTC()
	}

	outcome, err := s.txRepo.Settle(ctx, settlement)
	if err != nil {
		return nil, err
	}

	tx := outcome.Transaction
	switch {
	case outcome.Transitioned:
		metrics.SettlementsTotal.WithLabelValues(string(tx.Status), source).Inc()
		s.logger.Info("transaction settled",
			zap.String("checkout_request_id", tx.CheckoutRequestID),
			zap.String("reference", tx.Reference),
			zap.String("status", string(tx.Status)),
			zap.String("source", source),
			zap.Int("webhook_deliveries", outcome.Deliveries))

		s.invalidate(ctx, tx)
		s.publish(ctx, domain.NewPaymentEvent(settlement.EventID, tx, settlement.OccurredAt))
		if tx.Status == domain.StatusCompleted && s.site.Includes(tx) {
			s.markApplicationPaid(ctx, tx)
		}

	case outcome.ReceiptFilled:
		s.logger.Info("receipt recorded on completed transaction",
			zap.String("checkout_request_id", tx.CheckoutRequestID),
			zap.String("mpesa_receipt", domain.Deref(tx.MpesaReceipt)))
		s.invalidate(ctx, tx)

	default:
		s.logger.Debug("settle ignored, transaction already terminal",
			zap.String("checkout_request_id", tx.CheckoutRequestID),
			zap.String("status", string(tx.Status)),
			zap.String("source", source))
	}

	return outcome, nil
}

func (s *Settler) invalidate(ctx context.Context, tx *domain.Transaction) {
	keys := []string{cache.StatusKey(tx.CheckoutRequestID)}
	if tx.Reference != "" && tx.Reference != tx.CheckoutRequestID {
		keys = append(keys, cache.StatusKey(tx.Reference))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("failed to invalidate status cache",
			zap.String("checkout_request_id", tx.CheckoutRequestID),
			zap.Error(err))
	}
}

// publish is best effort; the webhook outbox is the delivery guarantee.
func (s *Settler) publish(ctx context.Context, event domain.PaymentEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.PublishPayment(ctx, event); err != nil {
		s.logger.Error("failed to publish payment event",
			zap.String("event_id", event.ID),
			zap.String("checkout_request_id", event.Data.CheckoutRequestID),
			zap.Error(err))
	}
}

func (s *Settler) markApplicationPaid(ctx context.Context, tx *domain.Transaction) {
	if tx.Reference == "" {
		return
	}
	if err := s.apps.MarkPaid(ctx, tx.Reference, tx.Amount); err != nil {
		s.logger.Error("failed to mark application paid",
			zap.String("reference", tx.Reference),
			zap.Error(err))
	}
}
