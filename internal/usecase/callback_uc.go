// internal/usecase/callback_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"

	"swiftpay/internal/domain"
	"swiftpay/internal/metrics"
	"swiftpay/internal/provider/mpesa"
	"swiftpay/internal/repository"

	"go.uber.org/zap"
)

type CallbackUsecase struct {
	txRepo  repository.TransactionRepository
	settler *Settler
	logger  *zap.Logger
}

func NewCallbackUsecase(txRepo repository.TransactionRepository, settler *Settler, logger *zap.Logger) *CallbackUsecase {
	return &CallbackUsecase{
		txRepo:  txRepo,
		settler: settler,
		logger:  logger,
	}
}

// ProcessSTKCallback settles the transaction named by a gateway callback.
// Callbacks for unknown checkout ids are logged and dropped. Redelivered
// callbacks for settled transactions change nothing.
func (uc *CallbackUsecase) ProcessSTKCallback(ctx context.Context, payload []byte) error {
	result, err := mpesa.ParseSTKCallback(payload)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("invalid").Inc()
		uc.logger.Error("failed to parse stk callback",
			zap.Int("payload_size", len(payload)),
			zap.Error(err))
		return err
	}

	uc.logger.Info("stk callback received",
		zap.String("checkout_request_id", result.CheckoutRequestID),
		zap.Int("result_code", result.ResultCode),
		zap.String("result_desc", result.ResultDesc),
		zap.String("mpesa_receipt", result.MpesaReceiptNumber))

	tx, err := uc.txRepo.GetByCheckoutRequestID(ctx, result.CheckoutRequestID)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		metrics.CallbacksTotal.WithLabelValues("unknown").Inc()
		uc.logger.Warn("callback for unknown transaction",
			zap.String("checkout_request_id", result.CheckoutRequestID),
			zap.Int("result_code", result.ResultCode))
		return nil
	}
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("load transaction: %w", err)
	}

	settlement := domain.Settlement{
		CheckoutRequestID: result.CheckoutRequestID,
		Status:            domain.StatusFromResultCode(result.ResultCode),
		ResultCode:        result.ResultCode,
		ResultDesc:        result.ResultDesc,
		CallbackData:      payload,
	}
	if result.Success() {
		settlement.MpesaReceipt = result.MpesaReceiptNumber
		settlement.TransactionDate = result.TransactionDate
		if result.Amount > 0 && int64(result.Amount) != tx.Amount {
			uc.logger.Warn("callback amount differs from requested amount",
				zap.String("checkout_request_id", tx.CheckoutRequestID),
				zap.Int64("requested", tx.Amount),
				zap.Float64("paid", result.Amount))
		}
	}

	outcome, err := uc.settler.Settle(ctx, settlement, "callback")
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("error").Inc()
		uc.logger.Error("failed to settle transaction from callback",
			zap.String("checkout_request_id", result.CheckoutRequestID),
			zap.Error(err))
		return err
	}

	switch {
	case outcome.Transitioned:
		metrics.CallbacksTotal.WithLabelValues("settled").Inc()
	case outcome.ReceiptFilled:
		metrics.CallbacksTotal.WithLabelValues("receipt_filled").Inc()
	default:
		metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
	}
	return nil
}
