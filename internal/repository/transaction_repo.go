// internal/repository/transaction_repo.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"swiftpay/internal/domain"
	"swiftpay/pkg/id"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	GetForUser(ctx context.Context, userID, transactionID string) (*domain.Transaction, error)
	Settle(ctx context.Context, s domain.Settlement) (*domain.SettleOutcome, error)
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepo{db: db}
}

const transactionColumns = `
	id, checkout_request_id, merchant_request_id, reference, user_id, till_id,
	phone, amount, description, status, result_code, result_desc,
	mpesa_receipt, transaction_date, callback_data,
	created_at, updated_at, completed_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID,
		&t.CheckoutRequestID,
		&t.MerchantRequestID,
		&t.Reference,
		&t.UserID,
		&t.TillID,
		&t.Phone,
		&t.Amount,
		&t.Description,
		&t.Status,
		&t.ResultCode,
		&t.ResultDesc,
		&t.MpesaReceipt,
		&t.TransactionDate,
		&t.CallbackData,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			checkout_request_id, merchant_request_id, reference, user_id, till_id,
			phone, amount, description, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		tx.CheckoutRequestID,
		tx.MerchantRequestID,
		tx.Reference,
		tx.UserID,
		tx.TillID,
		tx.Phone,
		tx.Amount,
		tx.Description,
		tx.Status,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateTransaction
	}
	return err
}

func (r *transactionRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE checkout_request_id = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, checkoutRequestID))
}

// GetByReference matches either the merchant reference or the checkout request id.
func (r *transactionRepo) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE reference = $1 OR checkout_request_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanTransaction(r.db.QueryRow(ctx, query, reference))
}

func (r *transactionRepo) GetForUser(ctx context.Context, userID, transactionID string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE (checkout_request_id = $1 OR reference = $1) AND user_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanTransaction(r.db.QueryRow(ctx, query, transactionID, userID))
}

// Settle applies a terminal outcome under a row lock. The row only moves out of
// pending once; webhook deliveries are written in the same database transaction
// and only when that move happens. A completed row that is still missing its
// receipt may have it filled in by a later settle.
func (r *transactionRepo) Settle(ctx context.Context, s domain.Settlement) (*domain.SettleOutcome, error) {
	if !s.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: settle to %s", domain.ErrInvalidTransition, s.Status)
	}

	var outcome *domain.SettleOutcome
	err := pgx.BeginFunc(ctx, r.db, func(dbTx pgx.Tx) error {
		current, err := scanTransaction(dbTx.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE checkout_request_id = $1 FOR UPDATE`,
			s.CheckoutRequestID))
		if err != nil {
			return err
		}

		switch domain.DecideSettle(current, s) {
		case domain.SettleTransition:
			updated, err := r.transition(ctx, dbTx, current.ID, s)
			if err != nil {
				return err
			}
			deliveries, err := r.enqueueDeliveries(ctx, dbTx, s, updated)
			if err != nil {
				return err
			}
			outcome = &domain.SettleOutcome{Transaction: updated, Transitioned: true, Deliveries: deliveries}

		case domain.SettleFillReceipt:
			updated, err := r.fillReceipt(ctx, dbTx, current.ID, s)
			if err != nil {
				return err
			}
			outcome = &domain.SettleOutcome{Transaction: updated, ReceiptFilled: true}

		default:
			outcome = &domain.SettleOutcome{Transaction: current}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (r *transactionRepo) transition(ctx context.Context, dbTx pgx.Tx, id int64, s domain.Settlement) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET
			status = $1,
			result_code = $2,
			result_desc = $3,
			mpesa_receipt = NULLIF($4, ''),
			transaction_date = NULLIF($5, ''),
			callback_data = COALESCE($6::jsonb, callback_data),
			completed_at = $8,
			updated_at = NOW()
		WHERE id = $7 AND status = 'pending'
		RETURNING ` + transactionColumns

	return scanTransaction(dbTx.QueryRow(ctx, query,
		s.Status,
		s.ResultCode,
		s.ResultDesc,
		s.MpesaReceipt,
		s.TransactionDate,
		jsonArg(s.CallbackData),
		id,
		s.CompletedAt(),
	))
}

func (r *transactionRepo) fillReceipt(ctx context.Context, dbTx pgx.Tx, id int64, s domain.Settlement) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET
			mpesa_receipt = $1,
			transaction_date = COALESCE(NULLIF($2, ''), transaction_date),
			callback_data = COALESCE($3::jsonb, callback_data),
			updated_at = NOW()
		WHERE id = $4 AND mpesa_receipt IS NULL
		RETURNING ` + transactionColumns

	return scanTransaction(dbTx.QueryRow(ctx, query,
		s.MpesaReceipt,
		s.TransactionDate,
		jsonArg(s.CallbackData),
		id,
	))
}

// enqueueDeliveries writes one outbox row per active subscription of the owner.
func (r *transactionRepo) enqueueDeliveries(ctx context.Context, dbTx pgx.Tx, s domain.Settlement, t *domain.Transaction) (int, error) {
	if t.UserID == nil {
		return 0, nil
	}

	rows, err := dbTx.Query(ctx,
		`SELECT id, user_id, url, secret, is_active FROM webhooks WHERE user_id = $1 AND is_active = TRUE`,
		*t.UserID)
	if err != nil {
		return 0, fmt.Errorf("list webhooks: %w", err)
	}
	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.WebhookSubscription, error) {
		var sub domain.WebhookSubscription
		err := row.Scan(&sub.ID, &sub.UserID, &sub.URL, &sub.Secret, &sub.IsActive)
		return sub, err
	})
	if err != nil {
		return 0, fmt.Errorf("scan webhooks: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	eventID, occurredAt := s.EventID, s.OccurredAt
	if eventID == "" {
		eventID = id.WithPrefix("evt")
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	event := domain.NewPaymentEvent(eventID, t, occurredAt)
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	for _, sub := range subs {
		batch.Queue(`
			INSERT INTO webhook_deliveries (
				event_id, webhook_id, user_id, url, secret, event_type, payload,
				status, attempts, next_attempt_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 0, NOW())`,
			event.ID, sub.ID, sub.UserID, sub.URL, sub.Secret, event.Event, payload)
	}
	if err := dbTx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("enqueue webhook deliveries: %w", err)
	}
	return len(subs), nil
}

func jsonArg(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
