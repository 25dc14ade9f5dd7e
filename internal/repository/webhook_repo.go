package repository

import (
	"context"
	"time"

	"swiftpay/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookDeliveryRepository is the outbox read side used by the delivery worker.
type WebhookDeliveryRepository interface {
	// ClaimDue leases up to limit due deliveries by pushing their next_attempt_at forward.
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*domain.WebhookDelivery, error)
	MarkDelivered(ctx context.Context, id int64, attempts int) error
	MarkRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastErr string) error
	MarkDead(ctx context.Context, id int64, attempts int, lastErr string) error
}

type webhookDeliveryRepo struct {
	db *pgxpool.Pool
}

func NewWebhookDeliveryRepository(db *pgxpool.Pool) WebhookDeliveryRepository {
	return &webhookDeliveryRepo{db: db}
}

func (r *webhookDeliveryRepo) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*domain.WebhookDelivery, error) {
	query := `
		UPDATE webhook_deliveries
		SET next_attempt_at = NOW() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_id, webhook_id, user_id, url, secret, event_type, payload,
			status, attempts, next_attempt_at, last_error, delivered_at, created_at
	`

	rows, err := r.db.Query(ctx, query, limit, lease.Seconds())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.WebhookDelivery, error) {
		var d domain.WebhookDelivery
		err := row.Scan(
			&d.ID, &d.EventID, &d.WebhookID, &d.UserID, &d.URL, &d.Secret, &d.EventType, &d.Payload,
			&d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.DeliveredAt, &d.CreatedAt,
		)
		return &d, err
	})
}

func (r *webhookDeliveryRepo) MarkDelivered(ctx context.Context, id int64, attempts int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'delivered', attempts = $1, delivered_at = NOW(), last_error = NULL
		WHERE id = $2`, attempts, id)
	return err
}

func (r *webhookDeliveryRepo) MarkRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastErr string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE webhook_deliveries
		SET attempts = $1, next_attempt_at = $2, last_error = $3
		WHERE id = $4`, attempts, nextAttemptAt, lastErr, id)
	return err
}

func (r *webhookDeliveryRepo) MarkDead(ctx context.Context, id int64, attempts int, lastErr string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'dead', attempts = $1, last_error = $2
		WHERE id = $3`, attempts, lastErr, id)
	return err
}
