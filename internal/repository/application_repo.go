package repository

import (
	"context"

	"swiftpay/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ApplicationRepository interface {
	Create(ctx context.Context, app *domain.Application) error
	// MarkPaid flags unpaid applications carrying reference as paid and returns how many changed.
	MarkPaid(ctx context.Context, reference string, amount int64) (int64, error)
}

type applicationRepo struct {
	db *pgxpool.Pool
}

func NewApplicationRepository(db *pgxpool.Pool) ApplicationRepository {
	return &applicationRepo{db: db}
}

func (r *applicationRepo) Create(ctx context.Context, app *domain.Application) error {
	query := `
		INSERT INTO applications (
			id, project_name, full_name, email, phone, project_data,
			payment_reference, payment_status, payment_amount, ip_address, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`

	return r.db.QueryRow(ctx, query,
		app.ID,
		app.ProjectName,
		app.FullName,
		app.Email,
		app.Phone,
		jsonArg(app.ProjectData),
		app.PaymentReference,
		app.PaymentStatus,
		app.PaymentAmount,
		app.IPAddress,
		app.UserAgent,
	).Scan(&app.CreatedAt)
}

func (r *applicationRepo) MarkPaid(ctx context.Context, reference string, amount int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE applications
		SET payment_status = $1, payment_amount = $2
		WHERE payment_reference = $3 AND payment_status <> $1`,
		domain.ApplicationPaid, amount, reference)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
