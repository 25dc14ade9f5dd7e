package repository

import (
	"context"
	"errors"

	"swiftpay/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CredentialRepository interface {
	GetActiveAPIKey(ctx context.Context, key string) (*domain.APIKey, error)
	TouchAPIKey(ctx context.Context, id string) error
	// GetDefaultTill returns nil without error when the owner has no default active till.
	GetDefaultTill(ctx context.Context, userID string) (*domain.Till, error)
}

type credentialRepo struct {
	db *pgxpool.Pool
}

func NewCredentialRepository(db *pgxpool.Pool) CredentialRepository {
	return &credentialRepo{db: db}
}

func (r *credentialRepo) GetActiveAPIKey(ctx context.Context, key string) (*domain.APIKey, error) {
	query := `
		SELECT id, user_id, api_key, COALESCE(name, ''), is_active, last_used_at
		FROM api_keys
		WHERE api_key = $1 AND is_active = TRUE
	`

	var k domain.APIKey
	err := r.db.QueryRow(ctx, query, key).Scan(
		&k.ID, &k.UserID, &k.Key, &k.Name, &k.IsActive, &k.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *credentialRepo) TouchAPIKey(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *credentialRepo) GetDefaultTill(ctx context.Context, userID string) (*domain.Till, error) {
	query := `
		SELECT id, user_id, till_number, shortcode, passkey, consumer_key, consumer_secret, is_default, is_active
		FROM tills
		WHERE user_id = $1 AND is_default = TRUE AND is_active = TRUE
		LIMIT 1
	`

	var t domain.Till
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&t.ID, &t.UserID, &t.TillNumber, &t.ShortCode, &t.Passkey,
		&t.ConsumerKey, &t.ConsumerSecret, &t.IsDefault, &t.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
