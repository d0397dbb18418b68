package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"circles-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PasswordResetRepository stores pending password reset codes, one per email
type PasswordResetRepository struct {
	db *pgxpool.Pool
}

// NewPasswordResetRepository creates a new password reset repository
func NewPasswordResetRepository(db *pgxpool.Pool) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Upsert replaces any pending code for the email and resets the attempt count
func (r *PasswordResetRepository) Upsert(ctx context.Context, pr *models.PasswordReset) error {
	query := `
		INSERT INTO password_resets (email, code_hash, attempts, expires_at, created_at)
		VALUES (lower($1), $2, 0, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET code_hash = EXCLUDED.code_hash, attempts = 0,
			expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
	`
	if _, err := r.db.Exec(ctx, query, pr.Email, pr.CodeHash, pr.ExpiresAt, pr.CreatedAt); err != nil {
		return fmt.Errorf("failed to store password reset: %w", err)
	}
	return nil
}

// Get returns the pending reset for an email
func (r *PasswordResetRepository) Get(ctx context.Context, email string) (*models.PasswordReset, error) {
	query := `
		SELECT email, code_hash, attempts, expires_at, created_at
		FROM password_resets
		WHERE email = lower($1)
	`
	var pr models.PasswordReset
	err := r.db.QueryRow(ctx, query, email).Scan(&pr.Email, &pr.CodeHash, &pr.Attempts, &pr.ExpiresAt, &pr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("password reset: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get password reset: %w", err)
	}
	return &pr, nil
}

// ReserveAttempt spends one attempt of an unexpired reset and returns its
// code hash. ErrNotFound means no reset exists, it expired, or its attempt
// budget is used up.
func (r *PasswordResetRepository) ReserveAttempt(ctx context.Context, email string, maxAttempts int, now time.Time) (string, error) {
	query := `
		UPDATE password_resets
		SET attempts = attempts + 1
		WHERE email = lower($1) AND attempts < $2 AND expires_at > $3
		RETURNING code_hash
	`
	var hash string
	err := r.db.QueryRow(ctx, query, email, maxAttempts, now).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("password reset: %w", ErrNotFound)
		}
		return "", fmt.Errorf("failed to reserve reset attempt: %w", err)
	}
	return hash, nil
}

// Delete removes the pending reset for an email
func (r *PasswordResetRepository) Delete(ctx context.Context, email string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM password_resets WHERE email = lower($1)`, email)
	if err != nil {
		return fmt.Errorf("failed to delete password reset: %w", err)
	}
	return nil
}

// DeleteExpired removes resets that expired before now
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM password_resets WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired password resets: %w", err)
	}
	return result.RowsAffected(), nil
}
