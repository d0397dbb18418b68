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

// InvitationsCodeKey is the unique index on invitation codes
const InvitationsCodeKey = "invitations_code_key"

// InvitationRepository handles database operations for invitation codes
type InvitationRepository struct {
	db *pgxpool.Pool
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(db *pgxpool.Pool) *InvitationRepository {
	return &InvitationRepository{db: db}
}

// Create inserts an invitation for an existing circle
func (r *InvitationRepository) Create(ctx context.Context, inv *models.Invitation) error {
	return insertInvitation(ctx, r.db, inv)
}

// GetActiveByCode finds an unexpired invitation, matching the code case-insensitively
func (r *InvitationRepository) GetActiveByCode(ctx context.Context, code string, now time.Time) (*models.Invitation, error) {
	query := `
		SELECT id, circle_id, invitation_code, created_by, expiration_date, created_at
		FROM invitations
		WHERE lower(invitation_code) = lower($1) AND expiration_date > $2
	`
	var inv models.Invitation
	err := r.db.QueryRow(ctx, query, code, now).Scan(
		&inv.ID, &inv.CircleID, &inv.Code, &inv.CreatedBy, &inv.ExpiresAt, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invitation: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return &inv, nil
}

// DeleteExpired removes invitations that expired before now
func (r *InvitationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM invitations WHERE expiration_date <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired invitations: %w", err)
	}
	return result.RowsAffected(), nil
}

func insertInvitation(ctx context.Context, db execer, inv *models.Invitation) error {
	query := `
		INSERT INTO invitations (id, circle_id, invitation_code, created_by, expiration_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.Exec(ctx, query, inv.ID, inv.CircleID, inv.Code, inv.CreatedBy, inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create invitation: %w (%w)", ErrAlreadyExists, err)
		}
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}
