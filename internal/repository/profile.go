package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"circles-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Unique index names from the migrations, used to tell duplicates apart
const (
	ProfilesEmailKey    = "profiles_email_key"
	ProfilesUsernameKey = "profiles_username_key"
)

const profileColumns = `id, email, username, first_name, last_name, password_hash, avatar_url,
	latitude, longitude, location_updated_at, push_token, status, created_at, updated_at`

// ProfileUpdate is a partial profile update; nil fields are left unchanged
type ProfileUpdate struct {
	Username  *string
	FirstName *string
	LastName  *string
}

// ProfileRepository handles database operations for profiles
type ProfileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Create inserts a new profile
func (r *ProfileRepository) Create(ctx context.Context, p *models.Profile) error {
	query := `
		INSERT INTO profiles (id, email, username, first_name, last_name, password_hash, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.Email, p.Username, p.FirstName, p.LastName, p.PasswordHash, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create profile: %w (%w)", ErrAlreadyExists, err)
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// GetByID retrieves a profile by ID
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	p, err := scanProfile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// GetByEmail retrieves a profile by email, case-insensitively
func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE lower(email) = lower($1)`
	p, err := scanProfile(r.db.QueryRow(ctx, query, email))
	if err != nil {
		return nil, fmt.Errorf("failed to get profile by email: %w", err)
	}
	return p, nil
}

// UsernameExists checks whether a username is taken
func (r *ProfileRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM profiles WHERE lower(username) = lower($1))`
	var exists bool
	if err := r.db.QueryRow(ctx, query, username).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check username existence: %w", err)
	}
	return exists, nil
}

// EmailExists checks whether an email is registered
func (r *ProfileRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM profiles WHERE lower(email) = lower($1))`
	var exists bool
	if err := r.db.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return exists, nil
}

// Update applies a partial update and returns the new row
func (r *ProfileRepository) Update(ctx context.Context, id string, upd ProfileUpdate) (*models.Profile, error) {
	query := `
		UPDATE profiles SET
			username   = COALESCE($2, username),
			first_name = COALESCE($3, first_name),
			last_name  = COALESCE($4, last_name),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + profileColumns
	p, err := scanProfile(r.db.QueryRow(ctx, query, id, upd.Username, upd.FirstName, upd.LastName))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to update profile: %w (%w)", ErrAlreadyExists, err)
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

// UpdateLocation stores the latest position of a profile
func (r *ProfileRepository) UpdateLocation(ctx context.Context, id string, loc models.Location) error {
	query := `
		UPDATE profiles
		SET latitude = $2, longitude = $3, location_updated_at = $4
		WHERE id = $1
	`
	return r.execOne(ctx, "location", query, id, loc.Latitude, loc.Longitude, loc.UpdatedAt)
}

// UpdatePushToken sets or clears the push token of a profile
func (r *ProfileRepository) UpdatePushToken(ctx context.Context, id string, pushToken *string) error {
	query := `UPDATE profiles SET push_token = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, "push token", query, id, pushToken)
}

// UpdateAvatarURL sets the avatar URL of a profile
func (r *ProfileRepository) UpdateAvatarURL(ctx context.Context, id, avatarURL string) error {
	query := `UPDATE profiles SET avatar_url = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, "avatar", query, id, avatarURL)
}

// UpdateStatus sets the presence status of a profile
func (r *ProfileRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE profiles SET status = $2 WHERE id = $1`
	return r.execOne(ctx, "status", query, id, status)
}

// UpdatePasswordHash replaces the password hash of the profile with this email
func (r *ProfileRepository) UpdatePasswordHash(ctx context.Context, email, hash string) error {
	query := `UPDATE profiles SET password_hash = $2, updated_at = now() WHERE lower(email) = lower($1)`
	return r.execOne(ctx, "password", query, email, hash)
}

// ListExcept returns profiles other than excludeID, optionally filtered by a
// username/name prefix, ordered by username
func (r *ProfileRepository) ListExcept(ctx context.Context, excludeID, search string, limit, offset int) ([]*models.Profile, error) {
	query := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE id <> $1
		  AND ($2 = '' OR username ILIKE $2 || '%' OR first_name ILIKE $2 || '%' OR last_name ILIKE $2 || '%')
		ORDER BY lower(username)
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, excludeID, escapeLike(search), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return profiles, nil
}

// PushTokens returns profile id -> push token for the given ids that have one
func (r *ProfileRepository) PushTokens(ctx context.Context, ids []string) (map[string]string, error) {
	tokens := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return tokens, nil
	}

	query := `SELECT id, push_token FROM profiles WHERE id = ANY($1::uuid[]) AND push_token IS NOT NULL AND push_token <> ''`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get push tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, token string
		if err := rows.Scan(&id, &token); err != nil {
			return nil, fmt.Errorf("failed to scan push token: %w", err)
		}
		tokens[id] = token
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating push tokens: %w", err)
	}
	return tokens, nil
}

func (r *ProfileRepository) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile %s: %w", what, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("profile: %w", ErrNotFound)
	}
	return nil
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var (
		p                 models.Profile
		lat, lon          *float64
		locationUpdatedAt *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Email, &p.Username, &p.FirstName, &p.LastName, &p.PasswordHash, &p.AvatarURL,
		&lat, &lon, &locationUpdatedAt, &p.PushToken, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile: %w", ErrNotFound)
		}
		return nil, err
	}
	p.Location = toLocation(lat, lon, locationUpdatedAt)
	return &p, nil
}

func toLocation(lat, lon *float64, at *time.Time) *models.Location {
	if lat == nil || lon == nil {
		return nil
	}
	loc := &models.Location{Latitude: *lat, Longitude: *lon}
	if at != nil {
		loc.UpdatedAt = *at
	}
	return loc
}

// escapeLike neutralizes LIKE wildcards in user input
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
