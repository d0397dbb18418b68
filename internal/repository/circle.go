package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"circles-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// LeaveResult describes what happened to a circle when a member left it
type LeaveResult struct {
	CircleDeleted bool
	PromotedID    string
}

// CircleRepository handles database operations for circles and memberships
type CircleRepository struct {
	db *pgxpool.Pool
}

// NewCircleRepository creates a new circle repository
func NewCircleRepository(db *pgxpool.Pool) *CircleRepository {
	return &CircleRepository{db: db}
}

// CreateWithAdmin creates a circle, its admin membership and its first
// invitation in one transaction
func (r *CircleRepository) CreateWithAdmin(ctx context.Context, circle *models.Circle, admin *models.Membership, inv *models.Invitation) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO circles (id, name, created_at) VALUES ($1, $2, $3)`,
			circle.ID, circle.Name, circle.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create circle: %w", err)
		}

		if err := insertMembership(ctx, tx, admin); err != nil {
			return err
		}

		return insertInvitation(ctx, tx, inv)
	})
}

// GetByID retrieves a circle by ID
func (r *CircleRepository) GetByID(ctx context.Context, id string) (*models.Circle, error) {
	query := `SELECT id, name, created_at FROM circles WHERE id = $1`
	var c models.Circle
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("circle: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get circle: %w", err)
	}
	return &c, nil
}

// ListForProfile returns the circles a profile belongs to
func (r *CircleRepository) ListForProfile(ctx context.Context, profileID string) ([]*models.CircleSummary, error) {
	query := `
		SELECT c.id, c.name, c.created_at, cp.is_user_an_admin, cp.share_location,
			(SELECT count(*) FROM circles_profiles m WHERE m.circle_id = c.id)
		FROM circles c
		JOIN circles_profiles cp ON cp.circle_id = c.id
		WHERE cp.profile_id = $1
		ORDER BY c.created_at, c.id
	`
	rows, err := r.db.Query(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get circles: %w", err)
	}
	defer rows.Close()

	circles := []*models.CircleSummary{}
	for rows.Next() {
		var s models.CircleSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt, &s.IsAdmin, &s.ShareLocation, &s.MemberCount); err != nil {
			return nil, fmt.Errorf("failed to scan circle: %w", err)
		}
		circles = append(circles, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating circles: %w", err)
	}
	return circles, nil
}

// GetMembership retrieves the membership of a profile in a circle
func (r *CircleRepository) GetMembership(ctx context.Context, circleID, profileID string) (*models.Membership, error) {
	query := `
		SELECT id, circle_id, profile_id, is_user_an_admin, share_location, joined_at
		FROM circles_profiles
		WHERE circle_id = $1 AND profile_id = $2
	`
	var m models.Membership
	err := r.db.QueryRow(ctx, query, circleID, profileID).Scan(
		&m.ID, &m.CircleID, &m.ProfileID, &m.IsAdmin, &m.ShareLocation, &m.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("membership: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

// AddMember inserts a membership row
func (r *CircleRepository) AddMember(ctx context.Context, m *models.Membership) error {
	return insertMembership(ctx, r.db, m)
}

// MemberIDs returns the profile ids of all members of a circle
func (r *CircleRepository) MemberIDs(ctx context.Context, circleID string) ([]string, error) {
	query := `SELECT profile_id::text FROM circles_profiles WHERE circle_id = $1 ORDER BY joined_at`
	return r.queryIDs(ctx, query, circleID)
}

// RemoveMember deletes a membership. If the last admin leaves, the oldest
// remaining member is promoted; if nobody is left, the circle is deleted.
func (r *CircleRepository) RemoveMember(ctx context.Context, circleID, profileID string) (*LeaveResult, error) {
	result := &LeaveResult{}
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		// Serialize membership changes of this circle.
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM circles WHERE id = $1 FOR UPDATE`, circleID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("circle: %w", ErrNotFound)
			}
			return fmt.Errorf("failed to lock circle: %w", err)
		}

		var wasAdmin bool
		err = tx.QueryRow(ctx,
			`DELETE FROM circles_profiles WHERE circle_id = $1 AND profile_id = $2 RETURNING is_user_an_admin`,
			circleID, profileID,
		).Scan(&wasAdmin)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("membership: %w", ErrNotFound)
			}
			return fmt.Errorf("failed to remove member: %w", err)
		}

		var members, admins int
		err = tx.QueryRow(ctx,
			`SELECT count(*), count(*) FILTER (WHERE is_user_an_admin) FROM circles_profiles WHERE circle_id = $1`,
			circleID,
		).Scan(&members, &admins)
		if err != nil {
			return fmt.Errorf("failed to count members: %w", err)
		}

		if members == 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM circles WHERE id = $1`, circleID); err != nil {
				return fmt.Errorf("failed to delete empty circle: %w", err)
			}
			result.CircleDeleted = true
			return nil
		}

		if wasAdmin && admins == 0 {
			err = tx.QueryRow(ctx, `
				UPDATE circles_profiles SET is_user_an_admin = TRUE
				WHERE id = (
					SELECT id FROM circles_profiles
					WHERE circle_id = $1
					ORDER BY joined_at, id
					LIMIT 1
				)
				RETURNING profile_id::text
			`, circleID).Scan(&result.PromotedID)
			if err != nil {
				return fmt.Errorf("failed to promote member: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetShareLocation toggles location sharing of a profile within a circle
func (r *CircleRepository) SetShareLocation(ctx context.Context, circleID, profileID string, share bool) error {
	result, err := r.db.Exec(ctx,
		`UPDATE circles_profiles SET share_location = $3 WHERE circle_id = $1 AND profile_id = $2`,
		circleID, profileID, share,
	)
	if err != nil {
		return fmt.Errorf("failed to update share_location: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("membership: %w", ErrNotFound)
	}
	return nil
}

// RelatedProfiles returns every profile sharing at least one circle with
// profileID. Location is included only if the other profile shares it in
// one of those common circles.
func (r *CircleRepository) RelatedProfiles(ctx context.Context, profileID string) ([]*models.RelatedProfile, error) {
	query := `
		SELECT p.id, p.username, p.first_name, p.last_name, p.avatar_url, p.status,
			CASE WHEN bool_or(other.share_location) THEN p.latitude END,
			CASE WHEN bool_or(other.share_location) THEN p.longitude END,
			CASE WHEN bool_or(other.share_location) THEN p.location_updated_at END
		FROM circles_profiles mine
		JOIN circles_profiles other
			ON other.circle_id = mine.circle_id AND other.profile_id <> mine.profile_id
		JOIN profiles p ON p.id = other.profile_id
		WHERE mine.profile_id = $1
		GROUP BY p.id
		ORDER BY lower(p.username)
	`
	rows, err := r.db.Query(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get related profiles: %w", err)
	}
	defer rows.Close()

	profiles := []*models.RelatedProfile{}
	for rows.Next() {
		var (
			p        models.RelatedProfile
			lat, lon *float64
			at       *time.Time
		)
		err := rows.Scan(&p.ID, &p.Username, &p.FirstName, &p.LastName, &p.AvatarURL, &p.Status, &lat, &lon, &at)
		if err != nil {
			return nil, fmt.Errorf("failed to scan related profile: %w", err)
		}
		p.Location = toLocation(lat, lon, at)
		profiles = append(profiles, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating related profiles: %w", err)
	}
	return profiles, nil
}

// RelatedCircleMappings returns, for each circle of profileID, its member ids
func (r *CircleRepository) RelatedCircleMappings(ctx context.Context, profileID string) ([]*models.CircleMapping, error) {
	query := `
		SELECT c.id, c.name, array_agg(m.profile_id::text ORDER BY m.joined_at, m.id)
		FROM circles_profiles mine
		JOIN circles c ON c.id = mine.circle_id
		JOIN circles_profiles m ON m.circle_id = c.id
		WHERE mine.profile_id = $1
		GROUP BY c.id, c.name
		ORDER BY c.name, c.id
	`
	rows, err := r.db.Query(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get circle mappings: %w", err)
	}
	defer rows.Close()

	mappings := []*models.CircleMapping{}
	for rows.Next() {
		var m models.CircleMapping
		if err := rows.Scan(&m.CircleID, &m.CircleName, &m.ProfileIDs); err != nil {
			return nil, fmt.Errorf("failed to scan circle mapping: %w", err)
		}
		mappings = append(mappings, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating circle mappings: %w", err)
	}
	return mappings, nil
}

// RelatedProfileMappings returns, for each profile related to profileID, the
// circles they have in common
func (r *CircleRepository) RelatedProfileMappings(ctx context.Context, profileID string) ([]*models.ProfileMapping, error) {
	query := `
		SELECT other.profile_id::text, array_agg(other.circle_id::text ORDER BY other.circle_id)
		FROM circles_profiles mine
		JOIN circles_profiles other
			ON other.circle_id = mine.circle_id AND other.profile_id <> mine.profile_id
		WHERE mine.profile_id = $1
		GROUP BY other.profile_id
		ORDER BY other.profile_id
	`
	rows, err := r.db.Query(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile mappings: %w", err)
	}
	defer rows.Close()

	mappings := []*models.ProfileMapping{}
	for rows.Next() {
		var m models.ProfileMapping
		if err := rows.Scan(&m.ProfileID, &m.CircleIDs); err != nil {
			return nil, fmt.Errorf("failed to scan profile mapping: %w", err)
		}
		mappings = append(mappings, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profile mappings: %w", err)
	}
	return mappings, nil
}

// LocationAudience returns the profiles allowed to see profileID's location:
// members of circles where profileID has sharing enabled
func (r *CircleRepository) LocationAudience(ctx context.Context, profileID string) ([]string, error) {
	query := `
		SELECT DISTINCT other.profile_id::text
		FROM circles_profiles mine
		JOIN circles_profiles other
			ON other.circle_id = mine.circle_id AND other.profile_id <> mine.profile_id
		WHERE mine.profile_id = $1 AND mine.share_location
	`
	return r.queryIDs(ctx, query, profileID)
}

// RelatedIDs returns every profile sharing a circle with profileID
func (r *CircleRepository) RelatedIDs(ctx context.Context, profileID string) ([]string, error) {
	query := `
		SELECT DISTINCT other.profile_id::text
		FROM circles_profiles mine
		JOIN circles_profiles other
			ON other.circle_id = mine.circle_id AND other.profile_id <> mine.profile_id
		WHERE mine.profile_id = $1
	`
	return r.queryIDs(ctx, query, profileID)
}

func (r *CircleRepository) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan profile id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profile ids: %w", err)
	}
	return ids, nil
}

func insertMembership(ctx context.Context, db execer, m *models.Membership) error {
	query := `
		INSERT INTO circles_profiles (id, circle_id, profile_id, is_user_an_admin, share_location, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.Exec(ctx, query, m.ID, m.CircleID, m.ProfileID, m.IsAdmin, m.ShareLocation, m.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to add member: %w", ErrAlreadyExists)
		}
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}
