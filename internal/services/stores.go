package services

import (
	"context"
	"time"

	"circles-backend/internal/models"
	"circles-backend/internal/repository"
)

// ProfileStore is the persistence the services need for profiles.
// Implemented by *repository.ProfileRepository.
type ProfileStore interface {
	Create(ctx context.Context, p *models.Profile) error
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Update(ctx context.Context, id string, upd repository.ProfileUpdate) (*models.Profile, error)
	UpdateLocation(ctx context.Context, id string, loc models.Location) error
	UpdatePushToken(ctx context.Context, id string, pushToken *string) error
	UpdateAvatarURL(ctx context.Context, id, avatarURL string) error
	UpdateStatus(ctx context.Context, id, status string) error
	UpdatePasswordHash(ctx context.Context, email, hash string) error
	ListExcept(ctx context.Context, excludeID, search string, limit, offset int) ([]*models.Profile, error)
	PushTokens(ctx context.Context, ids []string) (map[string]string, error)
}

// CircleStore is implemented by *repository.CircleRepository
type CircleStore interface {
	CreateWithAdmin(ctx context.Context, circle *models.Circle, admin *models.Membership, inv *models.Invitation) error
	GetByID(ctx context.Context, id string) (*models.Circle, error)
	ListForProfile(ctx context.Context, profileID string) ([]*models.CircleSummary, error)
	GetMembership(ctx context.Context, circleID, profileID string) (*models.Membership, error)
	AddMember(ctx context.Context, m *models.Membership) error
	MemberIDs(ctx context.Context, circleID string) ([]string, error)
	RemoveMember(ctx context.Context, circleID, profileID string) (*repository.LeaveResult, error)
	SetShareLocation(ctx context.Context, circleID, profileID string, share bool) error
	RelatedProfiles(ctx context.Context, profileID string) ([]*models.RelatedProfile, error)
	RelatedCircleMappings(ctx context.Context, profileID string) ([]*models.CircleMapping, error)
	RelatedProfileMappings(ctx context.Context, profileID string) ([]*models.ProfileMapping, error)
	LocationAudience(ctx context.Context, profileID string) ([]string, error)
	RelatedIDs(ctx context.Context, profileID string) ([]string, error)
}

// InvitationStore is implemented by *repository.InvitationRepository
type InvitationStore interface {
	Create(ctx context.Context, inv *models.Invitation) error
	GetActiveByCode(ctx context.Context, code string, now time.Time) (*models.Invitation, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PasswordResetStore is implemented by *repository.PasswordResetRepository
type PasswordResetStore interface {
	Upsert(ctx context.Context, pr *models.PasswordReset) error
	ReserveAttempt(ctx context.Context, email string, maxAttempts int, now time.Time) (string, error)
	Delete(ctx context.Context, email string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Broadcaster delivers realtime messages to connected profiles
type Broadcaster interface {
	SendToProfile(profileID string, msg WSMessage) error
	Broadcast(profileIDs []string, msg WSMessage) int
	IsOnline(profileID string) bool
}

// Recorder receives domain events for metrics. A nil Recorder is allowed.
type Recorder interface {
	RecordLocationUpdate()
	RecordInvitationCreated()
	RecordInvitationRedeemed()
	RecordPushDelivery(provider string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordLocationUpdate() {}
func (nopRecorder) RecordInvitationCreated() {}
func (nopRecorder) RecordInvitationRedeemed() {}
func (nopRecorder) RecordPushDelivery(string, bool) {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
