package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"circles-backend/internal/models"
	"circles-backend/internal/repository"
	"circles-backend/internal/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// avatarTypes maps accepted avatar content types to file extensions
var avatarTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/heic": "heic",
}

// AvatarConfig holds avatar upload limits
type AvatarConfig struct {
	PresignTTL time.Duration
	MaxBytes   int64
}

// ProfileService handles profile-related business logic
type ProfileService struct {
	profiles ProfileStore
	circles  CircleStore
	cache    ProfileCache
	storage  ObjectStorage
	hub      Broadcaster
	recorder Recorder
	validate *validation.Validator
	avatar   AvatarConfig
	now      func() time.Time
}

// NewProfileService creates a new profile service
func NewProfileService(
	profiles ProfileStore,
	circles CircleStore,
	cache ProfileCache,
	storage ObjectStorage,
	hub Broadcaster,
	recorder Recorder,
	validate *validation.Validator,
	avatar AvatarConfig,
) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		circles:  circles,
		cache:    cache,
		storage:  storage,
		hub:      hub,
		recorder: recorderOrNop(recorder),
		validate: validate,
		avatar:   avatar,
		now:      time.Now,
	}
}

// UpdateProfileRequest is a partial profile update
type UpdateProfileRequest struct {
	Username  *string `json:"username" validate:"omitempty,username"`
	FirstName *string `json:"first_name" validate:"omitempty,personname"`
	LastName  *string `json:"last_name" validate:"omitempty,personname"`
}

// LocationRequest reports the caller's current position
type LocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

// PushTokenRequest registers or clears the device push token
type PushTokenRequest struct {
	Token *string `json:"token" validate:"omitempty,max=255"`
}

// AvatarUploadRequest asks for a pre-signed avatar upload
type AvatarUploadRequest struct {
	ContentType string `json:"content_type" validate:"required"`
	Size        int64  `json:"size" validate:"gte=0"`
}

// AvatarUploadResponse carries the pre-signed URL
type AvatarUploadResponse struct {
	UploadURL string `json:"upload_url"`
	Key       string `json:"key"`
	ExpiresIn int    `json:"expires_in"`
}

// ConfirmAvatarRequest points the profile at an uploaded avatar
type ConfirmAvatarRequest struct {
	Key string `json:"key" validate:"required"`
}

// Get returns a profile, reading through the cache
func (s *ProfileService) Get(ctx context.Context, id string) (*models.Profile, error) {
	if p, ok, err := s.cache.Get(ctx, id); err != nil {
		log.Warn().Err(err).Str("profile_id", id).Msg("Profile cache read failed")
	} else if ok {
		return p, nil
	}

	p, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	if err := s.cache.Set(ctx, p); err != nil {
		log.Warn().Err(err).Str("profile_id", id).Msg("Profile cache write failed")
	}
	return p, nil
}

// Update applies a partial update to the caller's profile
func (s *ProfileService) Update(ctx context.Context, id string, req UpdateProfileRequest) (*models.Profile, error) {
	if req.Username != nil {
		u := strings.TrimSpace(*req.Username)
		req.Username = &u
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	upd := repository.ProfileUpdate{Username: req.Username}
	if req.FirstName != nil {
		name := validation.TitleName(*req.FirstName)
		upd.FirstName = &name
	}
	if req.LastName != nil {
		name := validation.TitleName(*req.LastName)
		upd.LastName = &name
	}

	p, err := s.profiles.Update(ctx, id, upd)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyExists):
			return nil, ErrUsernameTaken
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	s.invalidate(ctx, id)
	return p, nil
}

// List returns other profiles, optionally filtered by a name prefix
func (s *ProfileService) List(ctx context.Context, id, search string, limit, offset int) ([]models.PublicProfile, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	profiles, err := s.profiles.ListExcept(ctx, id, strings.TrimSpace(search), limit, offset)
	if err != nil {
		return nil, err
	}

	out := make([]models.PublicProfile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p.Public())
	}
	return out, nil
}

// SetPushToken stores the device push token, or clears it when empty
func (s *ProfileService) SetPushToken(ctx context.Context, id string, req PushTokenRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}

	token := req.Token
	if token != nil {
		t := strings.TrimSpace(*token)
		if t == "" {
			token = nil
		} else {
			token = &t
		}
	}

	if err := s.profiles.UpdatePushToken(ctx, id, token); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrProfileNotFound
		}
		return err
	}

	s.invalidate(ctx, id)
	return nil
}

// UpdateLocation stores the caller's position and forwards it to every
// connected member of the circles the caller shares its location with
func (s *ProfileService) UpdateLocation(ctx context.Context, id string, req LocationRequest) (*models.Location, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	loc := models.Location{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.profiles.UpdateLocation(ctx, id, loc); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	s.invalidate(ctx, id)
	s.recorder.RecordLocationUpdate()

	audience, err := s.circles.LocationAudience(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("profile_id", id).Msg("Failed to load location audience")
		return &loc, nil
	}

	delivered := s.hub.Broadcast(audience, WSMessage{Type: MsgLocationUpdate, ProfileID: id, Location: &loc})
	log.Debug().
		Str("profile_id", id).
		Int("audience", len(audience)).
		Int("delivered", delivered).
		Msg("Location updated")

	return &loc, nil
}

// AvatarUploadURL returns a pre-signed PUT URL for a new avatar
func (s *ProfileService) AvatarUploadURL(ctx context.Context, id string, req AvatarUploadRequest) (*AvatarUploadResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	ext, ok := avatarTypes[strings.ToLower(req.ContentType)]
	if !ok {
		return nil, ErrUnsupportedContentType
	}
	if s.avatar.MaxBytes > 0 && req.Size > s.avatar.MaxBytes {
		return nil, ErrAvatarTooLarge
	}

	key := fmt.Sprintf("%s%s.%s", avatarPrefix(id), uuid.New().String(), ext)
	url, err := s.storage.PresignPut(ctx, key, strings.ToLower(req.ContentType), req.Size, s.avatar.PresignTTL)
	if err != nil {
		return nil, err
	}

	return &AvatarUploadResponse{
		UploadURL: url,
		Key:       key,
		ExpiresIn: int(s.avatar.PresignTTL.Seconds()),
	}, nil
}

// ConfirmAvatar checks the uploaded object and makes it the profile avatar
func (s *ProfileService) ConfirmAvatar(ctx context.Context, id string, req ConfirmAvatarRequest) (*models.Profile, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(req.Key, avatarPrefix(id)) {
		return nil, ErrAvatarNotUploaded
	}

	info, err := s.storage.Head(ctx, req.Key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, ErrAvatarNotUploaded
		}
		return nil, err
	}
	if s.avatar.MaxBytes > 0 && info.Size > s.avatar.MaxBytes {
		return nil, ErrAvatarTooLarge
	}
	if _, ok := avatarTypes[strings.ToLower(info.ContentType)]; !ok {
		return nil, ErrUnsupportedContentType
	}

	if err := s.profiles.UpdateAvatarURL(ctx, id, s.storage.PublicURL(req.Key)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	s.invalidate(ctx, id)
	return s.Get(ctx, id)
}

// SetStatus persists presence and tells related profiles about it
func (s *ProfileService) SetStatus(ctx context.Context, id string, online bool) error {
	status := models.StatusOffline
	if online {
		status = models.StatusOnline
	}

	if err := s.profiles.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrProfileNotFound
		}
		return err
	}
	s.invalidate(ctx, id)

	related, err := s.circles.RelatedIDs(ctx, id)
	if err != nil {
		return err
	}
	s.hub.Broadcast(related, WSMessage{Type: MsgPresence, ProfileID: id, Online: &online})
	return nil
}

// HandlePresence is the hub callback for connects and disconnects
func (s *ProfileService) HandlePresence(id string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.SetStatus(ctx, id, online); err != nil {
		log.Error().Err(err).Str("profile_id", id).Bool("online", online).Msg("Failed to update presence")
	}
}

func (s *ProfileService) invalidate(ctx context.Context, id string) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		log.Warn().Err(err).Str("profile_id", id).Msg("Profile cache invalidation failed")
	}
}

func avatarPrefix(profileID string) string {
	return "avatars/" + profileID + "/"
}
