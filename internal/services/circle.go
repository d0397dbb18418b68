package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"circles-backend/internal/models"
	"circles-backend/internal/repository"
	"circles-backend/internal/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxCodeAttempts = 10

// InvitationConfig controls invitation codes
type InvitationConfig struct {
	TTL        time.Duration
	CodeLength int
}

// CircleService handles circles, memberships and invitations
type CircleService struct {
	circles     CircleStore
	invitations InvitationStore
	profiles    ProfileStore
	notifier    Notifier
	hub         Broadcaster
	recorder    Recorder
	validate    *validation.Validator
	cfg         InvitationConfig
	now         func() time.Time
	pushes      sync.WaitGroup
}

// invitationPushTimeout bounds a background invitation push
const invitationPushTimeout = 30 * time.Second

// NewCircleService creates a new circle service
func NewCircleService(
	circles CircleStore,
	invitations InvitationStore,
	profiles ProfileStore,
	notifier Notifier,
	hub Broadcaster,
	recorder Recorder,
	validate *validation.Validator,
	cfg InvitationConfig,
) *CircleService {
	return &CircleService{
		circles:     circles,
		invitations: invitations,
		profiles:    profiles,
		notifier:    notifier,
		hub:         hub,
		recorder:    recorderOrNop(recorder),
		validate:    validate,
		cfg:         cfg,
		now:         time.Now,
	}
}

// CreateCircleRequest represents a request to create a circle
type CreateCircleRequest struct {
	Name       string   `json:"name" validate:"required,max=100"`
	InviteeIDs []string `json:"invitee_ids" validate:"omitempty,max=50,dive,uuid"`
}

// CreateCircleResponse is the new circle and its first invitation code
type CreateCircleResponse struct {
	Circle     *models.Circle     `json:"circle"`
	Invitation *models.Invitation `json:"invitation"`
	Notified   int                `json:"notified"`
}

// JoinCircleRequest redeems an invitation code
type JoinCircleRequest struct {
	Code string `json:"code" validate:"required,digits"`
}

// InviteRequest mints a code and optionally pushes it to profiles
type InviteRequest struct {
	ProfileIDs []string `json:"profile_ids" validate:"omitempty,max=50,dive,uuid"`
}

// InviteResponse is a freshly minted invitation
type InviteResponse struct {
	Invitation *models.Invitation `json:"invitation"`
	Notified   int                `json:"notified"`
}

// ShareLocationRequest toggles location sharing in a circle
type ShareLocationRequest struct {
	ShareLocation *bool `json:"share_location" validate:"required"`
}

// CreateCircle creates a circle with the caller as admin and mints its
// first invitation code in one transaction. Invitees with a push token are
// sent the code.
func (s *CircleService) CreateCircle(ctx context.Context, profileID string, req CreateCircleRequest) (*CreateCircleResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	var (
		circle *models.Circle
		inv    *models.Invitation
	)
	err := s.withUniqueCode(func(code string) error {
		now := s.now().UTC()
		circle = &models.Circle{ID: uuid.New().String(), Name: req.Name, CreatedAt: now}
		admin := &models.Membership{
			ID:            uuid.New().String(),
			CircleID:      circle.ID,
			ProfileID:     profileID,
			IsAdmin:       true,
			ShareLocation: true,
			JoinedAt:      now,
		}
		inv = s.newInvitation(circle.ID, profileID, code, now)
		return s.circles.CreateWithAdmin(ctx, circle, admin, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create circle: %w", err)
	}
	s.recorder.RecordInvitationCreated()

	log.Info().
		Str("circle_id", circle.ID).
		Str("profile_id", profileID).
		Str("name", circle.Name).
		Msg("Circle created")

	notified := s.SendInvitation(ctx, inv.Code, excluding(req.InviteeIDs, profileID))

	return &CreateCircleResponse{Circle: circle, Invitation: inv, Notified: notified}, nil
}

// JoinCircle adds the caller to the circle an unexpired code belongs to
func (s *CircleService) JoinCircle(ctx context.Context, profileID string, req JoinCircleRequest) (*models.Circle, error) {
	req.Code = strings.TrimSpace(req.Code)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if len(req.Code) != s.cfg.CodeLength {
		return nil, ErrInvalidInvitation
	}

	inv, err := s.invitations.GetActiveByCode(ctx, req.Code, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidInvitation
		}
		return nil, err
	}

	err = s.circles.AddMember(ctx, &models.Membership{
		ID:            uuid.New().String(),
		CircleID:      inv.CircleID,
		ProfileID:     profileID,
		IsAdmin:       false,
		ShareLocation: true,
		JoinedAt:      s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrAlreadyMember
		}
		return nil, err
	}
	s.recorder.RecordInvitationRedeemed()

	circle, err := s.circles.GetByID(ctx, inv.CircleID)
	if err != nil {
		return nil, err
	}

	log.Info().Str("circle_id", circle.ID).Str("profile_id", profileID).Msg("Joined circle")

	s.notifyMembers(ctx, circle.ID, profileID, WSMessage{Type: MsgMemberJoined, CircleID: circle.ID, ProfileID: profileID})
	return circle, nil
}

// GetCircles lists the caller's circles
func (s *CircleService) GetCircles(ctx context.Context, profileID string) ([]*models.CircleSummary, error) {
	return s.circles.ListForProfile(ctx, profileID)
}

// RelatedProfiles lists everyone sharing a circle with the caller
func (s *CircleService) RelatedProfiles(ctx context.Context, profileID string) ([]*models.RelatedProfile, error) {
	return s.circles.RelatedProfiles(ctx, profileID)
}

// RelatedCircleMappings lists the members of each of the caller's circles
func (s *CircleService) RelatedCircleMappings(ctx context.Context, profileID string) ([]*models.CircleMapping, error) {
	return s.circles.RelatedCircleMappings(ctx, profileID)
}

// RelatedProfileMappings lists the circles shared with each related profile
func (s *CircleService) RelatedProfileMappings(ctx context.Context, profileID string) ([]*models.ProfileMapping, error) {
	return s.circles.RelatedProfileMappings(ctx, profileID)
}

// CreateInvitation mints a new code for a circle the caller administers and
// pushes it to the requested profiles
func (s *CircleService) CreateInvitation(ctx context.Context, profileID, circleID string, req InviteRequest) (*InviteResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	m, err := s.membership(ctx, circleID, profileID)
	if err != nil {
		return nil, err
	}
	if !m.IsAdmin {
		return nil, ErrNotAdmin
	}

	var inv *models.Invitation
	err = s.withUniqueCode(func(code string) error {
		inv = s.newInvitation(circleID, profileID, code, s.now().UTC())
		return s.invitations.Create(ctx, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	s.recorder.RecordInvitationCreated()

	log.Info().Str("circle_id", circleID).Str("profile_id", profileID).Msg("Invitation created")

	notified := s.SendInvitation(ctx, inv.Code, excluding(req.ProfileIDs, profileID))
	return &InviteResponse{Invitation: inv, Notified: notified}, nil
}

// SendInvitation pushes a join code to the profiles that registered a push
// token and returns how many were targeted. The push itself runs in the
// background with its own timeout so a slow provider never holds the request;
// delivery failures are logged.
func (s *CircleService) SendInvitation(ctx context.Context, code string, profileIDs []string) int {
	if len(profileIDs) == 0 {
		return 0
	}

	tokens, err := s.profiles.PushTokens(ctx, profileIDs)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load push tokens")
		return 0
	}
	if len(tokens) == 0 {
		return 0
	}

	list := make([]string, 0, len(tokens))
	for _, t := range tokens {
		list = append(list, t)
	}

	s.pushes.Add(1)
	go func() {
		defer s.pushes.Done()

		pushCtx, cancel := context.WithTimeout(context.Background(), invitationPushTimeout)
		defer cancel()

		if err := s.notifier.Send(pushCtx, list, InvitationMessage(code)); err != nil {
			log.Error().Err(err).Int("tokens", len(list)).Msg("Failed to push invitation")
		}
	}()
	return len(list)
}

// WaitForPushes blocks until background invitation pushes have finished
func (s *CircleService) WaitForPushes() {
	s.pushes.Wait()
}

// InvitationMessage is the push notification carrying a join code
func InvitationMessage(code string) PushMessage {
	return PushMessage{
		Title: "Circles",
		Body:  "You've been invited to a circle, tap to join with code: " + code,
		Data: map[string]any{
			"screen":         "Join",
			"invitationCode": code,
		},
	}
}

// LeaveCircle removes the caller from a circle. When the last admin leaves
// the longest standing member is promoted, and an empty circle is deleted.
func (s *CircleService) LeaveCircle(ctx context.Context, profileID, circleID string) error {
	res, err := s.circles.RemoveMember(ctx, circleID, profileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotMember
		}
		return err
	}

	logger := log.Info().Str("circle_id", circleID).Str("profile_id", profileID)
	if res.PromotedID != "" {
		logger = logger.Str("promoted_id", res.PromotedID)
	}
	logger.Bool("circle_deleted", res.CircleDeleted).Msg("Left circle")

	if !res.CircleDeleted {
		s.notifyMembers(ctx, circleID, profileID, WSMessage{Type: MsgMemberLeft, CircleID: circleID, ProfileID: profileID})
	}
	return nil
}

// SetShareLocation toggles whether the caller's location is visible in a circle
func (s *CircleService) SetShareLocation(ctx context.Context, profileID, circleID string, req ShareLocationRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}

	if err := s.circles.SetShareLocation(ctx, circleID, profileID, *req.ShareLocation); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotMember
		}
		return err
	}
	return nil
}

func (s *CircleService) membership(ctx context.Context, circleID, profileID string) (*models.Membership, error) {
	m, err := s.circles.GetMembership(ctx, circleID, profileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	return m, nil
}

func (s *CircleService) newInvitation(circleID, createdBy, code string, now time.Time) *models.Invitation {
	return &models.Invitation{
		ID:        uuid.New().String(),
		CircleID:  circleID,
		Code:      code,
		CreatedBy: createdBy,
		ExpiresAt: now.Add(s.cfg.TTL),
		CreatedAt: now,
	}
}

// withUniqueCode calls create with fresh codes until one does not collide
// with an existing invitation
func (s *CircleService) withUniqueCode(create func(code string) error) error {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := generateCode(s.cfg.CodeLength)
		if err != nil {
			return err
		}

		err = create(code)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrAlreadyExists) || repository.ConstraintName(err) != repository.InvitationsCodeKey {
			return err
		}
		log.Debug().Msg("Invitation code collision, retrying")
	}
	return fmt.Errorf("failed to generate unique code after %d attempts", maxCodeAttempts)
}

func (s *CircleService) notifyMembers(ctx context.Context, circleID, exceptID string, msg WSMessage) {
	members, err := s.circles.MemberIDs(ctx, circleID)
	if err != nil {
		log.Error().Err(err).Str("circle_id", circleID).Msg("Failed to load circle members")
		return
	}
	s.hub.Broadcast(excluding(members, exceptID), msg)
}

// excluding returns ids without id, deduplicated
func excluding(ids []string, id string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v == id || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
