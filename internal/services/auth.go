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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const resetCodeLength = 6

// AuthConfig holds the token and reset settings of AuthService
type AuthConfig struct {
	JWTSecret        string
	TokenTTL         time.Duration
	ResetTTL         time.Duration
	ResetMaxAttempts int
}

// AuthService handles accounts, sessions and password resets
type AuthService struct {
	profiles ProfileStore
	resets   PasswordResetStore
	revoker  TokenRevoker
	cache    ProfileCache
	mailer   Mailer
	validate *validation.Validator
	cfg      AuthConfig
	now      func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(
	profiles ProfileStore,
	resets PasswordResetStore,
	revoker TokenRevoker,
	cache ProfileCache,
	mailer Mailer,
	validate *validation.Validator,
	cfg AuthConfig,
) *AuthService {
	return &AuthService{
		profiles: profiles,
		resets:   resets,
		revoker:  revoker,
		cache:    cache,
		mailer:   mailer,
		validate: validate,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SignUpRequest represents a request to create an account
type SignUpRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,password"`
	Username  string `json:"username" validate:"required,username"`
	FirstName string `json:"first_name" validate:"required,personname"`
	LastName  string `json:"last_name" validate:"required,personname"`
}

// LoginRequest represents a login attempt
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ResetPasswordRequest completes a password reset
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,len=6,digits"`
	NewPassword string `json:"new_password" validate:"required,password"`
}

// AuthResponse is returned after signup and login
type AuthResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Profile   *models.Profile `json:"profile"`
}

// TokenClaims are the parsed claims of an access token
type TokenClaims struct {
	ProfileID string
	TokenID   string
	ExpiresAt time.Time
}

// SignUp creates an account and returns a session token
func (s *AuthService) SignUp(ctx context.Context, req SignUpRequest) (*AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	taken, err := s.profiles.UsernameExists(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrUsernameTaken
	}

	registered, err := s.profiles.EmailExists(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if registered {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	profile := &models.Profile{
		ID:           uuid.New().String(),
		Email:        req.Email,
		Username:     req.Username,
		FirstName:    validation.TitleName(req.FirstName),
		LastName:     validation.TitleName(req.LastName),
		PasswordHash: string(hash),
		Status:       models.StatusOffline,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, uniqueProfileError(err)
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	log.Info().Str("profile_id", profile.ID).Str("username", profile.Username).Msg("Profile created")

	return s.newSession(profile)
}

// Login checks credentials and returns a session token
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	profile, err := s.profiles.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.newSession(profile)
}

func (s *AuthService) newSession(profile *models.Profile) (*AuthResponse, error) {
	token, expiresAt, err := s.IssueToken(profile.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, ExpiresAt: expiresAt, Profile: profile}, nil
}

// IssueToken signs an HS256 token for a profile
func (s *AuthService) IssueToken(profileID string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.TokenTTL)

	claims := jwt.RegisteredClaims{
		Subject:   profileID,
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken validates a token signature and expiry and returns its claims
func (s *AuthService) ParseToken(tokenString string) (*TokenClaims, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	return &TokenClaims{
		ProfileID: claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Authenticate parses a token and rejects it if it was revoked
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*TokenClaims, error) {
	claims, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revoker.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Logout revokes the token, clears the push token and marks the profile offline
func (s *AuthService) Logout(ctx context.Context, claims *TokenClaims) error {
	if err := s.revoker.Revoke(ctx, claims.TokenID, claims.ExpiresAt.Sub(s.now())); err != nil {
		return err
	}

	if err := s.profiles.UpdatePushToken(ctx, claims.ProfileID, nil); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if err := s.profiles.UpdateStatus(ctx, claims.ProfileID, models.StatusOffline); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	s.invalidate(ctx, claims.ProfileID)

	log.Info().Str("profile_id", claims.ProfileID).Msg("Logged out")
	return nil
}

// UsernameAvailable reports whether a username is valid and free
func (s *AuthService) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if problem := validation.UsernameProblem(username); problem != "" {
		return false, &validation.Error{Fields: map[string]string{"username": problem}}
	}
	taken, err := s.profiles.UsernameExists(ctx, username)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// EmailAvailable reports whether no account uses the email
func (s *AuthService) EmailAvailable(ctx context.Context, email string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, &validation.Error{Fields: map[string]string{"email": "is required"}}
	}
	registered, err := s.profiles.EmailExists(ctx, email)
	if err != nil {
		return false, err
	}
	return !registered, nil
}

// RequestPasswordReset mails a reset code. Unknown emails succeed silently.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	if _, err := s.profiles.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Info().Str("email", email).Msg("Password reset requested for unknown email")
			return nil
		}
		return err
	}

	code, err := generateCode(resetCodeLength)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash reset code: %w", err)
	}

	now := s.now().UTC()
	err = s.resets.Upsert(ctx, &models.PasswordReset{
		Email:     email,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(s.cfg.ResetTTL),
		CreatedAt: now,
	})
	if err != nil {
		return err
	}

	body := fmt.Sprintf("Your Circles password reset code is %s.\nIt expires in %s.", code, s.cfg.ResetTTL)
	if err := s.mailer.Send(ctx, email, "Reset your Circles password", body); err != nil {
		return err
	}

	log.Info().Str("email", email).Msg("Password reset code sent")
	return nil
}

// ResetPassword checks a reset code and sets the new password
func (s *AuthService) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	req.Email = normalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return err
	}

	// the attempt is spent before the code is compared so concurrent guesses
	// cannot exceed the budget
	codeHash, err := s.resets.ReserveAttempt(ctx, req.Email, s.cfg.ResetMaxAttempts, s.now().UTC())
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err := s.resets.Delete(ctx, req.Email); err != nil {
			log.Error().Err(err).Str("email", req.Email).Msg("Failed to delete spent password reset")
		}
		return ErrInvalidResetCode
	}

	if err := bcrypt.CompareHashAndPassword([]byte(codeHash), []byte(req.Code)); err != nil {
		return ErrInvalidResetCode
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.profiles.UpdatePasswordHash(ctx, req.Email, string(hash)); err != nil {
		return err
	}
	if p, err := s.profiles.GetByEmail(ctx, req.Email); err == nil {
		s.invalidate(ctx, p.ID)
	}
	if err := s.resets.Delete(ctx, req.Email); err != nil {
		return err
	}

	log.Info().Str("email", req.Email).Msg("Password reset")
	return nil
}

func (s *AuthService) invalidate(ctx context.Context, profileID string) {
	if err := s.cache.Invalidate(ctx, profileID); err != nil {
		log.Warn().Err(err).Str("profile_id", profileID).Msg("Failed to invalidate cached profile")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// uniqueProfileError maps a profile unique violation to the field that clashed
func uniqueProfileError(err error) error {
	if repository.ConstraintName(err) == repository.ProfilesUsernameKey {
		return ErrUsernameTaken
	}
	return ErrEmailTaken
}
