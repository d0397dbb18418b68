package handlers

import (
	"context"
	"errors"

	"circles-backend/internal/models"
	"circles-backend/internal/services"
)

var errNotStubbed = errors.New("not stubbed")

type fakeAuth struct {
	SignUpFn            func(context.Context, services.SignUpRequest) (*services.AuthResponse, error)
	LoginFn             func(context.Context, services.LoginRequest) (*services.AuthResponse, error)
	LogoutFn            func(context.Context, *services.TokenClaims) error
	UsernameAvailableFn func(context.Context, string) (bool, error)
	EmailAvailableFn    func(context.Context, string) (bool, error)
	RequestResetFn      func(context.Context, string) error
	ResetPasswordFn     func(context.Context, services.ResetPasswordRequest) error
}

func (f *fakeAuth) SignUp(ctx context.Context, req services.SignUpRequest) (*services.AuthResponse, error) {
	if f.SignUpFn == nil {
		return nil, errNotStubbed
	}
	return f.SignUpFn(ctx, req)
}

func (f *fakeAuth) Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
	if f.LoginFn == nil {
		return nil, errNotStubbed
	}
	return f.LoginFn(ctx, req)
}

func (f *fakeAuth) Logout(ctx context.Context, claims *services.TokenClaims) error {
	if f.LogoutFn == nil {
		return errNotStubbed
	}
	return f.LogoutFn(ctx, claims)
}

func (f *fakeAuth) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	if f.UsernameAvailableFn == nil {
		return false, errNotStubbed
	}
	return f.UsernameAvailableFn(ctx, username)
}

func (f *fakeAuth) EmailAvailable(ctx context.Context, email string) (bool, error) {
	if f.EmailAvailableFn == nil {
		return false, errNotStubbed
	}
	return f.EmailAvailableFn(ctx, email)
}

func (f *fakeAuth) RequestPasswordReset(ctx context.Context, email string) error {
	if f.RequestResetFn == nil {
		return errNotStubbed
	}
	return f.RequestResetFn(ctx, email)
}

func (f *fakeAuth) ResetPassword(ctx context.Context, req services.ResetPasswordRequest) error {
	if f.ResetPasswordFn == nil {
		return errNotStubbed
	}
	return f.ResetPasswordFn(ctx, req)
}

type fakeProfiles struct {
	GetFn            func(context.Context, string) (*models.Profile, error)
	UpdateFn         func(context.Context, string, services.UpdateProfileRequest) (*models.Profile, error)
	ListFn           func(context.Context, string, string, int, int) ([]models.PublicProfile, error)
	SetPushTokenFn   func(context.Context, string, services.PushTokenRequest) error
	UpdateLocationFn func(context.Context, string, services.LocationRequest) (*models.Location, error)
	UploadURLFn      func(context.Context, string, services.AvatarUploadRequest) (*services.AvatarUploadResponse, error)
	ConfirmAvatarFn  func(context.Context, string, services.ConfirmAvatarRequest) (*models.Profile, error)
}

func (f *fakeProfiles) Get(ctx context.Context, id string) (*models.Profile, error) {
	if f.GetFn == nil {
		return nil, errNotStubbed
	}
	return f.GetFn(ctx, id)
}

func (f *fakeProfiles) Update(ctx context.Context, id string, req services.UpdateProfileRequest) (*models.Profile, error) {
	if f.UpdateFn == nil {
		return nil, errNotStubbed
	}
	return f.UpdateFn(ctx, id, req)
}

func (f *fakeProfiles) List(ctx context.Context, id, search string, limit, offset int) ([]models.PublicProfile, error) {
	if f.ListFn == nil {
		return nil, errNotStubbed
	}
	return f.ListFn(ctx, id, search, limit, offset)
}

func (f *fakeProfiles) SetPushToken(ctx context.Context, id string, req services.PushTokenRequest) error {
	if f.SetPushTokenFn == nil {
		return errNotStubbed
	}
	return f.SetPushTokenFn(ctx, id, req)
}

func (f *fakeProfiles) UpdateLocation(ctx context.Context, id string, req services.LocationRequest) (*models.Location, error) {
	if f.UpdateLocationFn == nil {
		return nil, errNotStubbed
	}
	return f.UpdateLocationFn(ctx, id, req)
}

func (f *fakeProfiles) AvatarUploadURL(ctx context.Context, id string, req services.AvatarUploadRequest) (*services.AvatarUploadResponse, error) {
	if f.UploadURLFn == nil {
		return nil, errNotStubbed
	}
	return f.UploadURLFn(ctx, id, req)
}

func (f *fakeProfiles) ConfirmAvatar(ctx context.Context, id string, req services.ConfirmAvatarRequest) (*models.Profile, error) {
	if f.ConfirmAvatarFn == nil {
		return nil, errNotStubbed
	}
	return f.ConfirmAvatarFn(ctx, id, req)
}

type fakeCircles struct {
	CreateCircleFn     func(context.Context, string, services.CreateCircleRequest) (*services.CreateCircleResponse, error)
	JoinCircleFn       func(context.Context, string, services.JoinCircleRequest) (*models.Circle, error)
	GetCirclesFn       func(context.Context, string) ([]*models.CircleSummary, error)
	CreateInvitationFn func(context.Context, string, string, services.InviteRequest) (*services.InviteResponse, error)
	LeaveCircleFn      func(context.Context, string, string) error
	SetShareFn         func(context.Context, string, string, services.ShareLocationRequest) error
	RelatedProfilesFn  func(context.Context, string) ([]*models.RelatedProfile, error)
	CircleMappingsFn   func(context.Context, string) ([]*models.CircleMapping, error)
	ProfileMappingsFn  func(context.Context, string) ([]*models.ProfileMapping, error)
}

func (f *fakeCircles) CreateCircle(ctx context.Context, profileID string, req services.CreateCircleRequest) (*services.CreateCircleResponse, error) {
	if f.CreateCircleFn == nil {
		return nil, errNotStubbed
	}
	return f.CreateCircleFn(ctx, profileID, req)
}

func (f *fakeCircles) JoinCircle(ctx context.Context, profileID string, req services.JoinCircleRequest) (*models.Circle, error) {
	if f.JoinCircleFn == nil {
		return nil, errNotStubbed
	}
	return f.JoinCircleFn(ctx, profileID, req)
}

func (f *fakeCircles) GetCircles(ctx context.Context, profileID string) ([]*models.CircleSummary, error) {
	if f.GetCirclesFn == nil {
		return nil, errNotStubbed
	}
	return f.GetCirclesFn(ctx, profileID)
}

func (f *fakeCircles) CreateInvitation(ctx context.Context, profileID, circleID string, req services.InviteRequest) (*services.InviteResponse, error) {
	if f.CreateInvitationFn == nil {
		return nil, errNotStubbed
	}
	return f.CreateInvitationFn(ctx, profileID, circleID, req)
}

func (f *fakeCircles) LeaveCircle(ctx context.Context, profileID, circleID string) error {
	if f.LeaveCircleFn == nil {
		return errNotStubbed
	}
	return f.LeaveCircleFn(ctx, profileID, circleID)
}

func (f *fakeCircles) SetShareLocation(ctx context.Context, profileID, circleID string, req services.ShareLocationRequest) error {
	if f.SetShareFn == nil {
		return errNotStubbed
	}
	return f.SetShareFn(ctx, profileID, circleID, req)
}

func (f *fakeCircles) RelatedProfiles(ctx context.Context, profileID string) ([]*models.RelatedProfile, error) {
	if f.RelatedProfilesFn == nil {
		return nil, errNotStubbed
	}
	return f.RelatedProfilesFn(ctx, profileID)
}

func (f *fakeCircles) RelatedCircleMappings(ctx context.Context, profileID string) ([]*models.CircleMapping, error) {
	if f.CircleMappingsFn == nil {
		return nil, errNotStubbed
	}
	return f.CircleMappingsFn(ctx, profileID)
}

func (f *fakeCircles) RelatedProfileMappings(ctx context.Context, profileID string) ([]*models.ProfileMapping, error) {
	if f.ProfileMappingsFn == nil {
		return nil, errNotStubbed
	}
	return f.ProfileMappingsFn(ctx, profileID)
}
