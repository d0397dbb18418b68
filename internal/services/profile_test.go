package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"circles-backend/internal/models"
	"circles-backend/internal/validation"

	"github.com/stretchr/testify/require"
)

type profileFixture struct {
	svc      *ProfileService
	profiles *fakeProfiles
	circles  *fakeCircles
	cache    *fakeCache
	storage  *fakeStorage
	hub      *fakeHub
	recorder *fakeRecorder
}

func newProfileFixture(ps ...*models.Profile) *profileFixture {
	f := &profileFixture{
		profiles: newFakeProfiles(ps...),
		circles:  &fakeCircles{},
		cache:    newFakeCache(),
		storage:  &fakeStorage{objects: map[string]*ObjectInfo{}},
		hub:      newFakeHub(),
		recorder: &fakeRecorder{},
	}
	f.svc = NewProfileService(f.profiles, f.circles, f.cache, f.storage, f.hub, f.recorder, validation.New(), AvatarConfig{
		PresignTTL: 5 * time.Minute,
		MaxBytes:   1024,
	})
	return f
}

func testProfile(id, username string) *models.Profile {
	return &models.Profile{ID: id, Email: username + "@example.com", Username: username, FirstName: "F", LastName: "L", Status: models.StatusOffline}
}

func ptr[T any](v T) *T { return &v }

func TestProfileService_GetUsesCache(t *testing.T) {
	f := newProfileFixture(testProfile("p1", "alice"))
	ctx := context.Background()

	p, err := f.svc.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "alice", p.Username)
	require.Contains(t, f.cache.items, "p1")

	f.cache.items["p1"] = &models.Profile{ID: "p1", Username: "cached"}
	p, err = f.svc.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "cached", p.Username)

	_, err = f.svc.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrProfileNotFound)
}

func TestProfileService_Update(t *testing.T) {
	f := newProfileFixture(testProfile("p1", "alice"), testProfile("p2", "bob"))
	ctx := context.Background()

	p, err := f.svc.Update(ctx, "p1", UpdateProfileRequest{FirstName: ptr("mary-ann")})
	require.NoError(t, err)
	require.Equal(t, "Mary-Ann", p.FirstName)
	require.Equal(t, "alice", p.Username)
	require.Contains(t, f.cache.invalidated, "p1")

	_, err = f.svc.Update(ctx, "p1", UpdateProfileRequest{Username: ptr("bob")})
	require.ErrorIs(t, err, ErrUsernameTaken)

	_, err = f.svc.Update(ctx, "p1", UpdateProfileRequest{Username: ptr("a b")})
	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "username")
}

func TestProfileService_List(t *testing.T) {
	f := newProfileFixture(testProfile("p1", "alice"), testProfile("p2", "bob"), testProfile("p3", "bobby"))

	list, err := f.svc.List(context.Background(), "p1", "bo", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, p := range list {
		require.NotEqual(t, "p1", p.ID)
	}
}

func TestProfileService_SetPushToken(t *testing.T) {
	f := newProfileFixture(testProfile("p1", "alice"))
	ctx := context.Background()

	require.NoError(t, f.svc.SetPushToken(ctx, "p1", PushTokenRequest{Token: ptr(" ExponentPushToken[x] ")}))
	require.Equal(t, "ExponentPushToken[x]", *f.profiles.get("p1").PushToken)

	require.NoError(t, f.svc.SetPushToken(ctx, "p1", PushTokenRequest{Token: ptr("")}))
	require.Nil(t, f.profiles.get("p1").PushToken)

	require.ErrorIs(t, f.svc.SetPushToken(ctx, "nope", PushTokenRequest{}), ErrProfileNotFound)
}

func TestProfileService_UpdateLocation(t *testing.T) {
	f := newProfileFixture(testProfile("p1", "alice"))
	f.hub = newFakeHub("p2")
	f.svc.hub = f.hub
	f.circles.LocationAudienceFn = func(_ context.Context, id string) ([]string, error) {
		require.Equal(t, "p1", id)
		return []string{"p2", "p3"}, nil
	}

	loc, err := f.svc.UpdateLocation(context.Background(), "p1", LocationRequest{Latitude: ptr(52.37), Longitude: ptr(4.89)})
	require.NoError(t, err)
	require.InDelta(t, 52.37, loc.Latitude, 1e-9)
	require.Equal(t, 1, f.recorder.locations)

	stored := f.profiles.get("p1")
	require.NotNil(t, stored.Location)
	require.InDelta(t, 4.89, stored.Location.Longitude, 1e-9)

	msgs := f.hub.messages("p2")
	require.Len(t, msgs, 1)
	require.Equal(t, MsgLocationUpdate, msgs[0].Type)
	require.Equal(t, "p1", msgs[0].ProfileID)
	require.Empty(t, f.hub.messages("p3"))
}

func TestProfileService_UpdateLocation_Validation(t *testing.T) {
	f := newProfileFixture(testProfile("p1", "alice"))

	_, err := f.svc.UpdateLocation(context.Background(), "p1", LocationRequest{Latitude: ptr(91.0), Longitude: ptr(0.0)})
	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "latitude")

	_, err = f.svc.UpdateLocation(context.Background(), "p1", LocationRequest{Latitude: ptr(0.0)})
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "is required", verr.Fields["longitude"])
}

func TestProfileService_Avatar(t *testing.T) {
	f := newProfileFixture(testProfile("p1", "alice"))
	ctx := context.Background()

	_, err := f.svc.AvatarUploadURL(ctx, "p1", AvatarUploadRequest{ContentType: "image/gif"})
	require.ErrorIs(t, err, ErrUnsupportedContentType)

	_, err = f.svc.AvatarUploadURL(ctx, "p1", AvatarUploadRequest{ContentType: "image/png", Size: 4096})
	require.ErrorIs(t, err, ErrAvatarTooLarge)

	up, err := f.svc.AvatarUploadURL(ctx, "p1", AvatarUploadRequest{ContentType: "image/PNG", Size: 512})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(up.Key, "avatars/p1/"))
	require.True(t, strings.HasSuffix(up.Key, ".png"))
	require.Equal(t, 300, up.ExpiresIn)

	_, err = f.svc.ConfirmAvatar(ctx, "p1", ConfirmAvatarRequest{Key: up.Key})
	require.ErrorIs(t, err, ErrAvatarNotUploaded)

	_, err = f.svc.ConfirmAvatar(ctx, "p1", ConfirmAvatarRequest{Key: "avatars/p2/x.png"})
	require.ErrorIs(t, err, ErrAvatarNotUploaded)

	f.storage.objects[up.Key] = &ObjectInfo{Size: 512, ContentType: "image/png"}
	p, err := f.svc.ConfirmAvatar(ctx, "p1", ConfirmAvatarRequest{Key: up.Key})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/"+up.Key, *p.AvatarURL)
}

func TestProfileService_SetStatus(t *testing.T) {
	f := newProfileFixture(testProfile("p1", "alice"))
	f.hub = newFakeHub("p2")
	f.svc.hub = f.hub
	f.circles.RelatedIDsFn = func(context.Context, string) ([]string, error) {
		return []string{"p2"}, nil
	}

	f.svc.HandlePresence("p1", true)
	require.Equal(t, models.StatusOnline, f.profiles.get("p1").Status)

	msgs := f.hub.messages("p2")
	require.Len(t, msgs, 1)
	require.Equal(t, MsgPresence, msgs[0].Type)
	require.True(t, *msgs[0].Online)
}
