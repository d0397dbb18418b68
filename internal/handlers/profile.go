package handlers

import (
	"context"
	"net/http"

	"circles-backend/internal/middleware"
	"circles-backend/internal/models"
	"circles-backend/internal/services"
)

// ProfileAPI is the profile surface used by ProfileHandler
type ProfileAPI interface {
	Get(ctx context.Context, id string) (*models.Profile, error)
	Update(ctx context.Context, id string, req services.UpdateProfileRequest) (*models.Profile, error)
	List(ctx context.Context, id, search string, limit, offset int) ([]models.PublicProfile, error)
	SetPushToken(ctx context.Context, id string, req services.PushTokenRequest) error
	UpdateLocation(ctx context.Context, id string, req services.LocationRequest) (*models.Location, error)
	AvatarUploadURL(ctx context.Context, id string, req services.AvatarUploadRequest) (*services.AvatarUploadResponse, error)
	ConfirmAvatar(ctx context.Context, id string, req services.ConfirmAvatarRequest) (*models.Profile, error)
}

// ProfileHandler handles profile-related HTTP requests
type ProfileHandler struct {
	profiles ProfileAPI
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(profiles ProfileAPI) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// GetMe handles GET /api/v1/profiles/me
func (h *ProfileHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), middleware.GetProfileID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// UpdateMe handles PATCH /api/v1/profiles/me
func (h *ProfileHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req services.UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.profiles.Update(r.Context(), middleware.GetProfileID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// List handles GET /api/v1/profiles?search=&limit=&offset=
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	list, err := h.profiles.List(r.Context(), middleware.GetProfileID(r.Context()), r.URL.Query().Get("search"), limit, offset)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, emptyIfNil(list))
}

// SetPushToken handles PUT /api/v1/profiles/me/push-token
func (h *ProfileHandler) SetPushToken(w http.ResponseWriter, r *http.Request) {
	var req services.PushTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.profiles.SetPushToken(r.Context(), middleware.GetProfileID(r.Context()), req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateLocation handles PUT /api/v1/profiles/me/location
func (h *ProfileHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req services.LocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	loc, err := h.profiles.UpdateLocation(r.Context(), middleware.GetProfileID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, loc)
}

// AvatarUploadURL handles POST /api/v1/profiles/me/avatar/upload-url
func (h *ProfileHandler) AvatarUploadURL(w http.ResponseWriter, r *http.Request) {
	var req services.AvatarUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.profiles.AvatarUploadURL(r.Context(), middleware.GetProfileID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ConfirmAvatar handles PUT /api/v1/profiles/me/avatar
func (h *ProfileHandler) ConfirmAvatar(w http.ResponseWriter, r *http.Request) {
	var req services.ConfirmAvatarRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.profiles.ConfirmAvatar(r.Context(), middleware.GetProfileID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
