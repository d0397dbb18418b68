package handlers

import (
	"context"
	"net/http"

	"circles-backend/internal/middleware"
	"circles-backend/internal/models"
	"circles-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CircleAPI is the circle surface used by CircleHandler
type CircleAPI interface {
	CreateCircle(ctx context.Context, profileID string, req services.CreateCircleRequest) (*services.CreateCircleResponse, error)
	JoinCircle(ctx context.Context, profileID string, req services.JoinCircleRequest) (*models.Circle, error)
	GetCircles(ctx context.Context, profileID string) ([]*models.CircleSummary, error)
	CreateInvitation(ctx context.Context, profileID, circleID string, req services.InviteRequest) (*services.InviteResponse, error)
	LeaveCircle(ctx context.Context, profileID, circleID string) error
	SetShareLocation(ctx context.Context, profileID, circleID string, req services.ShareLocationRequest) error
	RelatedProfiles(ctx context.Context, profileID string) ([]*models.RelatedProfile, error)
	RelatedCircleMappings(ctx context.Context, profileID string) ([]*models.CircleMapping, error)
	RelatedProfileMappings(ctx context.Context, profileID string) ([]*models.ProfileMapping, error)
}

// CircleHandler handles circle membership and related-data requests
type CircleHandler struct {
	circles CircleAPI
}

// NewCircleHandler creates a new circle handler
func NewCircleHandler(circles CircleAPI) *CircleHandler {
	return &CircleHandler{circles: circles}
}

// CreateCircle handles POST /api/v1/circles
func (h *CircleHandler) CreateCircle(w http.ResponseWriter, r *http.Request) {
	var req services.CreateCircleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	profileID := middleware.GetProfileID(r.Context())
	resp, err := h.circles.CreateCircle(r.Context(), profileID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	log.Info().
		Str("profile_id", profileID).
		Str("circle_id", resp.Circle.ID).
		Int("notified", resp.Notified).
		Msg("Circle created")

	respondJSON(w, http.StatusCreated, resp)
}

// GetCircles handles GET /api/v1/circles
func (h *CircleHandler) GetCircles(w http.ResponseWriter, r *http.Request) {
	list, err := h.circles.GetCircles(r.Context(), middleware.GetProfileID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, emptyIfNil(list))
}

// JoinCircle handles POST /api/v1/circles/join
func (h *CircleHandler) JoinCircle(w http.ResponseWriter, r *http.Request) {
	var req services.JoinCircleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	circle, err := h.circles.JoinCircle(r.Context(), middleware.GetProfileID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, circle)
}

// circleIDParam returns the circle_id path parameter. Anything that is not a
// UUID cannot name a circle.
func circleIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "circle_id")
	if _, err := uuid.Parse(id); err != nil {
		return "", services.ErrCircleNotFound
	}
	return id, nil
}

// CreateInvitation handles POST /api/v1/circles/{circle_id}/invitations
func (h *CircleHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	circleID, err := circleIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req services.InviteRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	resp, err := h.circles.CreateInvitation(r.Context(), middleware.GetProfileID(r.Context()), circleID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// LeaveCircle handles DELETE /api/v1/circles/{circle_id}/membership
func (h *CircleHandler) LeaveCircle(w http.ResponseWriter, r *http.Request) {
	circleID, err := circleIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if err := h.circles.LeaveCircle(r.Context(), middleware.GetProfileID(r.Context()), circleID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetShareLocation handles PUT /api/v1/circles/{circle_id}/sharing
func (h *CircleHandler) SetShareLocation(w http.ResponseWriter, r *http.Request) {
	circleID, err := circleIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req services.ShareLocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.circles.SetShareLocation(r.Context(), middleware.GetProfileID(r.Context()), circleID, req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RelatedProfiles handles GET /api/v1/related/profiles
func (h *CircleHandler) RelatedProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := h.circles.RelatedProfiles(r.Context(), middleware.GetProfileID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, emptyIfNil(list))
}

// RelatedCircleMappings handles GET /api/v1/related/circle-mappings
func (h *CircleHandler) RelatedCircleMappings(w http.ResponseWriter, r *http.Request) {
	list, err := h.circles.RelatedCircleMappings(r.Context(), middleware.GetProfileID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, emptyIfNil(list))
}

// RelatedProfileMappings handles GET /api/v1/related/profile-mappings
func (h *CircleHandler) RelatedProfileMappings(w http.ResponseWriter, r *http.Request) {
	list, err := h.circles.RelatedProfileMappings(r.Context(), middleware.GetProfileID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, emptyIfNil(list))
}
