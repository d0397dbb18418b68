package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"circles-backend/internal/middleware"
	"circles-backend/internal/models"
	"circles-backend/internal/services"
	"circles-backend/internal/validation"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const maxFrameBytes = 4096

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // mobile clients send no Origin
	},
}

// Hub is the connection registry used by WebSocketHandler
type Hub interface {
	Register(profileID string, conn *websocket.Conn)
	Unregister(profileID string, conn *websocket.Conn)
	SendToProfile(profileID string, message services.WSMessage) error
}

// LocationUpdater persists and fans out location frames
type LocationUpdater interface {
	UpdateLocation(ctx context.Context, id string, req services.LocationRequest) (*models.Location, error)
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub       Hub
	auth      middleware.Authenticator
	locations LocationUpdater
	pongWait  time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub Hub, auth middleware.Authenticator, locations LocationUpdater) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		auth:      auth,
		locations: locations,
		pongWait:  services.PongWait,
	}
}

// HandleWebSocket handles GET /ws?token=
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}

	claims, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}
	profileID := claims.ProfileID

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	conn.SetReadLimit(maxFrameBytes)
	extendDeadline := func() { _ = conn.SetReadDeadline(time.Now().Add(h.pongWait)) }
	extendDeadline()
	conn.SetPongHandler(func(string) error {
		extendDeadline()
		return nil
	})

	h.hub.Register(profileID, conn)
	defer h.hub.Unregister(profileID, conn)

	log.Info().Str("profile_id", profileID).Msg("WebSocket connection established")

	ctx := r.Context()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("profile_id", profileID).Msg("WebSocket error")
			}
			return
		}
		extendDeadline()

		var msg services.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(profileID, "Invalid message format")
			continue
		}

		if err := h.handleMessage(ctx, profileID, msg); err != nil {
			log.Warn().Err(err).Str("profile_id", profileID).Str("type", msg.Type).Msg("Failed to handle message")
			h.sendError(profileID, clientMessage(err))
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(ctx context.Context, profileID string, msg services.WSMessage) error {
	switch msg.Type {
	case services.MsgLocation:
		_, err := h.locations.UpdateLocation(ctx, profileID, services.LocationRequest{
			Latitude:  msg.Latitude,
			Longitude: msg.Longitude,
		})
		return err
	case services.MsgPing:
		return h.hub.SendToProfile(profileID, services.WSMessage{Type: services.MsgPong})
	default:
		h.sendError(profileID, "Unknown message type")
		return nil
	}
}

// sendError sends an error frame through the hub so writes stay serialized
func (h *WebSocketHandler) sendError(profileID, message string) {
	err := h.hub.SendToProfile(profileID, services.WSMessage{
		Type:    services.MsgError,
		Message: message,
	})
	if err != nil {
		log.Debug().Err(err).Str("profile_id", profileID).Msg("Failed to send error frame")
	}
}

func clientMessage(err error) string {
	var verr *validation.Error
	if errors.As(err, &verr) {
		return verr.Error()
	}
	if statusFor(err) == http.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}
