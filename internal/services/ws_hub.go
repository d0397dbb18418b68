package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"circles-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocket message types
const (
	MsgLocationUpdate = "location_update"
	MsgPresence       = "presence"
	MsgMemberJoined   = "member_joined"
	MsgMemberLeft     = "member_left"
	MsgError          = "error"
	MsgPong           = "pong"

	// sent by clients
	MsgLocation = "location"
	MsgPing     = "ping"
)

const (
	writeWait = 10 * time.Second

	// PongWait is how long a connection may stay silent before it is dropped
	PongWait = 60 * time.Second
)

// WSMessage represents a WebSocket message in either direction
type WSMessage struct {
	Type      string           `json:"type"`
	ProfileID string           `json:"profile_id,omitempty"`
	CircleID  string           `json:"circle_id,omitempty"`
	Location  *models.Location `json:"location,omitempty"`
	Latitude  *float64         `json:"latitude,omitempty"`
	Longitude *float64         `json:"longitude,omitempty"`
	Online    *bool            `json:"online,omitempty"`
	Message   string           `json:"message,omitempty"`
	Data      interface{}      `json:"data,omitempty"`
}

// PresenceFunc is called when a profile connects or drops its last connection
type PresenceFunc func(profileID string, online bool)

type wsConn struct {
	conn     *websocket.Conn
	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, done: make(chan struct{})}
}

func (c *wsConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// stop ends the keep-alive loop and closes the socket
func (c *wsConn) stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.conn.Close()
}

// WSHub manages one WebSocket connection per profile
type WSHub struct {
	mu          sync.RWMutex
	connections map[string]*wsConn
	closed      bool
	presence    *presenceQueue
	metrics     ConnectionGauge
	pingPeriod  time.Duration
}

// ConnectionGauge tracks the number of open connections. A nil gauge is allowed.
type ConnectionGauge interface {
	SetOnlineConnections(n int)
}

// NewWSHub creates a new WebSocket hub. Presence changes are delivered to
// onPresence one at a time, in the order they happened.
func NewWSHub(onPresence PresenceFunc, metrics ConnectionGauge) *WSHub {
	h := &WSHub{
		connections: make(map[string]*wsConn),
		metrics:     metrics,
		pingPeriod:  PongWait * 9 / 10,
	}
	if onPresence != nil {
		h.presence = newPresenceQueue(onPresence)
	}
	return h
}

// Register registers a connection for a profile, replacing any previous one
func (h *WSHub) Register(profileID string, conn *websocket.Conn) {
	c := newWSConn(conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	existing, replaced := h.connections[profileID]
	h.connections[profileID] = c
	if !replaced {
		h.presence.push(profileID, true)
	}
	n := len(h.connections)
	h.mu.Unlock()

	if replaced {
		existing.stop()
	}
	h.setGauge(n)
	go h.keepAlive(profileID, c)

	log.Info().Str("profile_id", profileID).Msg("WebSocket connection registered")
}

// Unregister removes conn for a profile. A connection that was already
// replaced by a newer one is only closed.
func (h *WSHub) Unregister(profileID string, conn *websocket.Conn) {
	h.mu.Lock()
	current, exists := h.connections[profileID]
	removed := exists && current.conn == conn
	if removed {
		delete(h.connections, profileID)
		h.presence.push(profileID, false)
	}
	n := len(h.connections)
	h.mu.Unlock()

	if !removed {
		conn.Close()
		return
	}
	current.stop()
	h.setGauge(n)

	log.Info().Str("profile_id", profileID).Msg("WebSocket connection unregistered")
}

// keepAlive pings the client until the connection is stopped
func (h *WSHub) keepAlive(profileID string, c *wsConn) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				log.Debug().Err(err).Str("profile_id", profileID).Msg("WebSocket ping failed")
				h.Unregister(profileID, c.conn)
				return
			}
		}
	}
}

// SendToProfile sends a message to a specific profile
func (h *WSHub) SendToProfile(profileID string, message WSMessage) error {
	h.mu.RLock()
	c, exists := h.connections[profileID]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("profile %s is not connected", profileID)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.write(data); err != nil {
		h.Unregister(profileID, c.conn)
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Broadcast sends a message to every connected profile in ids and returns
// how many received it
func (h *WSHub) Broadcast(profileIDs []string, message WSMessage) int {
	sent := 0
	for _, id := range profileIDs {
		if !h.IsOnline(id) {
			continue
		}
		if err := h.SendToProfile(id, message); err != nil {
			log.Warn().Err(err).Str("profile_id", id).Str("type", message.Type).Msg("Failed to deliver message")
			continue
		}
		sent++
	}
	return sent
}

// IsOnline checks if a profile has an open connection
func (h *WSHub) IsOnline(profileID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.connections[profileID]
	return exists
}

// Count returns the number of connected profiles
func (h *WSHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close closes every connection, reports each profile offline and waits
// for pending presence callbacks
func (h *WSHub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := h.connections
	h.connections = make(map[string]*wsConn)
	for id := range conns {
		h.presence.push(id, false)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.stop()
	}
	h.setGauge(0)
	h.presence.close()
}

func (h *WSHub) setGauge(n int) {
	if h.metrics != nil {
		h.metrics.SetOnlineConnections(n)
	}
}

type presenceEvent struct {
	profileID string
	online    bool
}

// presenceQueue runs presence callbacks on a single goroutine so a profile's
// connects and disconnects are applied in order. push never blocks.
type presenceQueue struct {
	mu     sync.Mutex
	events []presenceEvent
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newPresenceQueue(fn PresenceFunc) *presenceQueue {
	q := &presenceQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run(fn)
	return q
}

func (q *presenceQueue) push(profileID string, online bool) {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.events = append(q.events, presenceEvent{profileID: profileID, online: online})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops accepting events and waits until queued ones are delivered
func (q *presenceQueue) close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *presenceQueue) run(fn PresenceFunc) {
	defer close(q.done)
	for {
		q.mu.Lock()
		events := q.events
		q.events = nil
		closed := q.closed
		q.mu.Unlock()

		for _, ev := range events {
			fn(ev.profileID, ev.online)
		}
		if len(events) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}
