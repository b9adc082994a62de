package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/common"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/services/auth"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // agents connect from arbitrary site hosts
	},
}

// WSMessage is the envelope written to every websocket client.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WelcomePayload is sent once on connect. Clients use the instance id to
// detect server restarts and re-sync their local state.
type WelcomePayload struct {
	ServerInstanceID string `json:"server_instance_id"`
	OwnerID          uint64 `json:"owner_id"`
	Timestamp        string `json:"timestamp"`
}

// WebSocketHandler streams mutation notifications to connected agents. Each
// connection subscribes to the notifier under the authenticated owner, so a
// client only ever sees its own sites, jobs and sessions change.
type WebSocketHandler struct {
	logger           arbor.ILogger
	notifier         interfaces.Notifier
	auth             *auth.Service
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	throttle         rate.Limit
	serverInstanceID string
}

// NewWebSocketHandler creates the websocket endpoint. minInterval throttles
// per-connection writes; zero disables throttling.
func NewWebSocketHandler(notifier interfaces.Notifier, authService *auth.Service, minInterval time.Duration, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		notifier:         notifier,
		auth:             authService,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		throttle:         rate.Inf,
		serverInstanceID: uuid.New().String(),
	}
	if minInterval > 0 {
		h.throttle = rate.Every(minInterval)
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")
	return h
}

// HandleWebSocket upgrades the connection and streams notifications until
// the client disconnects. Browsers cannot set an Authorization header on a
// websocket handshake, so the token rides a query parameter here.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ownerID, err := h.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		WriteError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int64("owner_id", int64(ownerID)).Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendWelcome(conn, ownerID)

	notifications, cancel := h.notifier.Subscribe(ownerID)

	done := make(chan struct{})
	common.SafeGo(h.logger, "wsWriteLoop", func() {
		h.writeLoop(conn, notifications, done)
	})

	defer func() {
		cancel()
		close(done)

		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int64("owner_id", int64(ownerID)).Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read loop keeps the connection alive and detects disconnects; clients
	// never send application messages.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// writeLoop forwards the owner's notifications to one client connection.
func (h *WebSocketHandler) writeLoop(conn *websocket.Conn, notifications <-chan interfaces.Notification, done <-chan struct{}) {
	limiter := rate.NewLimiter(h.throttle, 1)

	for {
		select {
		case <-done:
			return
		case n, ok := <-notifications:
			if !ok {
				// Subscription dropped by the notifier; the client should
				// reconnect and re-sync via the REST API.
				h.sendMessage(conn, WSMessage{Type: "resync"})
				return
			}
			if !limiter.Allow() {
				continue
			}
			h.sendMessage(conn, WSMessage{
				Type:    string(n.Entity) + "." + string(n.Action),
				Payload: n,
			})
		}
	}
}

func (h *WebSocketHandler) sendWelcome(conn *websocket.Conn, ownerID uint64) {
	h.sendMessage(conn, WSMessage{
		Type: "welcome",
		Payload: WelcomePayload{
			ServerInstanceID: h.serverInstanceID,
			OwnerID:          ownerID,
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (h *WebSocketHandler) sendMessage(conn *websocket.Conn, msg WSMessage) {
	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()
	if mutex == nil {
		return
	}

	mutex.Lock()
	err := conn.WriteJSON(msg)
	mutex.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send message to WebSocket client")
	}
}
