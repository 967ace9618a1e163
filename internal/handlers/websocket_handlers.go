package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"collab-app/internal/auth"
	"collab-app/internal/config"
	"collab-app/internal/models"
	ws "collab-app/internal/websocket"
	"collab-app/pkg/logger"
)

type WebSocketHandlers struct {
	authService *auth.Service
	manager     *ws.Manager
	cfg         *config.Config
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, manager *ws.Manager, cfg *config.Config) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		manager:     manager,
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// HandleWebSocket authenticates and starts a connection. Two paths: a
// ?token= query parameter is verified before the upgrade, otherwise the
// socket is upgraded and must deliver an auth frame within the configured
// timeout or it is dropped.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr != "" {
		user, err := h.authService.GetUserFromToken(r.Context(), tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Upgrade error: %v", err)
			return
		}
		h.start(conn, user)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}
	user, err := h.awaitAuth(r, conn)
	if err != nil {
		logger.Info("Dropping unauthenticated connection: %v", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	h.start(conn, user)
}

// awaitAuth reads the first frame off a fresh socket and requires it to be a
// valid auth event. Authentication failure is fatal for this connection
// attempt; there is no retry.
func (h *WebSocketHandlers) awaitAuth(r *http.Request, conn *websocket.Conn) (*models.User, error) {
	conn.SetReadDeadline(time.Now().Add(h.cfg.Sync.AuthTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("no auth frame within %v: %w", h.cfg.Sync.AuthTimeout, err)
	}

	var ev models.Event
	if err := json.Unmarshal(message, &ev); err != nil {
		return nil, fmt.Errorf("malformed auth frame: %w", err)
	}
	if ev.Type != models.EventAuth || ev.Token == "" {
		return nil, fmt.Errorf("expected auth event, got %q", ev.Type)
	}

	user, err := h.authService.GetUserFromToken(r.Context(), ev.Token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return user, nil
}

func (h *WebSocketHandlers) start(conn *websocket.Conn, user *models.User) {
	client := ws.NewClient(h.manager, conn, user)
	h.manager.Attach(client)

	go client.WritePump()
	go client.ReadPump()

	client.SendEvent(models.Event{Type: models.EventAuthSuccess, User: client.User()})
	logger.Info("User %s connected", user.ID)
}
