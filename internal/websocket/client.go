package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collab-app/internal/models"
	"collab-app/pkg/logger"
)

const writeWait = 10 * time.Second

// Client is one authenticated socket. It may sit in several rooms at once;
// the hubs of those rooms all feed its single outbound queue.
type Client struct {
	manager *Manager
	conn    *websocket.Conn
	send    chan []byte
	user    *models.User

	mu    sync.Mutex
	rooms map[string]*Hub

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(manager *Manager, conn *websocket.Conn, user *models.User) *Client {
	return &Client{
		manager: manager,
		conn:    conn,
		send:    make(chan []byte, manager.cfg.Sync.SendBufferSize),
		user:    user,
		rooms:   make(map[string]*Hub),
		done:    make(chan struct{}),
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.manager.removeClient(c)
		c.close()
	}()

	// Pong handler keeps the read deadline ahead as long as the peer answers
	// heartbeat pings.
	c.conn.SetReadDeadline(time.Now().Add(c.manager.cfg.Sync.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.cfg.Sync.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error for user %s: %v", c.user.ID, err)
			}
			break
		}

		var ev models.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			// Malformed frames are dropped with an error reply; the
			// connection itself survives.
			c.sendError("malformed event payload")
			continue
		}
		c.handleEvent(ev)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.manager.cfg.Sync.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// trySend enqueues a frame without ever blocking. A full queue means the
// client is too slow to keep up; it is torn down so the room is not stalled.
func (c *Client) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		c.close()
		return false
	}
}

// SendEvent marshals and enqueues an event for this connection only.
func (c *Client) SendEvent(ev models.Event) {
	c.sendEvent(ev)
}

// User returns the authenticated identity bound to this connection.
func (c *Client) User() *models.User {
	return c.user
}

func (c *Client) sendEvent(ev models.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Error marshaling %s event: %v", ev.Type, err)
		return
	}
	c.trySend(data)
}

func (c *Client) sendError(message string) {
	c.sendEvent(models.Event{Type: models.EventError, Message: message})
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) trackRoom(roomID string, hub *Hub) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = hub
}

func (c *Client) forgetRoom(roomID string) *Hub {
	c.mu.Lock()
	defer c.mu.Unlock()
	hub := c.rooms[roomID]
	delete(c.rooms, roomID)
	return hub
}

func (c *Client) joinedHubs() map[string]*Hub {
	c.mu.Lock()
	defer c.mu.Unlock()
	hubs := make(map[string]*Hub, len(c.rooms))
	for id, hub := range c.rooms {
		hubs[id] = hub
	}
	return hubs
}
