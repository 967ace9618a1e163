package websocket

import (
	"sync/atomic"

	"collab-app/pkg/logger"
)

// frame is one serialized event queued for room delivery. exclude names a
// user to skip (the sender); remote marks frames relayed from another server
// instance via the bridge, which must not be re-published.
type frame struct {
	data    []byte
	exclude string
	remote  bool
}

// Hub fans events out to every client registered in one room. A single Run
// goroutine per room is what gives the per-room delivery ordering guarantee:
// frames reach all recipients in the order the hub accepted them.
type Hub struct {
	roomID      string
	clients     map[*Client]bool
	broadcast   chan frame
	register    chan *Client
	unregister  chan *Client
	shutdown    chan struct{}
	bridge      *Bridge
	clientCount atomic.Int32
}

func NewHub(roomID string, bridge *Bridge, queueSize int) *Hub {
	return &Hub{
		roomID:     roomID,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan frame, queueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		bridge:     bridge,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			if !h.clients[client] {
				h.clients[client] = true
				h.clientCount.Add(1)
			}

		case client := <-h.unregister:
			if h.clients[client] {
				delete(h.clients, client)
				h.clientCount.Add(-1)
			}

		case f := <-h.broadcast:
			h.deliver(f)
		}
	}
}

// deliver writes the frame to every registered client except the excluded
// sender. Sends are non-blocking: a client whose outbound queue is full is
// disconnected rather than allowed to stall the room.
func (h *Hub) deliver(f frame) {
	for client := range h.clients {
		if f.exclude != "" && client.user.ID == f.exclude {
			continue
		}
		if !client.trySend(f.data) {
			delete(h.clients, client)
			h.clientCount.Add(-1)
			logger.Warn("Dropped slow client %s from room %s", client.user.ID, h.roomID)
		}
	}
	if h.bridge != nil && !f.remote {
		if err := h.bridge.Publish(h.roomID, f.exclude, f.data); err != nil {
			logger.Error("Bridge publish for room %s failed: %v", h.roomID, err)
		}
	}
}

// Register adds the client to the hub's membership. Returns false if the
// hub has already been shut down; the caller should fetch a fresh hub from
// the manager and retry, since cleanup can race a join into an empty room.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.shutdown:
		return false
	}
}

// Unregister removes the client. Safe to call on a shut-down hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.shutdown:
	}
}

// enqueue queues a frame for delivery without blocking on a dead hub. A
// frame offered to a shut-down hub is dropped; the room has no clients.
func (h *Hub) enqueue(f frame) {
	select {
	case h.broadcast <- f:
	case <-h.shutdown:
	}
}

func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

func (h *Hub) Shutdown() {
	select {
	case <-h.shutdown:
	default:
		close(h.shutdown)
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.shutdown:
		return true
	default:
		return false
	}
}
