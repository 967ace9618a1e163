package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"collab-app/internal/config"
	"collab-app/internal/database"
	"collab-app/internal/docsync"
	"collab-app/internal/models"
	"collab-app/internal/presence"
	"collab-app/internal/rooms"
	"collab-app/pkg/logger"
)

// Manager wires the sync core together: it owns the per-room hubs, the
// per-user connection index, and holds the registry, presence tracker and
// sync engine the event handlers dispatch into. It is also the broadcast
// router: ToRoom, ToRoomExcept and ToUser are the only delivery paths.
type Manager struct {
	mu       sync.Mutex
	hubs     map[string]*Hub
	users    map[string]map[*Client]struct{}
	names    map[string]string
	userSubs map[string]context.CancelFunc

	cfg      *config.Config
	registry *rooms.Registry
	presence *presence.Tracker
	engine   *docsync.Engine
	db       database.Database
	bridge   *Bridge
}

// NewManager builds the manager. db and bridge may be nil: without a db no
// chat history is kept, without a bridge events stay on this instance.
func NewManager(cfg *config.Config, registry *rooms.Registry, tracker *presence.Tracker, engine *docsync.Engine, db database.Database, bridge *Bridge) *Manager {
	return &Manager{
		hubs:     make(map[string]*Hub),
		users:    make(map[string]map[*Client]struct{}),
		names:    make(map[string]string),
		userSubs: make(map[string]context.CancelFunc),
		cfg:      cfg,
		registry: registry,
		presence: tracker,
		engine:   engine,
		db:       db,
		bridge:   bridge,
	}
}

// Attach indexes a freshly authenticated client so ToUser can reach it.
// With a bridge configured, the user's first connection also subscribes the
// instance to that user's direct-message channel.
func (m *Manager) Attach(c *Client) {
	c.user.Color = presence.ColorFor(c.user.ID)
	c.user.Status = models.StatusOnline

	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.users[c.user.ID]
	if !ok {
		set = make(map[*Client]struct{})
		m.users[c.user.ID] = set
	}
	set[c] = struct{}{}
	m.names[c.user.ID] = c.user.Username

	if m.bridge != nil {
		if _, subscribed := m.userSubs[c.user.ID]; !subscribed {
			ctx, cancel := context.WithCancel(context.Background())
			m.userSubs[c.user.ID] = cancel
			userID := c.user.ID
			m.bridge.SubscribeUser(ctx, userID, func(data []byte) {
				m.deliverToUser(userID, data)
			})
		}
	}
}

// HubForRoom lazily creates the room's hub and starts its Run goroutine.
// With a bridge configured the hub is also subscribed to the room's channel
// so frames from other instances reach local clients.
func (m *Manager) HubForRoom(roomID string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, exists := m.hubs[roomID]
	if !exists || hub.stopped() {
		hub = NewHub(roomID, m.bridge, m.cfg.Sync.SendBufferSize)
		m.hubs[roomID] = hub
		go hub.Run()
		if m.bridge != nil {
			h := hub
			m.bridge.Subscribe(context.Background(), roomID, func(exclude string, data []byte) {
				h.enqueue(frame{data: data, exclude: exclude, remote: true})
			})
		}
	}
	return hub
}

// ToRoom delivers the event to every connected member of the room.
func (m *Manager) ToRoom(roomID string, ev models.Event) {
	m.enqueue(roomID, ev, "")
}

// ToRoomExcept delivers the event to every connected member except one,
// normally the originator.
func (m *Manager) ToRoomExcept(roomID, excludeUserID string, ev models.Event) {
	m.enqueue(roomID, ev, excludeUserID)
}

// ToUser delivers the event to all of one user's connections. Best effort:
// a user with no connection simply misses it. With a bridge configured the
// frame is also published to the user's channel so connections held by
// other instances receive it too.
func (m *Manager) ToUser(userID string, ev models.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Error marshaling %s event: %v", ev.Type, err)
		return false
	}

	delivered := m.deliverToUser(userID, data)
	if m.bridge != nil {
		if err := m.bridge.PublishUser(userID, data); err != nil {
			logger.Error("Bridge publish for user %s failed: %v", userID, err)
		}
	}
	return delivered
}

// deliverToUser writes a pre-marshalled frame to the user's local
// connections only; bridged frames come through here to avoid an echo loop.
func (m *Manager) deliverToUser(userID string, data []byte) bool {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.users[userID]))
	for c := range m.users[userID] {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	delivered := false
	for _, c := range clients {
		if c.trySend(data) {
			delivered = true
		}
	}
	return delivered
}

func (m *Manager) enqueue(roomID string, ev models.Event, exclude string) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Error marshaling %s event: %v", ev.Type, err)
		return
	}
	m.HubForRoom(roomID).enqueue(frame{data: data, exclude: exclude})
}

// RunPresenceSweep periodically asks the tracker for users that crossed the
// inactivity threshold and announces each transition to that user's rooms.
// Blocks until ctx is canceled.
func (m *Manager) RunPresenceSweep(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Sync.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, userID := range m.presence.CheckInactive(time.Now()) {
				m.fanPresence(userID, models.EventUserInactive)
			}
		}
	}
}

// CleanupHubs shuts down hubs for rooms with no connected clients. Blocks
// until ctx is canceled.
func (m *Manager) CleanupHubs(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			for roomID, hub := range m.hubs {
				if hub.ClientCount() == 0 {
					hub.Shutdown()
					delete(m.hubs, roomID)
					logger.Debug("Cleaned up idle hub for room %s", roomID)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) fanPresence(userID string, eventType models.EventType) {
	for _, roomID := range m.registry.RoomsOf(userID) {
		m.ToRoom(roomID, models.Event{Type: eventType, RoomID: roomID, UserID: userID})
	}
}

// removeClient tears a connection down. When it was the user's last
// connection this behaves exactly like an explicit leave of every joined
// room: locks released, cursor state cleared, user_left broadcast. Treating
// disconnect and leave identically is what keeps locks from being stranded.
func (m *Manager) removeClient(c *Client) {
	m.mu.Lock()
	set := m.users[c.user.ID]
	delete(set, c)
	last := len(set) == 0
	if last {
		delete(m.users, c.user.ID)
		if cancel, ok := m.userSubs[c.user.ID]; ok {
			cancel()
			delete(m.userSubs, c.user.ID)
		}
	}
	m.mu.Unlock()

	if last {
		for _, roomID := range m.registry.RoomsOf(c.user.ID) {
			m.leaveRoom(c.user, roomID)
		}
	}
	for _, hub := range c.joinedHubs() {
		hub.Unregister(c)
	}
	logger.Info("User %s disconnected", c.user.ID)
}

// leaveRoom applies the full leave side effects for a user in one room.
func (m *Manager) leaveRoom(user *models.User, roomID string) {
	for _, docID := range m.engine.ReleaseUserLocks(roomID, user.ID) {
		m.ToRoom(roomID, models.Event{
			Type:       models.EventDocumentUnlocked,
			RoomID:     roomID,
			DocumentID: docID,
		})
	}
	m.engine.ClearUserState(roomID, user.ID)

	// Snapshot before Leave clears presence state for the room.
	snapshot := m.userSnapshot(user.ID)
	if m.registry.Leave(roomID, user.ID) {
		m.ToRoomExcept(roomID, user.ID, models.Event{
			Type:   models.EventUserLeft,
			RoomID: roomID,
			User:   snapshot,
		})
	}
}

// roomUsers builds the online-user list for a room_joined snapshot.
func (m *Manager) roomUsers(roomID string) []models.User {
	memberIDs := m.registry.Members(roomID)
	users := make([]models.User, 0, len(memberIDs))
	for _, id := range memberIDs {
		users = append(users, *m.userSnapshot(id))
	}
	return users
}

func (m *Manager) userSnapshot(userID string) *models.User {
	status, _ := m.presence.Status(userID)
	m.mu.Lock()
	name := m.names[userID]
	m.mu.Unlock()
	return &models.User{
		ID:       userID,
		Username: name,
		Color:    presence.ColorFor(userID),
		Status:   status,
	}
}
