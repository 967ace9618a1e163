package rooms

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"collab-app/internal/models"
	"collab-app/internal/presence"
)

var (
	ErrDuplicateRoom = errors.New("room already exists")
	ErrRoomNotFound  = errors.New("room not found")
)

type room struct {
	id           string
	name         string
	ownerID      string
	createdAt    time.Time
	participants map[string]struct{}
}

// Registry owns room lifecycle and membership. It is the authority other
// components consult before accepting edits or routing broadcasts, and it
// seeds/clears presence state on join/leave. Rooms are never hard-deleted.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	presence *presence.Tracker
}

func NewRegistry(tracker *presence.Tracker) *Registry {
	return &Registry{
		rooms:    make(map[string]*room),
		presence: tracker,
	}
}

// Create registers a new room. An empty id gets a generated one. Colliding
// with a live room id fails with ErrDuplicateRoom.
func (r *Registry) Create(id, name, ownerID string) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := r.rooms[id]; exists {
		return nil, ErrDuplicateRoom
	}

	rm := &room{
		id:           id,
		name:         name,
		ownerID:      ownerID,
		createdAt:    time.Now(),
		participants: make(map[string]struct{}),
	}
	r.rooms[id] = rm
	return rm.snapshot(), nil
}

// Join adds the user to the room and marks them online there. Joining a room
// one is already a member of is idempotent; alreadyMember tells the caller
// whether a user_joined broadcast is warranted.
func (r *Registry) Join(roomID, userID string) (rm *models.Room, alreadyMember bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, false, ErrRoomNotFound
	}
	_, alreadyMember = room.participants[userID]
	room.participants[userID] = struct{}{}
	r.presence.MarkOnline(userID, roomID)
	return room.snapshot(), alreadyMember, nil
}

// Leave removes the user from the room and clears their presence there.
// Leaving a room one is not a member of is a no-op success; this absorbs
// duplicate or late leave signals from flaky networks.
func (r *Registry) Leave(roomID, userID string) (wasMember bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, wasMember = room.participants[userID]; wasMember {
		delete(room.participants, userID)
		r.presence.MarkOffline(userID, roomID)
	}
	return wasMember
}

// List returns summaries of every live room, ordered by creation time.
func (r *Registry) List() []models.RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]models.RoomSummary, 0, len(r.rooms))
	for _, rm := range r.rooms {
		summaries = append(summaries, models.RoomSummary{
			ID:               rm.id,
			Name:             rm.name,
			OwnerID:          rm.ownerID,
			ParticipantCount: len(rm.participants),
			CreatedAt:        rm.createdAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

func (r *Registry) Get(roomID string) (*models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.snapshot(), nil
}

func (r *Registry) IsMember(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = room.participants[userID]
	return ok
}

func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(room.participants))
	for id := range room.participants {
		members = append(members, id)
	}
	return members
}

// RoomsOf returns the ids of every room the user is a member of. Used on
// disconnect, which must behave exactly like an explicit leave of each room.
func (r *Registry) RoomsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, rm := range r.rooms {
		if _, ok := rm.participants[userID]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (rm *room) snapshot() *models.Room {
	participants := make([]string, 0, len(rm.participants))
	for id := range rm.participants {
		participants = append(participants, id)
	}
	sort.Strings(participants)
	return &models.Room{
		ID:           rm.id,
		Name:         rm.name,
		OwnerID:      rm.ownerID,
		Participants: participants,
		CreatedAt:    rm.createdAt,
	}
}
