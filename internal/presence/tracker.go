package presence

import (
	"hash/fnv"
	"sync"
	"time"

	"collab-app/internal/models"
)

// Cursor/selection colors handed out per user. Picked by hashing the user id
// so the same user gets the same color for the lifetime of the process.
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#800000", "#aaffc3",
}

type userState struct {
	status       models.UserStatus
	lastActivity time.Time
	color        string
	rooms        map[string]struct{}
	typing       map[string]bool // keyed by room id
}

// Tracker maintains per-user presence: online/inactive status, last activity,
// typing flags and room membership for presence purposes. It never times out
// typing state itself; callers are expected to send the matching "stopped
// typing" signal.
type Tracker struct {
	mu      sync.Mutex
	users   map[string]*userState
	timeout time.Duration
	now     func() time.Time
}

func NewTracker(inactivityTimeout time.Duration) *Tracker {
	return &Tracker{
		users:   make(map[string]*userState),
		timeout: inactivityTimeout,
		now:     time.Now,
	}
}

// MarkOnline records the user as online in the given room, creating state on
// first sight and resetting the inactivity timer.
func (t *Tracker) MarkOnline(userID, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u := t.getOrCreate(userID)
	u.rooms[roomID] = struct{}{}
	u.status = models.StatusOnline
	u.lastActivity = t.now()
}

// MarkOffline removes the user's presence in the room. When the user is in no
// rooms at all their state is evicted entirely.
func (t *Tracker) MarkOffline(userID, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.users[userID]
	if !ok {
		return
	}
	delete(u.rooms, roomID)
	delete(u.typing, roomID)
	if len(u.rooms) == 0 {
		delete(t.users, userID)
	}
}

// MarkActivity resets the user's idle timer. It reports whether the user was
// inactive and has just transitioned back to online, so the caller can emit a
// single user_active event.
func (t *Tracker) MarkActivity(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.users[userID]
	if !ok {
		return false
	}
	u.lastActivity = t.now()
	if u.status == models.StatusInactive {
		u.status = models.StatusOnline
		return true
	}
	return false
}

func (t *Tracker) SetTyping(userID, roomID string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.users[userID]
	if !ok {
		return
	}
	if isTyping {
		u.typing[roomID] = true
	} else {
		delete(u.typing, roomID)
	}
}

func (t *Tracker) IsTyping(userID, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.users[userID]
	return ok && u.typing[roomID]
}

// CheckInactive sweeps all tracked users and returns the ids of those that
// crossed the inactivity threshold on this sweep. Each user is reported once
// per transition; already-inactive users are skipped.
func (t *Tracker) CheckInactive(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var newlyInactive []string
	for id, u := range t.users {
		if u.status != models.StatusOnline {
			continue
		}
		if now.Sub(u.lastActivity) > t.timeout {
			u.status = models.StatusInactive
			newlyInactive = append(newlyInactive, id)
		}
	}
	return newlyInactive
}

func (t *Tracker) Status(userID string) (models.UserStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.users[userID]
	if !ok {
		return "", false
	}
	return u.status, true
}

func (t *Tracker) Color(userID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if u, ok := t.users[userID]; ok {
		return u.color
	}
	return ""
}

// OnlineUsers returns the ids of every user tracked in the room, whatever
// their online/inactive status. Users fully evicted (left all rooms) are not
// included.
func (t *Tracker) OnlineUsers(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []string
	for id, u := range t.users {
		if _, ok := u.rooms[roomID]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Rooms returns the rooms the user is currently present in.
func (t *Tracker) Rooms(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.users[userID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(u.rooms))
	for id := range u.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

func (t *Tracker) getOrCreate(userID string) *userState {
	u, ok := t.users[userID]
	if !ok {
		u = &userState{
			status: models.StatusOnline,
			color:  ColorFor(userID),
			rooms:  make(map[string]struct{}),
			typing: make(map[string]bool),
		}
		t.users[userID] = u
	}
	return u
}

// ColorFor maps a user id to its cursor color. Stable for a given id.
func ColorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}
