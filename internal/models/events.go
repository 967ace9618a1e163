package models

type EventType string

// Inbound event types (client -> server).
const (
	EventAuth               EventType = "auth"
	EventJoinRoom           EventType = "join_room"
	EventLeaveRoom          EventType = "leave_room"
	EventCreateRoom         EventType = "create_room"
	EventGetRooms           EventType = "get_rooms"
	EventEditDocument       EventType = "edit_document"
	EventLockDocument       EventType = "lock_document"
	EventUnlockDocument     EventType = "unlock_document"
	EventUpdateCursor       EventType = "update_cursor"
	EventUpdateSelection    EventType = "update_selection"
	EventTyping             EventType = "typing"
	EventSendMessage        EventType = "send_message"
	EventSendPrivateMessage EventType = "send_private_message"
	EventPing               EventType = "ping"
)

// Outbound event types (server -> client).
const (
	EventAuthSuccess      EventType = "auth_success"
	EventRoomJoined       EventType = "room_joined"
	EventRoomCreated      EventType = "room_created"
	EventUserJoined       EventType = "user_joined"
	EventUserLeft         EventType = "user_left"
	EventRoomList         EventType = "room_list"
	EventDocumentEdit     EventType = "document_edit"
	EventDocumentLocked   EventType = "document_locked"
	EventDocumentUnlocked EventType = "document_unlocked"
	EventEditDenied       EventType = "edit_denied"
	EventCursorUpdate     EventType = "cursor_update"
	EventSelectionUpdate  EventType = "selection_update"
	EventUserTyping       EventType = "user_typing"
	EventUserInactive     EventType = "user_inactive"
	EventUserActive       EventType = "user_active"
	EventMessage          EventType = "message"
	EventPrivateMessage   EventType = "private_message"
	EventError            EventType = "error"
	EventPong             EventType = "pong"
)

// Event is the single wire envelope for every websocket frame. Fields are
// optional; which ones are set depends on Type.
type Event struct {
	Type        EventType     `json:"type"`
	Token       string        `json:"token,omitempty"`
	RoomID      string        `json:"room_id,omitempty"`
	RoomName    string        `json:"room_name,omitempty"`
	DocumentID  string        `json:"document_id,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
	RecipientID string        `json:"recipient_id,omitempty"`
	Text        string        `json:"text,omitempty"`
	Message     string        `json:"message,omitempty"`
	Range       *Range        `json:"range,omitempty"`
	Position    *Position     `json:"position,omitempty"`
	BaseVersion int64         `json:"base_version,omitempty"`
	Version     int64         `json:"version,omitempty"`
	IsTyping    bool          `json:"is_typing,omitempty"`
	LockedBy    string        `json:"locked_by,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	User        *User         `json:"user,omitempty"`
	Room        *Room         `json:"room,omitempty"`
	Rooms       []RoomSummary `json:"rooms,omitempty"`
	OnlineUsers []User        `json:"online_users,omitempty"`
	Messages    []Message     `json:"messages,omitempty"`
	Sender      string        `json:"sender,omitempty"`
	Timestamp   string        `json:"timestamp,omitempty"`
}
