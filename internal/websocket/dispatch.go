package websocket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"collab-app/internal/docsync"
	"collab-app/internal/models"
	"collab-app/internal/rooms"
	"collab-app/pkg/logger"
)

// handleEvent routes one inbound frame. Any inbound traffic counts as
// activity for idle detection; a user coming back from inactive gets their
// user_active transition announced before the event itself is handled.
func (c *Client) handleEvent(ev models.Event) {
	if c.manager.presence.MarkActivity(c.user.ID) {
		c.manager.fanPresence(c.user.ID, models.EventUserActive)
	}

	switch ev.Type {
	case models.EventPing:
		c.sendEvent(models.Event{Type: models.EventPong})
	case models.EventJoinRoom:
		c.handleJoinRoom(ev)
	case models.EventLeaveRoom:
		c.handleLeaveRoom(ev)
	case models.EventCreateRoom:
		c.handleCreateRoom(ev)
	case models.EventGetRooms:
		c.sendEvent(models.Event{Type: models.EventRoomList, Rooms: c.manager.registry.List()})
	case models.EventEditDocument:
		c.handleEditDocument(ev)
	case models.EventLockDocument:
		c.handleLockDocument(ev)
	case models.EventUnlockDocument:
		c.handleUnlockDocument(ev)
	case models.EventUpdateCursor:
		c.handleUpdateCursor(ev)
	case models.EventUpdateSelection:
		c.handleUpdateSelection(ev)
	case models.EventTyping:
		c.handleTyping(ev)
	case models.EventSendMessage:
		c.handleSendMessage(ev)
	case models.EventSendPrivateMessage:
		c.handleSendPrivateMessage(ev)
	default:
		c.sendError(fmt.Sprintf("unknown event type: %s", ev.Type))
	}
}

// handleJoinRoom admits the client to the room, creating it on the fly when
// the join names an unknown room and carries a room_name. The joiner gets a
// room_joined snapshot (room, online users, recent chat); existing members
// get one user_joined, and none on a duplicate join.
func (c *Client) handleJoinRoom(ev models.Event) {
	if ev.RoomID == "" {
		c.sendError("join_room requires room_id")
		return
	}

	room, already, err := c.manager.registry.Join(ev.RoomID, c.user.ID)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		if ev.RoomName == "" {
			c.sendError("room not found")
			return
		}
		if _, cerr := c.manager.registry.Create(ev.RoomID, ev.RoomName, c.user.ID); cerr != nil && !errors.Is(cerr, rooms.ErrDuplicateRoom) {
			c.sendError("room not found")
			return
		}
		room, already, err = c.manager.registry.Join(ev.RoomID, c.user.ID)
	}
	if err != nil {
		c.sendError("room not found")
		return
	}

	// HubForRoom replaces a hub that cleanup shut down, so a failed
	// Register just means we raced the cleanup and should grab the fresh one.
	hub := c.manager.HubForRoom(ev.RoomID)
	for !hub.Register(c) {
		hub = c.manager.HubForRoom(ev.RoomID)
	}
	c.trackRoom(ev.RoomID, hub)

	reply := models.Event{
		Type:        models.EventRoomJoined,
		RoomID:      ev.RoomID,
		Room:        room,
		OnlineUsers: c.manager.roomUsers(ev.RoomID),
	}
	if c.manager.db != nil {
		history, herr := c.manager.db.LoadRecentMessages(context.Background(), ev.RoomID, c.manager.cfg.Sync.HistoryLimit)
		if herr != nil {
			logger.Error("Error loading recent messages for room %s: %v", ev.RoomID, herr)
		}
		for _, msg := range history {
			reply.Messages = append(reply.Messages, *msg)
		}
	}
	c.sendEvent(reply)

	if !already {
		c.manager.ToRoomExcept(ev.RoomID, c.user.ID, models.Event{
			Type:   models.EventUserJoined,
			RoomID: ev.RoomID,
			User:   c.manager.userSnapshot(c.user.ID),
		})
		logger.Info("User %s joined room %s", c.user.ID, ev.RoomID)
	}
}

func (c *Client) handleLeaveRoom(ev models.Event) {
	if ev.RoomID == "" {
		c.sendError("leave_room requires room_id")
		return
	}
	c.manager.leaveRoom(c.user, ev.RoomID)
	if hub := c.forgetRoom(ev.RoomID); hub != nil {
		hub.Unregister(c)
	}
	logger.Info("User %s left room %s", c.user.ID, ev.RoomID)
}

func (c *Client) handleCreateRoom(ev models.Event) {
	room, err := c.manager.registry.Create(ev.RoomID, ev.RoomName, c.user.ID)
	if errors.Is(err, rooms.ErrDuplicateRoom) {
		c.sendError("room already exists")
		return
	}
	c.sendEvent(models.Event{Type: models.EventRoomCreated, RoomID: room.ID, Room: room})
}

// handleEditDocument runs the acceptance algorithm and, on accept, enqueues
// the document_edit broadcast while the document is still serialized, so
// recipients observe version order exactly.
func (c *Client) handleEditDocument(ev models.Event) {
	if ev.RoomID == "" || ev.DocumentID == "" || ev.Range == nil {
		c.sendError("edit_document requires room_id, document_id and range")
		return
	}

	op := models.ChangeOperation{
		ID:          uuid.NewString(),
		DocumentID:  ev.DocumentID,
		RoomID:      ev.RoomID,
		UserID:      c.user.ID,
		Range:       *ev.Range,
		Text:        ev.Text,
		BaseVersion: ev.BaseVersion,
		Timestamp:   time.Now(),
	}

	_, err := c.manager.engine.ApplyChange(op, func(version int64) {
		c.manager.ToRoomExcept(ev.RoomID, c.user.ID, models.Event{
			Type:       models.EventDocumentEdit,
			RoomID:     ev.RoomID,
			DocumentID: ev.DocumentID,
			Range:      ev.Range,
			Text:       ev.Text,
			Version:    version,
			UserID:     c.user.ID,
		})
	})

	var locked *docsync.LockedError
	switch {
	case err == nil:
	case errors.As(err, &locked):
		c.sendEvent(models.Event{
			Type:       models.EventEditDenied,
			DocumentID: ev.DocumentID,
			Reason:     "Document is locked",
			LockedBy:   locked.By,
		})
	case errors.Is(err, docsync.ErrNotAMember):
		c.sendError("not a member of this room")
	default:
		c.sendError(err.Error())
	}
}

func (c *Client) handleLockDocument(ev models.Event) {
	if ev.RoomID == "" || ev.DocumentID == "" {
		c.sendError("lock_document requires room_id and document_id")
		return
	}

	err := c.manager.engine.Lock(ev.DocumentID, ev.RoomID, c.user.ID)
	var locked *docsync.LockedError
	switch {
	case err == nil:
		c.manager.ToRoom(ev.RoomID, models.Event{
			Type:       models.EventDocumentLocked,
			RoomID:     ev.RoomID,
			DocumentID: ev.DocumentID,
			LockedBy:   c.user.ID,
		})
	case errors.As(err, &locked):
		c.sendEvent(models.Event{
			Type:       models.EventError,
			DocumentID: ev.DocumentID,
			Message:    "document already locked",
			LockedBy:   locked.By,
		})
	case errors.Is(err, docsync.ErrNotAMember):
		c.sendError("not a member of this room")
	}
}

func (c *Client) handleUnlockDocument(ev models.Event) {
	if ev.RoomID == "" || ev.DocumentID == "" {
		c.sendError("unlock_document requires room_id and document_id")
		return
	}

	err := c.manager.engine.Unlock(ev.DocumentID, ev.RoomID, c.user.ID)
	switch {
	case err == nil:
		c.manager.ToRoom(ev.RoomID, models.Event{
			Type:       models.EventDocumentUnlocked,
			RoomID:     ev.RoomID,
			DocumentID: ev.DocumentID,
		})
	case errors.Is(err, docsync.ErrNotLockOwner):
		c.sendError("not the lock owner")
	default:
		c.sendError(err.Error())
	}
}

func (c *Client) handleUpdateCursor(ev models.Event) {
	if ev.RoomID == "" || ev.DocumentID == "" || ev.Position == nil {
		c.sendError("update_cursor requires room_id, document_id and position")
		return
	}
	c.manager.engine.UpdateCursor(ev.DocumentID, ev.RoomID, c.user.ID, *ev.Position)
	c.manager.ToRoomExcept(ev.RoomID, c.user.ID, models.Event{
		Type:       models.EventCursorUpdate,
		RoomID:     ev.RoomID,
		DocumentID: ev.DocumentID,
		UserID:     c.user.ID,
		Position:   ev.Position,
	})
}

func (c *Client) handleUpdateSelection(ev models.Event) {
	if ev.RoomID == "" || ev.DocumentID == "" || ev.Range == nil {
		c.sendError("update_selection requires room_id, document_id and range")
		return
	}
	c.manager.engine.UpdateSelection(ev.DocumentID, ev.RoomID, c.user.ID, *ev.Range)
	c.manager.ToRoomExcept(ev.RoomID, c.user.ID, models.Event{
		Type:       models.EventSelectionUpdate,
		RoomID:     ev.RoomID,
		DocumentID: ev.DocumentID,
		UserID:     c.user.ID,
		Range:      ev.Range,
	})
}

func (c *Client) handleTyping(ev models.Event) {
	if ev.RoomID == "" {
		c.sendError("typing requires room_id")
		return
	}
	c.manager.presence.SetTyping(c.user.ID, ev.RoomID, ev.IsTyping)
	c.manager.ToRoomExcept(ev.RoomID, c.user.ID, models.Event{
		Type:     models.EventUserTyping,
		RoomID:   ev.RoomID,
		UserID:   c.user.ID,
		IsTyping: ev.IsTyping,
	})
}

func (c *Client) handleSendMessage(ev models.Event) {
	if ev.RoomID == "" {
		c.sendError("send_message requires room_id")
		return
	}
	if !c.manager.registry.IsMember(ev.RoomID, c.user.ID) {
		c.sendError("not a member of this room")
		return
	}

	if c.manager.db != nil {
		if err := c.manager.db.SaveMessage(context.Background(), c.user.ID, ev.RoomID, ev.Message); err != nil {
			logger.Error("Error saving message: %v", err)
		}
	}
	c.manager.ToRoom(ev.RoomID, models.Event{
		Type:      models.EventMessage,
		RoomID:    ev.RoomID,
		Message:   ev.Message,
		UserID:    c.user.ID,
		Sender:    c.user.Username,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (c *Client) handleSendPrivateMessage(ev models.Event) {
	if ev.RecipientID == "" {
		c.sendError("send_private_message requires recipient_id")
		return
	}
	c.manager.ToUser(ev.RecipientID, models.Event{
		Type:      models.EventPrivateMessage,
		Message:   ev.Message,
		UserID:    c.user.ID,
		Sender:    c.user.Username,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
