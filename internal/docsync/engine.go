package docsync

import (
	"errors"
	"fmt"
	"sync"

	"collab-app/internal/models"
)

var (
	ErrNotAMember   = errors.New("not a member of this room")
	ErrNotLockOwner = errors.New("not the lock owner")
)

// LockedError reports a rejected operation on a document locked by someone
// else. Lock races are normal control flow under concurrency, not faults.
type LockedError struct {
	By string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("document locked by %s", e.By)
}

// Membership is the slice of the room registry the engine needs: it only ever
// asks whether an editor currently belongs to a room.
type Membership interface {
	IsMember(roomID, userID string) bool
}

type document struct {
	mu         sync.Mutex
	id         string
	roomID     string
	version    int64
	lockOwner  string
	cursors    map[string]models.Position
	selections map[string]models.Range
}

// Engine is the single synchronization authority per document. All mutating
// operations against one document are serialized by that document's mutex, so
// "arrival order" is well-defined; documents proceed independently. The
// engine keeps no document text, only the version counter, lock state and
// ephemeral cursor/selection positions.
type Engine struct {
	mu      sync.Mutex
	docs    map[string]*document
	members Membership
}

func NewEngine(members Membership) *Engine {
	return &Engine{
		docs:    make(map[string]*document),
		members: members,
	}
}

// ApplyChange runs the acceptance algorithm for an edit: membership check,
// lock check, then unconditional accept with a version increment. Acceptance
// order is authoritative: the engine never merges text; clients converge by
// applying accepted ops in the order they are broadcast.
//
// onAccept, when non-nil, is invoked with the new version while the document
// is still held, so the caller can enqueue the broadcast before any later
// edit to the same document can overtake it.
func (e *Engine) ApplyChange(op models.ChangeOperation, onAccept func(version int64)) (int64, error) {
	if !e.members.IsMember(op.RoomID, op.UserID) {
		return 0, ErrNotAMember
	}

	d := e.getOrCreate(op.DocumentID, op.RoomID)
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.roomID != op.RoomID {
		// The document id is bound to the room it was first used in.
		return 0, ErrNotAMember
	}
	if d.lockOwner != "" && d.lockOwner != op.UserID {
		return 0, &LockedError{By: d.lockOwner}
	}

	d.version++
	if onAccept != nil {
		onAccept(d.version)
	}
	return d.version, nil
}

// Lock acquires the advisory lock. Re-locking a document one already holds
// succeeds. A lock held by anyone else fails with LockedError.
func (e *Engine) Lock(documentID, roomID, userID string) error {
	if !e.members.IsMember(roomID, userID) {
		return ErrNotAMember
	}

	d := e.getOrCreate(documentID, roomID)
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.roomID != roomID {
		return ErrNotAMember
	}
	if d.lockOwner != "" && d.lockOwner != userID {
		return &LockedError{By: d.lockOwner}
	}
	d.lockOwner = userID
	return nil
}

// Unlock releases the advisory lock. Only the holder may release it, and
// the named room must be the one the document is bound to; otherwise the
// lock stays held.
func (e *Engine) Unlock(documentID, roomID, userID string) error {
	d := e.get(documentID)
	if d == nil {
		return ErrNotLockOwner
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.roomID != roomID {
		return ErrNotAMember
	}
	if d.lockOwner != userID {
		return ErrNotLockOwner
	}
	d.lockOwner = ""
	return nil
}

// ReleaseUserLocks drops every lock the user holds on documents in the room
// and returns the affected document ids. Called on leave and on disconnect;
// the two must behave identically so locks can never be stranded.
func (e *Engine) ReleaseUserLocks(roomID, userID string) []string {
	var released []string
	for _, d := range e.roomDocs(roomID) {
		d.mu.Lock()
		if d.lockOwner == userID {
			d.lockOwner = ""
			released = append(released, d.id)
		}
		d.mu.Unlock()
	}
	return released
}

// UpdateCursor replaces the user's cursor position. Pure state replace,
// always succeeds.
func (e *Engine) UpdateCursor(documentID, roomID, userID string, pos models.Position) {
	d := e.getOrCreate(documentID, roomID)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursors[userID] = pos
}

// UpdateSelection replaces the user's selection range. Pure state replace,
// always succeeds.
func (e *Engine) UpdateSelection(documentID, roomID, userID string, r models.Range) {
	d := e.getOrCreate(documentID, roomID)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selections[userID] = r
}

// ClearUserState removes the user's cursor and selection from every document
// in the room. Called on leave and disconnect.
func (e *Engine) ClearUserState(roomID, userID string) {
	for _, d := range e.roomDocs(roomID) {
		d.mu.Lock()
		delete(d.cursors, userID)
		delete(d.selections, userID)
		d.mu.Unlock()
	}
}

func (e *Engine) Version(documentID string) int64 {
	d := e.get(documentID)
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

func (e *Engine) LockOwner(documentID string) string {
	d := e.get(documentID)
	if d == nil {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lockOwner
}

func (e *Engine) Cursor(documentID, userID string) (models.Position, bool) {
	d := e.get(documentID)
	if d == nil {
		return models.Position{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	pos, ok := d.cursors[userID]
	return pos, ok
}

func (e *Engine) Selection(documentID, userID string) (models.Range, bool) {
	d := e.get(documentID)
	if d == nil {
		return models.Range{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.selections[userID]
	return r, ok
}

func (e *Engine) get(documentID string) *document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.docs[documentID]
}

func (e *Engine) getOrCreate(documentID, roomID string) *document {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.docs[documentID]
	if !ok {
		d = &document{
			id:         documentID,
			roomID:     roomID,
			cursors:    make(map[string]models.Position),
			selections: make(map[string]models.Range),
		}
		e.docs[documentID] = d
	}
	return d
}

func (e *Engine) roomDocs(roomID string) []*document {
	e.mu.Lock()
	defer e.mu.Unlock()

	var docs []*document
	for _, d := range e.docs {
		if d.roomID == roomID {
			docs = append(docs, d)
		}
	}
	return docs
}
