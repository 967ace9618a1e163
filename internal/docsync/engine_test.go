package docsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-app/internal/models"
	"collab-app/internal/presence"
	"collab-app/internal/rooms"
)

func newEngine(t *testing.T, members ...string) (*Engine, *rooms.Registry) {
	t.Helper()
	reg := rooms.NewRegistry(presence.NewTracker(time.Minute))
	_, err := reg.Create("r1", "test", "owner")
	require.NoError(t, err)
	for _, m := range members {
		_, _, err := reg.Join("r1", m)
		require.NoError(t, err)
	}
	return NewEngine(reg), reg
}

func change(docID, userID string) models.ChangeOperation {
	return models.ChangeOperation{
		ID:         "op",
		DocumentID: docID,
		RoomID:     "r1",
		UserID:     userID,
		Range: models.Range{
			Start: models.Position{Line: 1, Column: 1},
			End:   models.Position{Line: 1, Column: 1},
		},
		Text:      "x",
		Timestamp: time.Now(),
	}
}

func TestApplyChangeIncrementsVersion(t *testing.T) {
	engine, _ := newEngine(t, "alice")

	for want := int64(1); want <= 5; want++ {
		v, err := engine.ApplyChange(change("d1", "alice"), nil)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	assert.Equal(t, int64(5), engine.Version("d1"))
}

func TestApplyChangeRejectsNonMember(t *testing.T) {
	engine, _ := newEngine(t, "alice")

	_, err := engine.ApplyChange(change("d1", "mallory"), nil)
	assert.ErrorIs(t, err, ErrNotAMember)
	assert.Equal(t, int64(0), engine.Version("d1"), "rejected ops must not bump the version")
}

func TestApplyChangeRejectsWhenLocked(t *testing.T) {
	engine, _ := newEngine(t, "alice", "bob")

	require.NoError(t, engine.Lock("d1", "r1", "alice"))

	_, err := engine.ApplyChange(change("d1", "bob"), nil)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "alice", locked.By)
	assert.Equal(t, int64(0), engine.Version("d1"))

	// The lock owner can still edit.
	v, err := engine.ApplyChange(change("d1", "alice"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestOnAcceptSeesVersionsInOrder(t *testing.T) {
	engine, _ := newEngine(t, "alice", "bob")

	var mu sync.Mutex
	var seen []int64
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		for _, user := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				engine.ApplyChange(change("d1", user), func(v int64) {
					mu.Lock()
					seen = append(seen, v)
					mu.Unlock()
				})
			}(user)
		}
	}
	wg.Wait()

	require.Len(t, seen, 50)
	for i, v := range seen {
		assert.Equal(t, int64(i+1), v, "versions observed under the document lock are strictly increasing by 1")
	}
}

func TestDocumentsAreIndependent(t *testing.T) {
	engine, _ := newEngine(t, "alice")

	_, err := engine.ApplyChange(change("d1", "alice"), nil)
	require.NoError(t, err)
	v, err := engine.ApplyChange(change("d2", "alice"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestDocumentBoundToFirstRoom(t *testing.T) {
	engine, reg := newEngine(t, "alice")
	_, err := reg.Create("r2", "other", "owner")
	require.NoError(t, err)
	_, _, err = reg.Join("r2", "alice")
	require.NoError(t, err)

	_, err = engine.ApplyChange(change("d1", "alice"), nil)
	require.NoError(t, err)

	op := change("d1", "alice")
	op.RoomID = "r2"
	_, err = engine.ApplyChange(op, nil)
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestLockExclusivity(t *testing.T) {
	engine, _ := newEngine(t, "alice", "bob")

	require.NoError(t, engine.Lock("d1", "r1", "alice"))
	assert.Equal(t, "alice", engine.LockOwner("d1"))

	// Re-lock by the holder succeeds.
	require.NoError(t, engine.Lock("d1", "r1", "alice"))

	var locked *LockedError
	err := engine.Lock("d1", "r1", "bob")
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "alice", locked.By)
}

func TestLockRequiresMembership(t *testing.T) {
	engine, _ := newEngine(t, "alice")
	assert.ErrorIs(t, engine.Lock("d1", "r1", "mallory"), ErrNotAMember)
}

func TestUnlock(t *testing.T) {
	engine, _ := newEngine(t, "alice", "bob")

	require.NoError(t, engine.Lock("d1", "r1", "alice"))
	assert.ErrorIs(t, engine.Unlock("d1", "r1", "bob"), ErrNotLockOwner)
	assert.ErrorIs(t, engine.Unlock("unknown", "r1", "alice"), ErrNotLockOwner)

	require.NoError(t, engine.Unlock("d1", "r1", "alice"))
	assert.Empty(t, engine.LockOwner("d1"))

	// Once released, anyone in the room can take it.
	require.NoError(t, engine.Lock("d1", "r1", "bob"))
}

func TestUnlockWrongRoomKeepsLock(t *testing.T) {
	engine, reg := newEngine(t, "alice")
	_, err := reg.Create("r2", "other", "alice")
	require.NoError(t, err)
	_, _, err = reg.Join("r2", "alice")
	require.NoError(t, err)

	require.NoError(t, engine.Lock("d1", "r1", "alice"))
	assert.ErrorIs(t, engine.Unlock("d1", "r2", "alice"), ErrNotAMember)
	assert.Equal(t, "alice", engine.LockOwner("d1"), "lock survives an unlock naming the wrong room")

	// Lock is bound to the first room too.
	assert.ErrorIs(t, engine.Lock("d1", "r2", "alice"), ErrNotAMember)
}

func TestReleaseUserLocks(t *testing.T) {
	engine, _ := newEngine(t, "alice", "bob")

	require.NoError(t, engine.Lock("d1", "r1", "alice"))
	require.NoError(t, engine.Lock("d2", "r1", "alice"))
	require.NoError(t, engine.Lock("d3", "r1", "bob"))

	released := engine.ReleaseUserLocks("r1", "alice")
	assert.ElementsMatch(t, []string{"d1", "d2"}, released)
	assert.Empty(t, engine.LockOwner("d1"))
	assert.Equal(t, "bob", engine.LockOwner("d3"), "other users' locks survive")

	// A later lock attempt by another user succeeds.
	require.NoError(t, engine.Lock("d1", "r1", "bob"))
}

func TestCursorAndSelectionState(t *testing.T) {
	engine, _ := newEngine(t, "alice")

	pos := models.Position{Line: 3, Column: 7}
	engine.UpdateCursor("d1", "r1", "alice", pos)
	got, ok := engine.Cursor("d1", "alice")
	require.True(t, ok)
	assert.Equal(t, pos, got)

	// Overwritten in place on every update.
	pos2 := models.Position{Line: 4, Column: 1}
	engine.UpdateCursor("d1", "r1", "alice", pos2)
	got, _ = engine.Cursor("d1", "alice")
	assert.Equal(t, pos2, got)

	sel := models.Range{Start: models.Position{Line: 1, Column: 1}, End: models.Position{Line: 2, Column: 5}}
	engine.UpdateSelection("d1", "r1", "alice", sel)
	gotSel, ok := engine.Selection("d1", "alice")
	require.True(t, ok)
	assert.Equal(t, sel, gotSel)

	engine.ClearUserState("r1", "alice")
	_, ok = engine.Cursor("d1", "alice")
	assert.False(t, ok)
	_, ok = engine.Selection("d1", "alice")
	assert.False(t, ok)
}
