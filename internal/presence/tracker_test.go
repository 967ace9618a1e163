package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-app/internal/models"
)

func TestMarkOnlineCreatesState(t *testing.T) {
	tracker := NewTracker(time.Minute)
	tracker.MarkOnline("u1", "r1")

	status, ok := tracker.Status("u1")
	require.True(t, ok)
	assert.Equal(t, models.StatusOnline, status)
	assert.Contains(t, tracker.OnlineUsers("r1"), "u1")
	assert.NotEmpty(t, tracker.Color("u1"))
}

func TestColorIsStablePerUser(t *testing.T) {
	tracker := NewTracker(time.Minute)
	tracker.MarkOnline("u1", "r1")

	first := tracker.Color("u1")
	tracker.MarkOnline("u1", "r2")
	assert.Equal(t, first, tracker.Color("u1"))
}

func TestMarkOfflineEvictsWhenLastRoom(t *testing.T) {
	tracker := NewTracker(time.Minute)
	tracker.MarkOnline("u1", "r1")
	tracker.MarkOnline("u1", "r2")

	tracker.MarkOffline("u1", "r1")
	_, ok := tracker.Status("u1")
	assert.True(t, ok, "user still present in r2")

	tracker.MarkOffline("u1", "r2")
	_, ok = tracker.Status("u1")
	assert.False(t, ok, "user fully evicted after leaving all rooms")
	assert.Empty(t, tracker.OnlineUsers("r2"))
}

func TestInactivityTransition(t *testing.T) {
	tracker := NewTracker(1000 * time.Millisecond)
	base := time.Now()
	tracker.now = func() time.Time { return base }
	tracker.MarkOnline("u1", "r1")

	// No activity for 1100ms: one sweep reports the transition exactly once.
	inactive := tracker.CheckInactive(base.Add(1100 * time.Millisecond))
	require.Equal(t, []string{"u1"}, inactive)

	status, _ := tracker.Status("u1")
	assert.Equal(t, models.StatusInactive, status)

	// A second sweep must not report the same user again.
	inactive = tracker.CheckInactive(base.Add(1200 * time.Millisecond))
	assert.Empty(t, inactive)

	// Activity flips the user straight back to online.
	reactivated := tracker.MarkActivity("u1")
	assert.True(t, reactivated)
	status, _ = tracker.Status("u1")
	assert.Equal(t, models.StatusOnline, status)

	// Further activity while online is not a transition.
	assert.False(t, tracker.MarkActivity("u1"))
}

func TestSweepSkipsActiveUsers(t *testing.T) {
	tracker := NewTracker(time.Second)
	base := time.Now()
	tracker.now = func() time.Time { return base }
	tracker.MarkOnline("idle", "r1")

	tracker.now = func() time.Time { return base.Add(900 * time.Millisecond) }
	tracker.MarkOnline("busy", "r1")

	inactive := tracker.CheckInactive(base.Add(1100 * time.Millisecond))
	assert.Equal(t, []string{"idle"}, inactive)
}

func TestTypingIsRelayedNotTimedOut(t *testing.T) {
	tracker := NewTracker(time.Minute)
	tracker.MarkOnline("u1", "r1")

	tracker.SetTyping("u1", "r1", true)
	assert.True(t, tracker.IsTyping("u1", "r1"))
	assert.False(t, tracker.IsTyping("u1", "r2"))

	tracker.SetTyping("u1", "r1", false)
	assert.False(t, tracker.IsTyping("u1", "r1"))
}

func TestSetTypingUnknownUserIsNoop(t *testing.T) {
	tracker := NewTracker(time.Minute)
	tracker.SetTyping("ghost", "r1", true)
	assert.False(t, tracker.IsTyping("ghost", "r1"))
}

func TestRooms(t *testing.T) {
	tracker := NewTracker(time.Minute)
	tracker.MarkOnline("u1", "r1")
	tracker.MarkOnline("u1", "r2")

	assert.ElementsMatch(t, []string{"r1", "r2"}, tracker.Rooms("u1"))
	assert.Nil(t, tracker.Rooms("ghost"))
}
