package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanctumlive/sanctum/internal/core"
	"github.com/sanctumlive/sanctum/internal/domain"
)

func (f *actorFixture) createRoom(t *testing.T, by domain.ParticipantID, name string, capacity int, private bool) domain.BreakoutRoom {
	t.Helper()
	room, err := f.actor.CreateRoom(by, domain.RoomName(name), capacity, private)
	require.NoError(t, err)
	return room
}

func TestBreakoutCreate(t *testing.T) {
	t.Run("listener cannot create rooms", func(t *testing.T) {
		f := newActorFixture(t, 0)
		f.join(t, "p-1", "s1", "Alice")

		_, err := f.actor.CreateRoom("p-1", "corner", 4, false)
		assert.ErrorIs(t, err, core.ErrForbidden)
	})

	t.Run("host creates and the room is announced", func(t *testing.T) {
		f := newActorFixture(t, 0)
		f.join(t, "host", "s0", "Host")

		room := f.createRoom(t, "host", "corner", 4, false)
		assert.NotEmpty(t, room.ID)
		assert.Len(t, f.sink.OfType(core.EventBreakoutCreated), 1)
	})
}

func TestBreakoutMove(t *testing.T) {
	t.Run("occupant is never absent from every room", func(t *testing.T) {
		f := newActorFixture(t, 0)
		f.join(t, "host", "s0", "Host")
		f.join(t, "p-1", "s1", "Alice")
		a := f.createRoom(t, "host", "a", 0, false)
		b := f.createRoom(t, "host", "b", 0, false)

		require.NoError(t, f.actor.MoveToRoom("p-1", a.ID))
		require.NoError(t, f.actor.MoveToRoom("p-1", b.ID))

		roomID, ok := f.actor.RoomOf("p-1")
		require.True(t, ok)
		assert.Equal(t, b.ID, roomID)

		snap, err := f.actor.Snapshot()
		require.NoError(t, err)
		for _, rs := range snap.Rooms {
			if rs.Room.ID == a.ID {
				assert.Empty(t, rs.Participants)
			}
		}
	})

	t.Run("full room rejects the move and the origin keeps the member", func(t *testing.T) {
		f := newActorFixture(t, 0)
		f.join(t, "host", "s0", "Host")
		f.join(t, "p-1", "s1", "Alice")
		f.join(t, "p-2", "s2", "Bob")
		room := f.createRoom(t, "host", "tiny", 1, false)

		require.NoError(t, f.actor.MoveToRoom("p-1", room.ID))
		err := f.actor.MoveToRoom("p-2", room.ID)
		assert.ErrorIs(t, err, core.ErrRoomFull)

		_, ok := f.actor.RoomOf("p-2")
		assert.False(t, ok)
	})

	t.Run("private room requires an invite", func(t *testing.T) {
		f := newActorFixture(t, 0)
		f.join(t, "host", "s0", "Host")
		f.join(t, "p-1", "s1", "Alice")
		room := f.createRoom(t, "host", "backstage", 0, true)

		err := f.actor.MoveToRoom("p-1", room.ID)
		assert.ErrorIs(t, err, core.ErrNotAuthorized)

		require.NoError(t, f.actor.InviteToRoom("host", room.ID, "p-1"))
		assert.NoError(t, f.actor.MoveToRoom("p-1", room.ID))
	})

	t.Run("moderators enter private rooms uninvited", func(t *testing.T) {
		f := newActorFixture(t, 0)
		f.join(t, "host", "s0", "Host")
		f.join(t, "p-1", "s1", "Alice")
		require.NoError(t, f.actor.Promote("host", "p-1", domain.RoleModerator))
		room := f.createRoom(t, "host", "backstage", 0, true)

		assert.NoError(t, f.actor.MoveToRoom("p-1", room.ID))
	})

	t.Run("empty room id returns to the main floor", func(t *testing.T) {
		f := newActorFixture(t, 0)
		f.join(t, "host", "s0", "Host")
		f.join(t, "p-1", "s1", "Alice")
		room := f.createRoom(t, "host", "corner", 0, false)
		require.NoError(t, f.actor.MoveToRoom("p-1", room.ID))

		require.NoError(t, f.actor.MoveToRoom("p-1", ""))
		_, ok := f.actor.RoomOf("p-1")
		assert.False(t, ok)
	})

	t.Run("move into the current room is a no-op", func(t *testing.T) {
		f := newActorFixture(t, 0)
		f.join(t, "host", "s0", "Host")
		f.join(t, "p-1", "s1", "Alice")
		room := f.createRoom(t, "host", "corner", 0, false)
		require.NoError(t, f.actor.MoveToRoom("p-1", room.ID))
		moved := len(f.sink.OfType(core.EventBreakoutMoved))

		require.NoError(t, f.actor.MoveToRoom("p-1", room.ID))
		assert.Len(t, f.sink.OfType(core.EventBreakoutMoved), moved)
	})
}

func TestBreakoutClose(t *testing.T) {
	t.Run("close returns occupants to the main floor", func(t *testing.T) {
		f := newActorFixture(t, 0)
		f.join(t, "host", "s0", "Host")
		f.join(t, "p-1", "s1", "Alice")
		f.join(t, "p-2", "s2", "Bob")
		room := f.createRoom(t, "host", "corner", 0, false)
		require.NoError(t, f.actor.MoveToRoom("p-1", room.ID))
		require.NoError(t, f.actor.MoveToRoom("p-2", room.ID))

		require.NoError(t, f.actor.CloseRoom("host", room.ID))

		_, ok := f.actor.RoomOf("p-1")
		assert.False(t, ok)
		_, ok = f.actor.RoomOf("p-2")
		assert.False(t, ok)
		assert.Len(t, f.sink.OfType(core.EventBreakoutClosed), 1)

		snap, err := f.actor.Snapshot()
		require.NoError(t, err)
		assert.Empty(t, snap.Rooms)
		assert.Len(t, snap.Roster, 3)
	})

	t.Run("closing an unknown room is not found", func(t *testing.T) {
		f := newActorFixture(t, 0)
		f.join(t, "host", "s0", "Host")

		err := f.actor.CloseRoom("host", "no-such-room")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestBreakoutChildActor(t *testing.T) {
	t.Run("spawned child tracks room membership", func(t *testing.T) {
		parent := newActorFixture(t, 0)

		children := make(map[domain.SessionID]*actorFixture)
		parent.actor.Spawn = func(cfg domain.SessionConfig) (*core.Actor, error) {
			child := newActorFixture(t, cfg.MaxParticipants)
			children[child.actor.Session().ID] = child
			return child.actor, nil
		}

		parent.join(t, "host", "s0", "Host")
		parent.join(t, "p-1", "s1", "Alice")
		room := parent.createRoom(t, "host", "corner", 0, false)
		require.Len(t, children, 1)
		var child *actorFixture
		for _, c := range children {
			child = c
		}

		require.NoError(t, parent.actor.MoveToRoom("p-1", room.ID))
		assert.Eventually(t, func() bool {
			return len(rosterIDs(t, child.actor)) == 1
		}, 2*time.Second, 10*time.Millisecond, "child roster should pick up the moved participant")

		require.NoError(t, parent.actor.MoveToRoom("p-1", ""))
		assert.Eventually(t, func() bool {
			return len(rosterIDs(t, child.actor)) == 0
		}, 2*time.Second, 10*time.Millisecond, "child roster should drop the returned participant")
	})

	t.Run("room metadata names the child session", func(t *testing.T) {
		parent := newActorFixture(t, 0)
		var child *actorFixture
		parent.actor.Spawn = func(cfg domain.SessionConfig) (*core.Actor, error) {
			child = newActorFixture(t, cfg.MaxParticipants)
			return child.actor, nil
		}
		parent.join(t, "host", "s0", "Host")

		room := parent.createRoom(t, "host", "corner", 0, false)
		require.NotNil(t, child)
		assert.Equal(t, child.actor.Session().ID, room.SessionID, "clients subscribe to the room by its session id")

		created := parent.sink.OfType(core.EventBreakoutCreated)
		require.Len(t, created, 1)
		meta, ok := created[0].Payload.(domain.BreakoutRoom)
		require.True(t, ok)
		assert.Equal(t, child.actor.Session().ID, meta.SessionID)
	})

	t.Run("move broadcast carries the destination session", func(t *testing.T) {
		parent := newActorFixture(t, 0)
		var child *actorFixture
		parent.actor.Spawn = func(cfg domain.SessionConfig) (*core.Actor, error) {
			child = newActorFixture(t, cfg.MaxParticipants)
			return child.actor, nil
		}
		parent.join(t, "host", "s0", "Host")
		parent.join(t, "p-1", "s1", "Alice")
		room := parent.createRoom(t, "host", "corner", 0, false)

		require.NoError(t, parent.actor.MoveToRoom("p-1", room.ID))
		moved := parent.sink.OfType(core.EventBreakoutMoved)
		require.Len(t, moved, 1)
		payload, ok := moved[0].Payload.(map[string]string)
		require.True(t, ok)
		assert.Equal(t, string(child.actor.Session().ID), payload["to_session_id"])

		require.NoError(t, parent.actor.MoveToRoom("p-1", ""))
		moved = parent.sink.OfType(core.EventBreakoutMoved)
		require.Len(t, moved, 2)
		payload, ok = moved[1].Payload.(map[string]string)
		require.True(t, ok)
		assert.Empty(t, payload["to_session_id"])
	})
}
