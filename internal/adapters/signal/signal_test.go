package signal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanctumlive/sanctum/internal/app"
	"github.com/sanctumlive/sanctum/internal/core"
	"github.com/sanctumlive/sanctum/internal/domain"
)

var streamLiveness = core.LivenessConfig{
	HeartbeatTimeout: time.Minute,
	GracePeriod:      time.Minute,
	TickInterval:     time.Hour,
}

type streamFixture struct {
	ctl      *StreamController
	sessions *app.SessionRegistry
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	dispatcher := app.NewDispatcher(16, nil)
	sessions := app.NewSessionRegistry(ctx, dispatcher, streamLiveness)
	return &streamFixture{
		ctl:      NewStreamController(sessions, dispatcher, nil, nil),
		sessions: sessions,
	}
}

// newConn builds a socketless connection; handlers only touch the send
// queue, so no websocket is needed.
func (f *streamFixture) newConn(t *testing.T, pid string) *streamConn {
	t.Helper()
	c := &streamConn{
		send:          make(chan Frame, 32),
		participantID: domain.ParticipantID(pid),
		connectionID:  domain.ConnectionID(pid + "-conn"),
	}
	t.Cleanup(func() {
		// Invalidate the forwarder generation before dropping the
		// subscription so nothing tries to close the absent websocket.
		c.setSession("")
		f.ctl.Dispatcher.Unsubscribe(c.connectionID)
	})
	return c
}

func readFrame(t *testing.T, c *streamConn) map[string]any {
	t.Helper()
	select {
	case raw := <-c.send:
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no frame on the socket queue")
		return nil
	}
}

func joinEnvelope(sid domain.SessionID, alias string) Envelope {
	payload, _ := json.Marshal(map[string]string{"alias": alias})
	return Envelope{Type: "join", SessionID: string(sid), Payload: payload, ClientSeq: 1}
}

func (f *streamFixture) createSession(t *testing.T) *core.Actor {
	t.Helper()
	actor, err := f.sessions.Create(domain.SessionConfig{HostID: "host", Title: "quiet hour", TTL: time.Hour})
	require.NoError(t, err)
	return actor
}

func TestHandleJoin(t *testing.T) {
	t.Run("the joiner's own event is never lost", func(t *testing.T) {
		f := newStreamFixture(t)
		actor := f.createSession(t)
		sid := actor.Session().ID

		c := f.newConn(t, "p-1")
		f.ctl.handleJoin(c, joinEnvelope(sid, "Alice"))

		// The subscription is registered before the join command runs, so
		// the join's own participant_joined follows the direct reply
		// instead of falling into a pre-subscription gap.
		first := readFrame(t, c)
		assert.Equal(t, "joined", first["type"])
		second := readFrame(t, c)
		assert.Equal(t, string(core.EventParticipantJoined), second["type"])

		_, err := actor.Join(core.JoinRequest{ParticipantID: "p-2", ConnectionID: "x", Alias: "Bob"})
		require.NoError(t, err)
		third := readFrame(t, c)
		assert.Equal(t, string(core.EventParticipantJoined), third["type"])

		assert.Equal(t, 1, f.ctl.Dispatcher.SubscriberCount(sid))
	})

	t.Run("a rejected join leaves no subscription behind", func(t *testing.T) {
		f := newStreamFixture(t)
		actor := f.createSession(t)
		sid := actor.Session().ID

		c := f.newConn(t, "p-1")
		f.ctl.handleJoin(c, joinEnvelope(sid, ""))

		frame := readFrame(t, c)
		assert.Equal(t, "error", frame["type"])
		assert.Equal(t, "bad_alias", frame["error"])
		assert.Equal(t, 0, f.ctl.Dispatcher.SubscriberCount(sid))
		assert.Empty(t, c.session())
	})
}

func TestHandleJoinBreakoutChild(t *testing.T) {
	setup := func(t *testing.T) (*streamFixture, *core.Actor, domain.BreakoutRoom) {
		f := newStreamFixture(t)
		parent := f.createSession(t)
		_, err := parent.Join(core.JoinRequest{ParticipantID: "host", ConnectionID: "h0", Alias: "Host"})
		require.NoError(t, err)
		_, err = parent.Join(core.JoinRequest{ParticipantID: "p-1", ConnectionID: "a0", Alias: "Alice"})
		require.NoError(t, err)
		room, err := parent.CreateRoom("host", "corner", 4, false)
		require.NoError(t, err)
		require.NotEmpty(t, room.SessionID)
		return f, parent, room
	}

	t.Run("a moved participant subscribes to the room stream", func(t *testing.T) {
		f, parent, room := setup(t)
		require.NoError(t, parent.MoveToRoom("p-1", room.ID))

		c := f.newConn(t, "p-1")
		f.ctl.handleJoin(c, joinEnvelope(room.SessionID, "Alice"))
		assert.Equal(t, "joined", readFrame(t, c)["type"])
	})

	t.Run("a participant outside the room is rejected", func(t *testing.T) {
		f, _, room := setup(t)

		c := f.newConn(t, "p-1")
		f.ctl.handleJoin(c, joinEnvelope(room.SessionID, "Alice"))

		frame := readFrame(t, c)
		assert.Equal(t, "error", frame["type"])
		assert.Equal(t, "not_authorized", frame["error"])
		assert.Equal(t, 0, f.ctl.Dispatcher.SubscriberCount(room.SessionID))
	})

	t.Run("the host may attach without being moved", func(t *testing.T) {
		f, _, room := setup(t)

		c := f.newConn(t, "host")
		f.ctl.handleJoin(c, joinEnvelope(room.SessionID, "Host"))
		assert.Equal(t, "joined", readFrame(t, c)["type"])
	})
}
