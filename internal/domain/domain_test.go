package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAlias(t *testing.T) {
	assert.NoError(t, ValidateAlias("Alice"))
	assert.NoError(t, ValidateAlias(strings.Repeat("x", MaxAliasLen)))
	assert.ErrorIs(t, ValidateAlias(""), ErrAliasEmpty)
	assert.ErrorIs(t, ValidateAlias(strings.Repeat("x", MaxAliasLen+1)), ErrAliasTooLong)
}

func TestRoleCanModerate(t *testing.T) {
	assert.True(t, RoleHost.CanModerate())
	assert.True(t, RoleModerator.CanModerate())
	assert.False(t, RoleSpeaker.CanModerate())
	assert.False(t, RoleListener.CanModerate())
}

func TestSessionStatusOrder(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		ok       bool
	}{
		{SessionPending, SessionActive, true},
		{SessionActive, SessionEnding, true},
		{SessionEnding, SessionEnded, true},
		{SessionPending, SessionEnded, true},
		{SessionEnded, SessionActive, false},
		{SessionActive, SessionPending, false},
		{SessionActive, SessionActive, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanAdvanceTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestNewSessionDefaults(t *testing.T) {
	s := NewSession(SessionConfig{HostID: "host", Title: "quiet hour", TTL: time.Hour})
	require.NotEmpty(t, s.ID)
	assert.Equal(t, SessionPending, s.Status)
	assert.Equal(t, ModerationStandard, s.ModerationLevel)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.ExpiresAt, time.Minute)
}

func TestNewBreakoutRoomNameTruncation(t *testing.T) {
	long := strings.Repeat("r", MaxAliasLen+10)
	room := NewBreakoutRoom("s-1", RoomName(long), 4, false)
	assert.Len(t, string(room.Name), MaxAliasLen)
	assert.Equal(t, 4, room.Capacity)
}
