package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanctumlive/sanctum/internal/core"
	"github.com/sanctumlive/sanctum/internal/domain"
)

func TestModerationTransitions(t *testing.T) {
	t.Run("sanctions only move forward", func(t *testing.T) {
		m := core.NewModerationLog()

		st, err := m.Apply("host", "p-1", domain.ActionWarn, "spam", 1, "")
		require.NoError(t, err)
		assert.Equal(t, domain.ModWarned, st)

		st, err = m.Apply("host", "p-1", domain.ActionMute, "spam", 2, "")
		require.NoError(t, err)
		assert.Equal(t, domain.ModMuted, st)

		// warn after mute is not in the graph
		_, err = m.Apply("host", "p-1", domain.ActionWarn, "spam", 1, "")
		assert.ErrorIs(t, err, core.ErrInvalidTransition)
	})

	t.Run("unmute returns to clear", func(t *testing.T) {
		m := core.NewModerationLog()
		_, err := m.Apply("host", "p-1", domain.ActionMute, "noise", 1, "")
		require.NoError(t, err)

		st, err := m.Apply("host", "p-1", domain.ActionUnmute, "", 0, "")
		require.NoError(t, err)
		assert.Equal(t, domain.ModClear, st)
	})

	t.Run("banned is terminal", func(t *testing.T) {
		m := core.NewModerationLog()
		_, err := m.Apply("host", "p-1", domain.ActionBan, "abuse", 5, "")
		require.NoError(t, err)
		assert.True(t, m.IsBanned("p-1"))

		for _, action := range []domain.ModAction{domain.ActionWarn, domain.ActionMute, domain.ActionUnmute, domain.ActionClear, domain.ActionKick, domain.ActionBan} {
			_, err := m.Apply("host", "p-1", action, "", 0, "")
			assert.ErrorIs(t, err, core.ErrInvalidTransition, string(action))
		}
	})

	t.Run("kicked participant can be sanctioned again after rejoin", func(t *testing.T) {
		m := core.NewModerationLog()
		_, err := m.Apply("host", "p-1", domain.ActionKick, "spam", 3, "")
		require.NoError(t, err)

		st, err := m.Apply("host", "p-1", domain.ActionBan, "spam", 5, "")
		require.NoError(t, err)
		assert.Equal(t, domain.ModBanned, st)
	})
}

func TestModerationAuthorize(t *testing.T) {
	m := core.NewModerationLog()

	t.Run("listener and speaker may not moderate", func(t *testing.T) {
		assert.False(t, m.Authorize(domain.RoleListener, domain.RoleListener, domain.ActionMute))
		assert.False(t, m.Authorize(domain.RoleSpeaker, domain.RoleListener, domain.ActionWarn))
	})

	t.Run("moderator may not sanction the host", func(t *testing.T) {
		assert.False(t, m.Authorize(domain.RoleModerator, domain.RoleHost, domain.ActionMute))
		assert.True(t, m.Authorize(domain.RoleHost, domain.RoleHost, domain.ActionMute))
	})

	t.Run("only host bans a moderator", func(t *testing.T) {
		assert.False(t, m.Authorize(domain.RoleModerator, domain.RoleModerator, domain.ActionBan))
		assert.True(t, m.Authorize(domain.RoleHost, domain.RoleModerator, domain.ActionBan))
		assert.True(t, m.Authorize(domain.RoleModerator, domain.RoleListener, domain.ActionBan))
	})
}

func TestModerationAuditLog(t *testing.T) {
	t.Run("every transition appends one flag", func(t *testing.T) {
		m := core.NewModerationLog()
		_, _ = m.Apply("host", "p-1", domain.ActionWarn, "spam", 1, "first warning")
		_, _ = m.Apply("host", "p-1", domain.ActionMute, "spam", 2, "")
		_, _ = m.Apply("mod", "p-2", domain.ActionKick, "abuse", 4, "")

		flags := m.Flags()
		require.Len(t, flags, 3)
		assert.Equal(t, domain.ActionWarn, flags[0].Action)
		assert.Equal(t, "first warning", flags[0].Reason)
		assert.Equal(t, domain.ParticipantID("p-2"), flags[2].Target)
	})

	t.Run("rejected transitions append nothing", func(t *testing.T) {
		m := core.NewModerationLog()
		_, err := m.Apply("host", "p-1", domain.ActionUnmute, "", 0, "")
		assert.ErrorIs(t, err, core.ErrInvalidTransition)
		assert.Empty(t, m.Flags())
	})

	t.Run("flags are copied out", func(t *testing.T) {
		m := core.NewModerationLog()
		_, _ = m.Apply("host", "p-1", domain.ActionWarn, "spam", 1, "")
		flags := m.Flags()
		flags[0].Reason = "tampered"
		assert.Empty(t, m.Flags()[0].Reason)
	})
}
