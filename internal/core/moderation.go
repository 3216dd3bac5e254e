package core

import (
	"time"

	"github.com/sanctumlive/sanctum/internal/domain"
)

// modTransitions is the forward-only sanction graph. clear-direction moves
// are listed explicitly: unmute (muted → clear) and clear (warned → clear).
var modTransitions = map[domain.ModState]map[domain.ModAction]domain.ModState{
	domain.ModClear: {
		domain.ActionWarn: domain.ModWarned,
		domain.ActionMute: domain.ModMuted,
		domain.ActionKick: domain.ModKicked,
		domain.ActionBan:  domain.ModBanned,
	},
	domain.ModWarned: {
		domain.ActionWarn:  domain.ModWarned,
		domain.ActionMute:  domain.ModMuted,
		domain.ActionClear: domain.ModClear,
		domain.ActionKick:  domain.ModKicked,
		domain.ActionBan:   domain.ModBanned,
	},
	domain.ModMuted: {
		domain.ActionUnmute: domain.ModClear,
		domain.ActionKick:   domain.ModKicked,
		domain.ActionBan:    domain.ModBanned,
	},
	// A kicked participant may rejoin; sanctions resume from where they were.
	domain.ModKicked: {
		domain.ActionWarn: domain.ModWarned,
		domain.ActionMute: domain.ModMuted,
		domain.ActionKick: domain.ModKicked,
		domain.ActionBan:  domain.ModBanned,
	},
	domain.ModBanned: {},
}

// ModerationLog is the Moderation & Safety state machine plus its
// append-only audit trail. Owned by the session run loop.
type ModerationLog struct {
	states map[domain.ParticipantID]domain.ModState
	flags  []domain.ModerationFlag
	alerts []domain.EmergencyAlert
	now    func() time.Time
}

func NewModerationLog() *ModerationLog {
	return &ModerationLog{
		states: make(map[domain.ParticipantID]domain.ModState),
		now:    time.Now,
	}
}

func (m *ModerationLog) State(id domain.ParticipantID) domain.ModState {
	if s, ok := m.states[id]; ok {
		return s
	}
	return domain.ModClear
}

func (m *ModerationLog) IsBanned(id domain.ParticipantID) bool {
	return m.State(id) == domain.ModBanned
}

// Authorize is the single role check every mutating moderation command goes
// through. Moderators may not sanction the host; only the host bans a
// moderator.
func (m *ModerationLog) Authorize(actorRole, targetRole domain.Role, action domain.ModAction) bool {
	if !actorRole.CanModerate() {
		return false
	}
	if targetRole == domain.RoleHost && actorRole != domain.RoleHost {
		return false
	}
	if action == domain.ActionBan && targetRole == domain.RoleModerator && actorRole != domain.RoleHost {
		return false
	}
	return true
}

// Apply advances the target's sanction state and appends one audit record.
func (m *ModerationLog) Apply(issuedBy, target domain.ParticipantID, action domain.ModAction, flagType string, severity int, reason string) (domain.ModState, error) {
	next, ok := modTransitions[m.State(target)][action]
	if !ok {
		return m.State(target), ErrInvalidTransition
	}
	m.states[target] = next
	m.flags = append(m.flags, domain.ModerationFlag{
		Target:    target,
		Type:      flagType,
		Severity:  severity,
		Action:    action,
		IssuedBy:  issuedBy,
		Reason:    reason,
		Timestamp: m.now(),
	})
	return next, nil
}

func (m *ModerationLog) RecordAlert(from domain.ParticipantID, alertType, message string) domain.EmergencyAlert {
	a := domain.EmergencyAlert{
		From:      from,
		Type:      alertType,
		Message:   message,
		Timestamp: m.now(),
	}
	m.alerts = append(m.alerts, a)
	return a
}

// Flags returns a copy; the log itself is append-only.
func (m *ModerationLog) Flags() []domain.ModerationFlag {
	out := make([]domain.ModerationFlag, len(m.flags))
	copy(out, m.flags)
	return out
}

func (m *ModerationLog) Alerts() []domain.EmergencyAlert {
	out := make([]domain.EmergencyAlert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
