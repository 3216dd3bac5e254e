package domain

import "time"

type ModAction string

const (
	ActionWarn   ModAction = "warn"
	ActionMute   ModAction = "mute"
	ActionUnmute ModAction = "unmute"
	ActionClear  ModAction = "clear"
	ActionKick   ModAction = "kick"
	ActionBan    ModAction = "ban"
)

// ModState follows clear → warned → muted → kicked|banned. Only
// muted → clear (explicit unmute) and warned → clear move backwards.
// banned is terminal for the session's lifetime.
type ModState string

const (
	ModClear  ModState = "clear"
	ModWarned ModState = "warned"
	ModMuted  ModState = "muted"
	ModKicked ModState = "kicked"
	ModBanned ModState = "banned"
)

// ModerationFlag is one immutable entry of the per-session audit log.
type ModerationFlag struct {
	Target    ParticipantID `json:"target"`
	Type      string        `json:"type"`
	Severity  int           `json:"severity"`
	Action    ModAction     `json:"action"`
	IssuedBy  ParticipantID `json:"issued_by"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// EmergencyAlert is safety audit, kept apart from moderation sanctions:
// alerts are accepted from any role and never filtered by permissions.
type EmergencyAlert struct {
	From      ParticipantID `json:"from"`
	Type      string        `json:"type"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}
