package core

import (
	"time"

	"github.com/sanctumlive/sanctum/internal/domain"
)

type EventType string

const (
	EventParticipantJoined  EventType = "participant_joined"
	EventParticipantLeft    EventType = "participant_left"
	EventAudioStateChanged  EventType = "audio_state_changed"
	EventParticipantWarned  EventType = "participant_warned"
	EventParticipantMuted   EventType = "participant_muted"
	EventParticipantUnmuted EventType = "participant_unmuted"
	EventParticipantKicked  EventType = "participant_kicked"
	EventParticipantBanned  EventType = "participant_banned"
	EventConnectionDegraded EventType = "connection_degraded"
	EventRoleChanged        EventType = "role_changed"
	EventEmergencyAlert     EventType = "emergency_alert"
	EventConsentRecorded    EventType = "consent_recorded"
	EventBreakoutCreated    EventType = "breakout_room_created"
	EventBreakoutMoved      EventType = "breakout_room_moved"
	EventBreakoutClosed     EventType = "breakout_room_closed"
	EventSessionEnding      EventType = "session_ending"
	EventSessionEnded       EventType = "session_ended"
)

// Event is the outbound envelope. ServerSeq is strictly increasing per
// session; clients replay idempotently and discard already-applied seqs.
type Event struct {
	Type      EventType        `json:"type"`
	SessionID domain.SessionID `json:"session_id"`
	ServerSeq uint64           `json:"server_seq"`
	Payload   any              `json:"payload,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// EventSink receives events in the exact order the session emitted them.
// Fan-out must never block the caller.
type EventSink interface {
	Publish(sid domain.SessionID, ev Event)
}

// RosterPayload accompanies roster-changing events so clients can render
// the authoritative member list without a follow-up query.
type RosterPayload struct {
	Participant domain.Participant   `json:"participant"`
	Reason      string               `json:"reason,omitempty"`
	Roster      []domain.Participant `json:"roster"`
}
