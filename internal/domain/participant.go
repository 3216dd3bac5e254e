package domain

import (
	"errors"
	"time"
)

const MaxAliasLen = 36

var (
	ErrAliasEmpty   = errors.New("alias empty")
	ErrAliasTooLong = errors.New("alias too long")
)

type (
	// ParticipantID is stable per human per session: derived from an
	// authenticated user ID or a generated anonymous token. Never a socket.
	ParticipantID string
	// ConnectionID identifies one live socket. Many historical connection
	// IDs map to one ParticipantID across reconnects.
	ConnectionID string
)

type Role string

const (
	RoleHost      Role = "host"
	RoleModerator Role = "moderator"
	RoleSpeaker   Role = "speaker"
	RoleListener  Role = "listener"
)

func (r Role) CanModerate() bool {
	return r == RoleHost || r == RoleModerator
}

type ConnectionStatus string

const (
	Connecting   ConnectionStatus = "connecting"
	Connected    ConnectionStatus = "connected"
	Disconnected ConnectionStatus = "disconnected"
)

type AudioState struct {
	Muted      bool `json:"muted"`
	HandRaised bool `json:"hand_raised"`
	Speaking   bool `json:"speaking"`
	Level      int  `json:"level"`
}

type Participant struct {
	ID               ParticipantID    `json:"id"`
	ConnectionID     ConnectionID     `json:"connection_id"`
	Alias            string           `json:"alias"`
	Role             Role             `json:"role"`
	Audio            AudioState       `json:"audio"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	Warnings         int              `json:"warnings"`
	RecordingConsent bool             `json:"recording_consent"`
	JoinedAt         time.Time        `json:"joined_at"`
	LastHeartbeatAt  time.Time        `json:"-"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id ParticipantID, alias string, role Role) (*Participant, error) {
	if err := ValidateAlias(alias); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Participant{
		ID:               id,
		Alias:            alias,
		Role:             role,
		ConnectionStatus: Connecting,
		JoinedAt:         now,
		LastHeartbeatAt:  now,
	}, nil
}

func ValidateAlias(alias string) error {
	if len(alias) == 0 {
		return ErrAliasEmpty
	}
	if len(alias) > MaxAliasLen {
		return ErrAliasTooLong
	}
	return nil
}
