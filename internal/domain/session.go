// Package domain contains entity without logic, just meta-data
package domain

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string

type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionActive  SessionStatus = "active"
	SessionEnding  SessionStatus = "ending"
	SessionEnded   SessionStatus = "ended"
)

var statusRank = map[SessionStatus]int{
	SessionPending: 0,
	SessionActive:  1,
	SessionEnding:  2,
	SessionEnded:   3,
}

// CanAdvanceTo enforces the monotonic pending → active → ending → ended order.
func (s SessionStatus) CanAdvanceTo(next SessionStatus) bool {
	return statusRank[next] > statusRank[s]
}

type ModerationLevel string

const (
	ModerationRelaxed  ModerationLevel = "relaxed"
	ModerationStandard ModerationLevel = "standard"
	ModerationStrict   ModerationLevel = "strict"
)

type SessionConfig struct {
	HostID                   ParticipantID   `json:"host_id"`
	Title                    string          `json:"title"`
	MaxParticipants          int             `json:"max_participants"`
	ModerationLevel          ModerationLevel `json:"moderation_level"`
	RecordingConsentRequired bool            `json:"recording_consent_required"`
	TTL                      time.Duration   `json:"-"`
	ParentSessionID          SessionID       `json:"-"`
}

type Session struct {
	ID                       SessionID       `json:"id"`
	HostID                   ParticipantID   `json:"host_id"`
	Title                    string          `json:"title"`
	Status                   SessionStatus   `json:"status"`
	CreatedAt                time.Time       `json:"created_at"`
	ExpiresAt                time.Time       `json:"expires_at"`
	MaxParticipants          int             `json:"max_participants"`
	ModerationLevel          ModerationLevel `json:"moderation_level"`
	RecordingConsentRequired bool            `json:"recording_consent_required"`
	ParentSessionID          SessionID       `json:"parent_session_id,omitempty"`
}

// NewSession avoids raw literals in adapters and keeps construction obvious.
func NewSession(cfg SessionConfig) *Session {
	now := time.Now()
	if cfg.ModerationLevel == "" {
		cfg.ModerationLevel = ModerationStandard
	}
	return &Session{
		ID:                       SessionID(uuid.NewString()),
		HostID:                   cfg.HostID,
		Title:                    cfg.Title,
		Status:                   SessionPending,
		CreatedAt:                now,
		ExpiresAt:                now.Add(cfg.TTL),
		MaxParticipants:          cfg.MaxParticipants,
		ModerationLevel:          cfg.ModerationLevel,
		RecordingConsentRequired: cfg.RecordingConsentRequired,
		ParentSessionID:          cfg.ParentSessionID,
	}
}
