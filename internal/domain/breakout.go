package domain

import (
	"time"

	"github.com/google/uuid"
)

type (
	RoomID   string
	RoomName string
)

// BreakoutRoom is a child session spawned from a parent for smaller-group
// discussion. Membership lives with the parent session's state owner.
// SessionID is the child session backing the room; clients subscribe to it
// to receive the room's own event stream.
type BreakoutRoom struct {
	ID              RoomID    `json:"id"`
	SessionID       SessionID `json:"session_id"`
	ParentSessionID SessionID `json:"parent_session_id"`
	Name            RoomName  `json:"name"`
	Capacity        int       `json:"capacity"`
	IsPrivate       bool      `json:"is_private"`
	CreatedAt       time.Time `json:"created_at"`
}

func NewBreakoutRoom(parent SessionID, name RoomName, capacity int, private bool) *BreakoutRoom {
	raw := string(name)
	if len(raw) > MaxAliasLen {
		raw = raw[:MaxAliasLen]
	}
	return &BreakoutRoom{
		ID:              RoomID(uuid.NewString()),
		ParentSessionID: parent,
		Name:            RoomName(raw),
		Capacity:        capacity,
		IsPrivate:       private,
		CreatedAt:       time.Now(),
	}
}
