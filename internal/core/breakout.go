package core

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sanctumlive/sanctum/internal/domain"
)

// breakoutRoom is parent-owned coordination metadata. The child Actor owns
// the room's own event stream; membership truth stays here so a move is one
// atomic parent command.
type breakoutRoom struct {
	meta    *domain.BreakoutRoom
	members map[domain.ParticipantID]bool
	invited map[domain.ParticipantID]bool
	child   *Actor
}

// CreateRoom spawns a breakout room. Host/moderator only.
func (a *Actor) CreateRoom(actorID domain.ParticipantID, name domain.RoomName, capacity int, private bool) (domain.BreakoutRoom, error) {
	var room domain.BreakoutRoom
	var err error
	if derr := a.do(func() { room, err = a.createRoomLocked(actorID, name, capacity, private) }); derr != nil {
		return domain.BreakoutRoom{}, derr
	}
	return room, err
}

func (a *Actor) createRoomLocked(actorID domain.ParticipantID, name domain.RoomName, capacity int, private bool) (domain.BreakoutRoom, error) {
	if err := a.guard(); err != nil {
		return domain.BreakoutRoom{}, err
	}
	issuer, ok := a.roster.Get(actorID)
	if !ok {
		return domain.BreakoutRoom{}, ErrNotFound
	}
	if !issuer.Role.CanModerate() {
		return domain.BreakoutRoom{}, ErrForbidden
	}

	meta := domain.NewBreakoutRoom(a.session.ID, name, capacity, private)
	br := &breakoutRoom{
		meta:    meta,
		members: make(map[domain.ParticipantID]bool),
		invited: make(map[domain.ParticipantID]bool),
	}
	if a.Spawn != nil {
		child, err := a.Spawn(domain.SessionConfig{
			HostID:          a.session.HostID,
			Title:           string(meta.Name),
			MaxParticipants: capacity,
			ModerationLevel: a.session.ModerationLevel,
			TTL:             time.Until(a.session.ExpiresAt),
			ParentSessionID: a.session.ID,
		})
		if err != nil {
			return domain.BreakoutRoom{}, err
		}
		br.child = child
		meta.SessionID = child.Session().ID
	}
	a.rooms[meta.ID] = br
	a.emit(EventBreakoutCreated, *meta)
	log.Info().Str("module", "core.actor").Str("session", string(a.session.ID)).Str("room", string(meta.ID)).Str("by", string(actorID)).Msg("breakout room created")
	return *meta, nil
}

// InviteToRoom whitelists a participant for a private room.
func (a *Actor) InviteToRoom(actorID domain.ParticipantID, roomID domain.RoomID, target domain.ParticipantID) error {
	var err error
	if derr := a.do(func() {
		issuer, ok := a.roster.Get(actorID)
		if !ok {
			err = ErrNotFound
			return
		}
		if !issuer.Role.CanModerate() {
			err = ErrForbidden
			return
		}
		br, ok := a.rooms[roomID]
		if !ok {
			err = ErrNotFound
			return
		}
		br.invited[target] = true
	}); derr != nil {
		return derr
	}
	return err
}

// MoveToRoom is leave-current-plus-join in one command, so no roster
// snapshot can observe the participant absent from every room. An empty
// roomID moves the participant back to the main floor.
func (a *Actor) MoveToRoom(id domain.ParticipantID, roomID domain.RoomID) error {
	var err error
	if derr := a.do(func() { err = a.moveToRoomLocked(id, roomID) }); derr != nil {
		return derr
	}
	return err
}

func (a *Actor) moveToRoomLocked(id domain.ParticipantID, roomID domain.RoomID) error {
	if err := a.guard(); err != nil {
		return err
	}
	p, ok := a.roster.Get(id)
	if !ok {
		return ErrNotFound
	}
	from := a.roomOf[id]
	if from == roomID {
		return nil
	}

	var dest *breakoutRoom
	if roomID != "" {
		dest, ok = a.rooms[roomID]
		if !ok {
			return ErrNotFound
		}
		if dest.meta.Capacity > 0 && len(dest.members) >= dest.meta.Capacity {
			return ErrRoomFull
		}
		if dest.meta.IsPrivate && !dest.invited[id] && !p.Role.CanModerate() {
			return ErrNotAuthorized
		}
	}

	if from != "" {
		if prev, ok := a.rooms[from]; ok {
			delete(prev.members, id)
			if prev.child != nil {
				go func(child *Actor, pid domain.ParticipantID) {
					_ = child.Leave(pid, "moved")
				}(prev.child, id)
			}
		}
	}
	if dest != nil {
		dest.members[id] = true
		a.roomOf[id] = roomID
		if dest.child != nil {
			req := JoinRequest{ParticipantID: id, ConnectionID: p.ConnectionID, Alias: p.Alias, Role: p.Role}
			go func(child *Actor) {
				if _, err := child.Join(req); err != nil {
					log.Warn().Err(err).Str("module", "core.actor").Str("room", string(roomID)).Str("participant", string(id)).Msg("breakout child join failed")
				}
			}(dest.child)
		}
	} else {
		delete(a.roomOf, id)
	}

	var destSession domain.SessionID
	if dest != nil {
		destSession = dest.meta.SessionID
	}
	a.emit(EventBreakoutMoved, map[string]string{
		"participant_id": string(id),
		"from":           string(from),
		"to":             string(roomID),
		"to_session_id":  string(destSession),
	})
	return nil
}

// CloseRoom returns all occupants to the parent floor and ends the child.
func (a *Actor) CloseRoom(actorID domain.ParticipantID, roomID domain.RoomID) error {
	var err error
	if derr := a.do(func() {
		issuer, ok := a.roster.Get(actorID)
		if !ok {
			err = ErrNotFound
			return
		}
		if !issuer.Role.CanModerate() {
			err = ErrForbidden
			return
		}
		if _, ok := a.rooms[roomID]; !ok {
			err = ErrNotFound
			return
		}
		a.closeRoomLocked(roomID)
	}); derr != nil {
		return derr
	}
	return err
}

func (a *Actor) closeRoomLocked(roomID domain.RoomID) {
	br, ok := a.rooms[roomID]
	if !ok {
		return
	}
	returned := make([]domain.ParticipantID, 0, len(br.members))
	for id := range br.members {
		delete(a.roomOf, id)
		returned = append(returned, id)
	}
	delete(a.rooms, roomID)
	if br.child != nil {
		go func(child *Actor) { _ = child.End("parent closed room") }(br.child)
	}
	a.emit(EventBreakoutClosed, map[string]any{
		"room":     *br.meta,
		"returned": returned,
	})
	log.Info().Str("module", "core.actor").Str("session", string(a.session.ID)).Str("room", string(roomID)).Int("returned", len(returned)).Msg("breakout room closed")
}

// detachFromRoomLocked drops id's breakout membership, if any.
func (a *Actor) detachFromRoomLocked(id domain.ParticipantID) {
	roomID, ok := a.roomOf[id]
	if !ok {
		return
	}
	delete(a.roomOf, id)
	if br, ok := a.rooms[roomID]; ok {
		delete(br.members, id)
		if br.child != nil {
			go func(child *Actor) { _ = child.Leave(id, "left parent") }(br.child)
		}
	}
}

func (a *Actor) roomsSnapshotLocked() []RoomSnapshot {
	out := make([]RoomSnapshot, 0, len(a.rooms))
	for _, br := range a.rooms {
		ids := make([]domain.ParticipantID, 0, len(br.members))
		for id := range br.members {
			ids = append(ids, id)
		}
		out = append(out, RoomSnapshot{Room: *br.meta, Participants: ids})
	}
	return out
}

// RoomOf reports which breakout room a participant currently occupies.
func (a *Actor) RoomOf(id domain.ParticipantID) (domain.RoomID, bool) {
	var roomID domain.RoomID
	var ok bool
	_ = a.do(func() { roomID, ok = a.roomOf[id] })
	return roomID, ok
}
