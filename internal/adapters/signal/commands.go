package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/sanctumlive/sanctum/internal/core"
	"github.com/sanctumlive/sanctum/internal/domain"
)

// errCode maps command rejections onto wire codes. Rejections go to the
// issuing connection only, never into the broadcast stream.
func errCode(err error) string {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrForbidden):
		return "forbidden"
	case errors.Is(err, core.ErrSessionFull):
		return "session_full"
	case errors.Is(err, core.ErrRoomFull):
		return "room_full"
	case errors.Is(err, core.ErrBanned):
		return "banned"
	case errors.Is(err, core.ErrSessionEnded):
		return "session_ended"
	case errors.Is(err, core.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, domain.ErrAliasEmpty), errors.Is(err, domain.ErrAliasTooLong):
		return "bad_alias"
	case errors.Is(err, core.ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "internal"
	}
}

func (ctl *StreamController) actorFor(c *streamConn, env Envelope) (*core.Actor, bool) {
	actor, ok := ctl.Sessions.Get(domain.SessionID(env.SessionID))
	if !ok {
		ctl.replyError(c, env.ClientSeq, "not_found")
		return nil, false
	}
	return actor, true
}

func (ctl *StreamController) handleJoin(c *streamConn, env Envelope) {
	var p struct {
		Alias string `json:"alias"`
		Role  string `json:"role,omitempty"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.replyError(c, env.ClientSeq, "bad_payload")
		return
	}
	actor, ok := ctl.actorFor(c, env)
	if !ok {
		return
	}

	sid := domain.SessionID(env.SessionID)
	if parentID := actor.Session().ParentSessionID; parentID != "" {
		// Breakout child sessions are entered through the parent's move;
		// a direct join is only for subscribing after being moved in, or
		// for parent hosts and moderators.
		parent, ok := ctl.Sessions.Get(parentID)
		if !ok || !roomJoinAllowed(parent, sid, c.participantID) {
			ctl.replyError(c, env.ClientSeq, "not_authorized")
			return
		}
	}

	// Subscribe before joining: events the join emits, the join's own
	// participant_joined included, queue up instead of falling in a gap
	// between the roster snapshot and the first forwarded event.
	gen := c.setSession(sid)
	events := ctl.Dispatcher.Subscribe(sid, c.connectionID)

	res, err := actor.Join(core.JoinRequest{
		ParticipantID: c.participantID,
		ConnectionID:  c.connectionID,
		Alias:         p.Alias,
		Role:          domain.Role(p.Role),
	})
	if err != nil {
		ctl.Dispatcher.Unsubscribe(c.connectionID)
		c.setSession("")
		ctl.replyError(c, env.ClientSeq, errCode(err))
		return
	}

	resp := map[string]any{
		"type":        "joined",
		"session_id":  env.SessionID,
		"client_seq":  env.ClientSeq,
		"participant": res.Participant,
		"roster":      res.Roster,
	}
	if ctl.Audio != nil {
		tok, terr := ctl.Audio.RequestJoinToken(context.Background(), sid, c.participantID, res.Participant.Role)
		if terr != nil {
			log.Warn().Err(terr).Str("module", "signal").Str("participant", string(c.participantID)).Msg("audio token on join failed")
		} else {
			resp["audio"] = tok
		}
	}
	ctl.reply(c, resp)
	go ctl.forwardEvents(c, events, gen)
}

// roomJoinAllowed reports whether pid may attach to a breakout child
// session: either the parent moved them into that room, or they hold
// moderation rights in the parent.
func roomJoinAllowed(parent *core.Actor, roomSession domain.SessionID, pid domain.ParticipantID) bool {
	snap, err := parent.Snapshot()
	if err != nil {
		return false
	}
	for _, p := range snap.Roster {
		if p.ID == pid && p.Role.CanModerate() {
			return true
		}
	}
	for _, rs := range snap.Rooms {
		if rs.Room.SessionID != roomSession {
			continue
		}
		for _, id := range rs.Participants {
			if id == pid {
				return true
			}
		}
	}
	return false
}

// forwardEvents drains a session subscription into the socket. A closed
// events channel means the dispatcher dropped this subscriber; unless a
// newer subscription superseded this one, the transport is closed so the
// client reconnects cleanly.
func (ctl *StreamController) forwardEvents(c *streamConn, events <-chan core.Event, gen uint64) {
	for ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("event marshal")
			continue
		}
		if err := c.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.connectionID)).Msg("event send failed, unsubscribing")
			ctl.Dispatcher.Unsubscribe(c.connectionID)
			return
		}
	}
	if c.generation() == gen {
		c.Close()
	}
}

func (ctl *StreamController) handleLeave(c *streamConn, env Envelope) {
	actor, ok := ctl.actorFor(c, env)
	if !ok {
		return
	}
	if err := actor.Leave(c.participantID, "left"); err != nil {
		ctl.replyError(c, env.ClientSeq, errCode(err))
		return
	}
	if ctl.Audio != nil {
		ctl.Audio.CancelRenewal(domain.SessionID(env.SessionID), c.participantID)
	}
	ctl.Dispatcher.Unsubscribe(c.connectionID)
	c.setSession("")
	ctl.reply(c, map[string]any{"type": "left", "client_seq": env.ClientSeq})
}

func (ctl *StreamController) handleAudio(c *streamConn, env Envelope) {
	var patch core.AudioStatePatch
	if err := json.Unmarshal(env.Payload, &patch); err != nil {
		ctl.replyError(c, env.ClientSeq, "bad_payload")
		return
	}
	actor, ok := ctl.actorFor(c, env)
	if !ok {
		return
	}
	if err := actor.UpdateAudioState(c.participantID, patch); err != nil {
		ctl.replyError(c, env.ClientSeq, errCode(err))
	}
}

func (ctl *StreamController) handleModerate(c *streamConn, env Envelope) {
	var p struct {
		Target   string `json:"target"`
		Action   string `json:"action"`
		FlagType string `json:"flag_type,omitempty"`
		Severity int    `json:"severity,omitempty"`
		Reason   string `json:"reason,omitempty"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ctl.replyError(c, env.ClientSeq, "bad_payload")
		return
	}
	actor, ok := ctl.actorFor(c, env)
	if !ok {
		return
	}
	err := actor.Moderate(c.participantID, domain.ParticipantID(p.Target), domain.ModAction(p.Action), p.FlagType, p.Severity, p.Reason)
	if err != nil {
		ctl.replyError(c, env.ClientSeq, errCode(err))
		return
	}
	if ctl.Audio != nil && (p.Action == string(domain.ActionKick) || p.Action == string(domain.ActionBan)) {
		ctl.Audio.CancelRenewal(domain.SessionID(env.SessionID), domain.ParticipantID(p.Target))
	}
}

func (ctl *StreamController) handlePromote(c *streamConn, env Envelope) {
	var p struct {
		Target string `json:"target"`
		Role   string `json:"role"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ctl.replyError(c, env.ClientSeq, "bad_payload")
		return
	}
	actor, ok := ctl.actorFor(c, env)
	if !ok {
		return
	}
	if err := actor.Promote(c.participantID, domain.ParticipantID(p.Target), domain.Role(p.Role)); err != nil {
		ctl.replyError(c, env.ClientSeq, errCode(err))
	}
}

func (ctl *StreamController) handleAlert(c *streamConn, env Envelope) {
	var p struct {
		AlertType string `json:"alert_type"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ctl.replyError(c, env.ClientSeq, "bad_payload")
		return
	}
	actor, ok := ctl.actorFor(c, env)
	if !ok {
		return
	}
	if err := actor.EmergencyAlert(c.participantID, p.AlertType, p.Message); err != nil {
		ctl.replyError(c, env.ClientSeq, errCode(err))
		return
	}
	ctl.reply(c, map[string]any{"type": "alert_ack", "client_seq": env.ClientSeq})
}

func (ctl *StreamController) handleHeartbeat(c *streamConn, env Envelope) {
	actor, ok := ctl.Sessions.Get(domain.SessionID(env.SessionID))
	if !ok {
		return
	}
	// Heartbeats are fire-and-forget; a miss is handled by the tick.
	_ = actor.Heartbeat(c.participantID)
}

func (ctl *StreamController) handleConsent(c *streamConn, env Envelope) {
	actor, ok := ctl.actorFor(c, env)
	if !ok {
		return
	}
	if err := actor.RecordConsent(c.participantID); err != nil {
		ctl.replyError(c, env.ClientSeq, errCode(err))
	}
}

func (ctl *StreamController) handleBreakoutCreate(c *streamConn, env Envelope) {
	var p struct {
		Name     string `json:"name"`
		Capacity int    `json:"capacity"`
		Private  bool   `json:"private"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ctl.replyError(c, env.ClientSeq, "bad_payload")
		return
	}
	actor, ok := ctl.actorFor(c, env)
	if !ok {
		return
	}
	room, err := actor.CreateRoom(c.participantID, domain.RoomName(p.Name), p.Capacity, p.Private)
	if err != nil {
		ctl.replyError(c, env.ClientSeq, errCode(err))
		return
	}
	ctl.reply(c, map[string]any{"type": "breakout_created", "client_seq": env.ClientSeq, "room": room})
}

func (ctl *StreamController) handleBreakoutInvite(c *streamConn, env Envelope) {
	var p struct {
		Room   string `json:"room"`
		Target string `json:"target"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ctl.replyError(c, env.ClientSeq, "bad_payload")
		return
	}
	actor, ok := ctl.actorFor(c, env)
	if !ok {
		return
	}
	if err := actor.InviteToRoom(c.participantID, domain.RoomID(p.Room), domain.ParticipantID(p.Target)); err != nil {
		ctl.replyError(c, env.ClientSeq, errCode(err))
	}
}

func (ctl *StreamController) handleBreakoutMove(c *streamConn, env Envelope) {
	var p struct {
		Room string `json:"room"` // empty moves back to the main floor
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ctl.replyError(c, env.ClientSeq, "bad_payload")
		return
	}
	actor, ok := ctl.actorFor(c, env)
	if !ok {
		return
	}
	if err := actor.MoveToRoom(c.participantID, domain.RoomID(p.Room)); err != nil {
		ctl.replyError(c, env.ClientSeq, errCode(err))
	}
}

func (ctl *StreamController) handleBreakoutClose(c *streamConn, env Envelope) {
	var p struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ctl.replyError(c, env.ClientSeq, "bad_payload")
		return
	}
	actor, ok := ctl.actorFor(c, env)
	if !ok {
		return
	}
	if err := actor.CloseRoom(c.participantID, domain.RoomID(p.Room)); err != nil {
		ctl.replyError(c, env.ClientSeq, errCode(err))
	}
}

func (ctl *StreamController) handleWhoAmI(c *streamConn, env Envelope) {
	resp := map[string]any{
		"type":           "whoami",
		"participant_id": c.participantID,
		"connection_id":  c.connectionID,
	}
	if sid := c.session(); sid != "" {
		resp["session_id"] = sid
	}
	ctl.reply(c, resp)
}
