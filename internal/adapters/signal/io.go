package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Envelope is the inbound command shape. ClientSeq is echoed back on the
// direct reply so clients can correlate rejections.
type Envelope struct {
	Type          string          `json:"type"`
	SessionID     string          `json:"session_id,omitempty"`
	ParticipantID string          `json:"participant_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ClientSeq     uint64          `json:"client_seq,omitempty"`
}

func (ctl *StreamController) writePump(ctx context.Context, c *streamConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *StreamController) readPump(ctx context.Context, cancel context.CancelFunc, c *streamConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.connectionID)).Msg("readPump closing")
		ctl.Dispatcher.Unsubscribe(c.connectionID)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(c.connectionID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(c.connectionID)).Msg("readPump read error")
				return
			}
			ctl.handleCommand(c, data)
		}
	}
}

func (ctl *StreamController) handleCommand(c *streamConn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.replyError(c, 0, "bad_payload")
		return
	}

	// A command may only act as the identity bound to this socket.
	if env.ParticipantID != "" && env.ParticipantID != string(c.participantID) {
		ctl.replyError(c, env.ClientSeq, "forbidden")
		return
	}

	if ctl.Limiter != nil && !ctl.Limiter.Allow(c.participantID) {
		ctl.replyError(c, env.ClientSeq, "rate_limited")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(c, env)
	case "leave":
		ctl.handleLeave(c, env)
	case "audio":
		ctl.handleAudio(c, env)
	case "moderate":
		ctl.handleModerate(c, env)
	case "promote":
		ctl.handlePromote(c, env)
	case "alert":
		ctl.handleAlert(c, env)
	case "heartbeat":
		ctl.handleHeartbeat(c, env)
	case "consent":
		ctl.handleConsent(c, env)
	case "breakout_create":
		ctl.handleBreakoutCreate(c, env)
	case "breakout_invite":
		ctl.handleBreakoutInvite(c, env)
	case "breakout_move":
		ctl.handleBreakoutMove(c, env)
	case "breakout_close":
		ctl.handleBreakoutClose(c, env)
	case "ping":
		ctl.reply(c, map[string]any{"type": "pong"})
	case "whoami":
		ctl.handleWhoAmI(c, env)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown command")
		ctl.replyError(c, env.ClientSeq, "unknown_command")
	}
}

func (ctl *StreamController) reply(c *streamConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("reply marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *StreamController) replyError(c *streamConn, clientSeq uint64, code string) {
	ctl.reply(c, map[string]any{
		"type":       "error",
		"error":      code,
		"client_seq": clientSeq,
	})
}
