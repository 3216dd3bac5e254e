package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sanctumlive/sanctum/internal/app"
	"github.com/sanctumlive/sanctum/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Frame is a raw outbound payload.
type Frame []byte

type StreamController struct {
	Sessions   *app.SessionRegistry
	Dispatcher *app.Dispatcher
	Audio      *app.AudioCoordinator
	Limiter    *CommandRateLimiter

	ReadLimit int64
}

func NewStreamController(sessions *app.SessionRegistry, dispatcher *app.Dispatcher, audio *app.AudioCoordinator, limiter *CommandRateLimiter) *StreamController {
	return &StreamController{
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Audio:      audio,
		Limiter:    limiter,
	}
}

// streamConn is one live socket: the connection-scoped state the pumps and
// command handlers share.
type streamConn struct {
	conn *websocket.Conn
	send chan Frame

	participantID domain.ParticipantID
	connectionID  domain.ConnectionID

	mu     sync.RWMutex
	closed bool
	// session currently joined over this socket, if any
	sessionID domain.SessionID
	// bumped on every resubscribe; a stale forwarder must not close the socket
	subGen uint64
}

func (c *streamConn) TrySend(f Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *streamConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *streamConn) session() domain.SessionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *streamConn) setSession(sid domain.SessionID) uint64 {
	c.mu.Lock()
	c.sessionID = sid
	c.subGen++
	gen := c.subGen
	c.mu.Unlock()
	return gen
}

func (c *streamConn) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subGen
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleStream upgrades the connection and starts the pumps. The client
// token cookie is the stable participant identity; the connection ID is
// fresh per socket, so reconnects land on the same participant record.
func (ctl *StreamController) HandleStream(ctx context.Context, c *gin.Context) {
	pid := domain.ParticipantID(c.GetString("client_token"))
	if pid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing client token"})
		return
	}
	cid := domain.ConnectionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("participant", string(pid)).Str("conn", string(cid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &streamConn{
		conn:          ws,
		send:          make(chan Frame, 32),
		participantID: pid,
		connectionID:  cid,
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}
