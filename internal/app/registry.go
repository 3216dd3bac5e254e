package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sanctumlive/sanctum/internal/core"
	"github.com/sanctumlive/sanctum/internal/domain"
)

type actorEntry struct {
	Actor  *core.Actor
	Cancel context.CancelFunc
}

// SessionRegistry is the top-level map from session ID to its running
// actor. It is the only structure touched by multiple goroutines directly;
// everything session-internal is owned by that session's actor. The
// registry never holds its lock while delegating to an actor.
type SessionRegistry struct {
	mu      sync.RWMutex
	entries map[domain.SessionID]*actorEntry

	sink core.EventSink
	live core.LivenessConfig
	ctx  context.Context
}

func NewSessionRegistry(ctx context.Context, sink core.EventSink, live core.LivenessConfig) *SessionRegistry {
	return &SessionRegistry{
		entries: make(map[domain.SessionID]*actorEntry),
		sink:    sink,
		live:    live,
		ctx:     ctx,
	}
}

var ErrInvalidConfig = errors.New("invalid session config")

// Create builds, registers and starts a session actor.
func (r *SessionRegistry) Create(cfg domain.SessionConfig) (*core.Actor, error) {
	if cfg.HostID == "" {
		return nil, ErrInvalidConfig
	}
	session := domain.NewSession(cfg)
	actor := core.NewActor(session, r.sink, r.live)
	actor.Spawn = r.spawnChild

	actorCtx, cancel := context.WithCancel(r.ctx)
	actor.Start(actorCtx)

	r.mu.Lock()
	r.entries[session.ID] = &actorEntry{Actor: actor, Cancel: cancel}
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("session", string(session.ID)).Str("host", string(cfg.HostID)).Msg("session created")
	return actor, nil
}

// spawnChild backs breakout rooms: the child gets its own actor so load
// never serializes across unrelated rooms, and it is registered here so
// connections can subscribe to it by session ID.
func (r *SessionRegistry) spawnChild(cfg domain.SessionConfig) (*core.Actor, error) {
	return r.Create(cfg)
}

// Get returns the live actor, or false when the session expired or never
// existed. Callers must treat the miss as "rejoin not possible".
func (r *SessionRegistry) Get(id domain.SessionID) (*core.Actor, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.Actor, true
}

func (r *SessionRegistry) Destroy(id domain.SessionID) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	_ = e.Actor.End("destroyed")
	e.Cancel()
	log.Info().Str("module", "app.registry").Str("session", string(id)).Msg("session destroyed")
}

type SessionInfo struct {
	Session      domain.Session `json:"session"`
	Participants int            `json:"participants"`
}

func (r *SessionRegistry) List() []SessionInfo {
	r.mu.RLock()
	actors := make([]*core.Actor, 0, len(r.entries))
	for _, e := range r.entries {
		actors = append(actors, e.Actor)
	}
	r.mu.RUnlock()

	out := make([]SessionInfo, 0, len(actors))
	for _, a := range actors {
		snap, err := a.Snapshot()
		if err != nil {
			continue
		}
		out = append(out, SessionInfo{Session: snap.Session, Participants: len(snap.Roster)})
	}
	return out
}

// Sweep drops ended sessions from the map on an interval. Actors end
// themselves on expiry; this only collects the corpses.
func (r *SessionRegistry) Sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *SessionRegistry) sweepOnce() {
	// Status blocks on the actor's command queue; copy the entries out
	// first so the registry lock is never held while an actor is queried.
	// An actor spawning a breakout child re-enters Create and needs the
	// write lock, so holding even the read lock here can deadlock.
	r.mu.RLock()
	actors := make(map[domain.SessionID]*core.Actor, len(r.entries))
	for id, e := range r.entries {
		actors[id] = e.Actor
	}
	r.mu.RUnlock()
	for id, a := range actors {
		if a.Status() == domain.SessionEnded {
			r.Destroy(id)
		}
	}
}

// Shutdown ends every session, for graceful server stop.
func (r *SessionRegistry) Shutdown() {
	r.mu.RLock()
	ids := make([]domain.SessionID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Destroy(id)
	}
}
