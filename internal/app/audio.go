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

// Token is what the opaque media provider hands a participant to connect
// with. The coordination layer never touches media bytes itself.
type Token struct {
	AppID       string    `json:"app_id"`
	Token       string    `json:"token"`
	ChannelName string    `json:"channel_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type TokenProvider interface {
	Token(ctx context.Context, sid domain.SessionID, pid domain.ParticipantID, role domain.Role) (Token, error)
}

type ProviderEventType string

const (
	ProviderUserPublished    ProviderEventType = "user-published"
	ProviderUserUnpublished  ProviderEventType = "user-unpublished"
	ProviderNetworkQuality   ProviderEventType = "network-quality"
	ProviderTokenExpiring    ProviderEventType = "token-expiring"
	ProviderConnectionChange ProviderEventType = "connection-state-changed"
)

// ProviderEvent is the provider callback shape the coordinator consumes.
type ProviderEvent struct {
	Type          ProviderEventType
	SessionID     domain.SessionID
	ParticipantID domain.ParticipantID
	// Quality: 1 best .. 6 unusable (network-quality).
	Quality int
	// State: "connected", "reconnecting", "disconnected", "failed".
	State string
	Level int
}

type AudioConfig struct {
	RenewMargin       time.Duration
	RetryBase         time.Duration
	MaxRetries        int
	ReconnectAttempts int
	ReconnectBase     time.Duration
}

// AudioCoordinator bridges provider callbacks into session commands. All
// provider I/O runs off the actors' command loops and re-enters as
// commands on completion; it never blocks roster mutation.
type AudioCoordinator struct {
	provider TokenProvider
	sessions *SessionRegistry
	cfg      AudioConfig

	mu       sync.Mutex
	renewals map[renewalKey]context.CancelFunc
}

type renewalKey struct {
	sid domain.SessionID
	pid domain.ParticipantID
}

func NewAudioCoordinator(provider TokenProvider, sessions *SessionRegistry, cfg AudioConfig) *AudioCoordinator {
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 2 * time.Second
	}
	return &AudioCoordinator{
		provider: provider,
		sessions: sessions,
		cfg:      cfg,
		renewals: make(map[renewalKey]context.CancelFunc),
	}
}

// RequestJoinToken fetches a media token and schedules its renewal at a
// fixed margin before expiry.
func (c *AudioCoordinator) RequestJoinToken(ctx context.Context, sid domain.SessionID, pid domain.ParticipantID, role domain.Role) (Token, error) {
	tok, err := c.provider.Token(ctx, sid, pid, role)
	if err != nil {
		return Token{}, err
	}
	c.scheduleRenewal(sid, pid, role, tok.ExpiresAt)
	return tok, nil
}

func (c *AudioCoordinator) scheduleRenewal(sid domain.SessionID, pid domain.ParticipantID, role domain.Role, expiresAt time.Time) {
	key := renewalKey{sid, pid}
	renewCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if prev, ok := c.renewals[key]; ok {
		prev()
	}
	c.renewals[key] = cancel
	c.mu.Unlock()

	delay := time.Until(expiresAt.Add(-c.cfg.RenewMargin))
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		c.renew(renewCtx, sid, pid, role)
	})
	go func() {
		<-renewCtx.Done()
		timer.Stop()
	}()
}

// renew retries with exponential backoff up to a bound, then surfaces a
// degraded status to the participant without removing them.
func (c *AudioCoordinator) renew(ctx context.Context, sid domain.SessionID, pid domain.ParticipantID, role domain.Role) {
	delay := c.cfg.RetryBase
	for attempt := 0; ; attempt++ {
		tok, err := c.provider.Token(ctx, sid, pid, role)
		if err == nil {
			log.Info().Str("module", "app.audio").Str("session", string(sid)).Str("participant", string(pid)).Msg("media token renewed")
			c.scheduleRenewal(sid, pid, role, tok.ExpiresAt)
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		if attempt >= c.cfg.MaxRetries {
			log.Warn().Err(err).Str("module", "app.audio").Str("session", string(sid)).Str("participant", string(pid)).Msg("token renewal exhausted, connection degraded")
			if actor, ok := c.sessions.Get(sid); ok {
				_ = actor.MarkDegraded(pid, "token renewal failed")
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// CancelRenewal stops the renewal loop, on leave/kick/ban.
func (c *AudioCoordinator) CancelRenewal(sid domain.SessionID, pid domain.ParticipantID) {
	key := renewalKey{sid, pid}
	c.mu.Lock()
	if cancel, ok := c.renewals[key]; ok {
		cancel()
		delete(c.renewals, key)
	}
	c.mu.Unlock()
}

// OnProviderEvent translates provider callbacks into session commands.
func (c *AudioCoordinator) OnProviderEvent(ev ProviderEvent) {
	actor, ok := c.sessions.Get(ev.SessionID)
	if !ok {
		return
	}
	switch ev.Type {
	case ProviderUserPublished:
		speaking := true
		_ = actor.UpdateAudioState(ev.ParticipantID, core.AudioStatePatch{Speaking: &speaking, Level: &ev.Level})
	case ProviderUserUnpublished:
		speaking := false
		_ = actor.UpdateAudioState(ev.ParticipantID, core.AudioStatePatch{Speaking: &speaking})
	case ProviderNetworkQuality:
		_ = actor.Heartbeat(ev.ParticipantID)
		if ev.Quality >= 5 {
			_ = actor.MarkDegraded(ev.ParticipantID, "poor network quality")
		}
	case ProviderTokenExpiring:
		role, err := findRole(actor, ev.ParticipantID)
		if err != nil {
			return
		}
		// An immediate schedule keeps the renewal inside the cancellation
		// map, so CancelRenewal on leave/kick/ban still stops it.
		c.scheduleRenewal(ev.SessionID, ev.ParticipantID, role, time.Now())
	case ProviderConnectionChange:
		switch ev.State {
		case "connected":
			_ = actor.Heartbeat(ev.ParticipantID)
		case "reconnecting":
			_ = actor.MarkDegraded(ev.ParticipantID, "media reconnecting")
		case "disconnected", "failed":
			go c.reconnect(ev.SessionID, ev.ParticipantID)
		}
	}
}

// reconnect attempts a bounded number of provider rejoins with increasing
// delay before giving up and emitting a leave.
func (c *AudioCoordinator) reconnect(sid domain.SessionID, pid domain.ParticipantID) {
	actor, ok := c.sessions.Get(sid)
	if !ok {
		return
	}
	role, err := findRole(actor, pid)
	if err != nil {
		return
	}
	delay := c.cfg.ReconnectBase
	for attempt := 0; attempt < c.cfg.ReconnectAttempts; attempt++ {
		if _, err := c.RequestJoinToken(context.Background(), sid, pid, role); err == nil {
			_ = actor.Heartbeat(pid)
			log.Info().Str("module", "app.audio").Str("session", string(sid)).Str("participant", string(pid)).Int("attempt", attempt+1).Msg("media reconnected")
			return
		}
		_ = actor.MarkDegraded(pid, "media reconnect failed")
		time.Sleep(delay)
		delay *= 2
	}
	log.Warn().Str("module", "app.audio").Str("session", string(sid)).Str("participant", string(pid)).Msg("media unrecoverable, leaving")
	c.CancelRenewal(sid, pid)
	_ = actor.Leave(pid, "media transport lost")
}

func findRole(actor *core.Actor, pid domain.ParticipantID) (domain.Role, error) {
	snap, err := actor.Snapshot()
	if err != nil {
		return "", err
	}
	for _, p := range snap.Roster {
		if p.ID == pid {
			return p.Role, nil
		}
	}
	return "", core.ErrNotFound
}
