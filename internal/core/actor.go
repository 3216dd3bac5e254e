package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sanctumlive/sanctum/internal/domain"
)

// LivenessConfig drives the two-phase heartbeat timeout: a participant is
// marked disconnected after HeartbeatTimeout without a beat, and removed
// only after a further GracePeriod. Removal is never triggered by a single
// missed heartbeat.
type LivenessConfig struct {
	HeartbeatTimeout time.Duration
	GracePeriod      time.Duration
	TickInterval     time.Duration
}

// SpawnFunc creates and starts a child session (breakout rooms).
type SpawnFunc func(cfg domain.SessionConfig) (*Actor, error)

type command struct {
	fn   func()
	done chan struct{}
}

// Actor is the single point of truth for one session's mutable state.
// Every command is drained from one queue by one goroutine, so no two
// commands ever interleave their effects.
type Actor struct {
	// Now and Spawn may be replaced before Start.
	Now   func() time.Time
	Spawn SpawnFunc

	session *domain.Session
	roster  *Roster
	mod     *ModerationLog
	rooms   map[domain.RoomID]*breakoutRoom
	roomOf  map[domain.ParticipantID]domain.RoomID
	sink    EventSink
	live    LivenessConfig

	seq         uint64
	quarantined bool

	cmds    chan command
	stopped chan struct{}
}

func NewActor(session *domain.Session, sink EventSink, live LivenessConfig) *Actor {
	if live.TickInterval <= 0 {
		live.TickInterval = 5 * time.Second
	}
	return &Actor{
		Now:     time.Now,
		session: session,
		roster:  NewRoster(),
		mod:     NewModerationLog(),
		rooms:   make(map[domain.RoomID]*breakoutRoom),
		roomOf:  make(map[domain.ParticipantID]domain.RoomID),
		sink:    sink,
		live:    live,
		cmds:    make(chan command, 64),
		stopped: make(chan struct{}),
	}
}

func (a *Actor) Session() domain.Session { return *a.session }

func (a *Actor) Start(ctx context.Context) {
	go a.run(ctx)
}

func (a *Actor) run(ctx context.Context) {
	ticker := time.NewTicker(a.live.TickInterval)
	defer ticker.Stop()
	defer close(a.stopped)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "core.actor").Str("session", string(a.session.ID)).Msg("run loop stopped")
			return
		case cmd := <-a.cmds:
			cmd.fn()
			close(cmd.done)
		case <-ticker.C:
			a.tickLocked()
		}
	}
}

// do runs fn on the actor goroutine and waits for it to be applied.
func (a *Actor) do(fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case a.cmds <- cmd:
	case <-a.stopped:
		return ErrActorStopped
	}
	select {
	case <-cmd.done:
		return nil
	case <-a.stopped:
		return ErrActorStopped
	}
}

func (a *Actor) emit(t EventType, payload any) {
	if a.sink == nil {
		return
	}
	a.seq++
	a.sink.Publish(a.session.ID, Event{
		Type:      t,
		SessionID: a.session.ID,
		ServerSeq: a.seq,
		Payload:   payload,
		Timestamp: a.Now(),
	})
}

// guard rejects commands on quarantined or ended sessions.
func (a *Actor) guard() error {
	if a.quarantined {
		return ErrQuarantined
	}
	return nil
}

type JoinRequest struct {
	ParticipantID domain.ParticipantID
	ConnectionID  domain.ConnectionID
	Alias         string
	Role          domain.Role
}

type JoinResult struct {
	Participant domain.Participant
	Roster      []domain.Participant
}

// Join inserts-or-updates the participant record keyed by ParticipantID.
// A reconnect lands on the existing record and only refreshes its
// connection fields; the roster can never grow a duplicate.
func (a *Actor) Join(req JoinRequest) (JoinResult, error) {
	var res JoinResult
	var err error
	if derr := a.do(func() { res, err = a.joinLocked(req) }); derr != nil {
		return JoinResult{}, derr
	}
	return res, err
}

func (a *Actor) joinLocked(req JoinRequest) (JoinResult, error) {
	if err := a.guard(); err != nil {
		return JoinResult{}, err
	}
	if a.session.Status == domain.SessionEnding || a.session.Status == domain.SessionEnded {
		return JoinResult{}, ErrSessionEnded
	}
	if a.mod.IsBanned(req.ParticipantID) {
		return JoinResult{}, ErrBanned
	}
	if err := domain.ValidateAlias(req.Alias); err != nil {
		return JoinResult{}, err
	}

	_, known := a.roster.Get(req.ParticipantID)
	if !known && a.session.MaxParticipants > 0 && a.roster.Len() >= a.session.MaxParticipants {
		return JoinResult{}, ErrSessionFull
	}

	role := req.Role
	if req.ParticipantID == a.session.HostID {
		role = domain.RoleHost
	} else if role == "" || role.CanModerate() {
		// Moderator is granted by promotion, never self-claimed on join.
		role = domain.RoleListener
	}

	p := a.roster.Upsert(req.ParticipantID, func() *domain.Participant {
		np, _ := domain.NewParticipant(req.ParticipantID, req.Alias, role)
		np.JoinedAt = a.Now()
		return np
	}, func(p *domain.Participant) {
		p.ConnectionID = req.ConnectionID
		p.ConnectionStatus = domain.Connected
		p.Alias = req.Alias
		p.LastHeartbeatAt = a.Now()
	})

	if !a.roster.CheckIntegrity() {
		a.quarantined = true
		log.Error().Str("module", "core.actor").Str("session", string(a.session.ID)).Str("participant", string(req.ParticipantID)).Msg("roster integrity violated, session quarantined")
		return JoinResult{}, ErrQuarantined
	}

	if a.session.Status.CanAdvanceTo(domain.SessionActive) {
		a.session.Status = domain.SessionActive
	}

	snap := a.roster.Snapshot()
	a.emit(EventParticipantJoined, RosterPayload{Participant: *p, Roster: snap})
	log.Info().Str("module", "core.actor").Str("session", string(a.session.ID)).Str("participant", string(req.ParticipantID)).Msg("participant joined")
	return JoinResult{Participant: *p, Roster: snap}, nil
}

// Leave is idempotent: leaving twice is a no-op, not an error.
func (a *Actor) Leave(id domain.ParticipantID, reason string) error {
	var err error
	if derr := a.do(func() { err = a.leaveLocked(id, reason) }); derr != nil {
		return derr
	}
	return err
}

func (a *Actor) leaveLocked(id domain.ParticipantID, reason string) error {
	if err := a.guard(); err != nil {
		return err
	}
	a.removeLocked(id, reason, EventParticipantLeft)
	return nil
}

// removeLocked drops a participant from the roster and any breakout room.
// Emits evType only if the participant was actually present.
func (a *Actor) removeLocked(id domain.ParticipantID, reason string, evType EventType) {
	p, ok := a.roster.Get(id)
	if !ok {
		return
	}
	left := *p
	a.detachFromRoomLocked(id)
	a.roster.Remove(id)
	a.emit(evType, RosterPayload{Participant: left, Reason: reason, Roster: a.roster.Snapshot()})
	log.Info().Str("module", "core.actor").Str("session", string(a.session.ID)).Str("participant", string(id)).Str("reason", reason).Msg("participant removed")
}

type AudioStatePatch struct {
	Muted      *bool `json:"muted,omitempty"`
	HandRaised *bool `json:"hand_raised,omitempty"`
	Speaking   *bool `json:"speaking,omitempty"`
	Level      *int  `json:"level,omitempty"`
}

func (a *Actor) UpdateAudioState(id domain.ParticipantID, patch AudioStatePatch) error {
	var err error
	if derr := a.do(func() { err = a.updateAudioLocked(id, patch) }); derr != nil {
		return derr
	}
	return err
}

func (a *Actor) updateAudioLocked(id domain.ParticipantID, patch AudioStatePatch) error {
	if err := a.guard(); err != nil {
		return err
	}
	p, ok := a.roster.Get(id)
	if !ok {
		return ErrNotFound
	}
	// A moderation mute cannot be undone by a voluntary toggle.
	if patch.Muted != nil && !*patch.Muted && a.mod.State(id) == domain.ModMuted {
		return ErrForbidden
	}
	if patch.Muted != nil {
		p.Audio.Muted = *patch.Muted
	}
	if patch.HandRaised != nil {
		p.Audio.HandRaised = *patch.HandRaised
	}
	if patch.Speaking != nil {
		p.Audio.Speaking = *patch.Speaking
	}
	if patch.Level != nil {
		p.Audio.Level = *patch.Level
	}
	a.emit(EventAudioStateChanged, *p)
	return nil
}

type ModerationPayload struct {
	Target   domain.ParticipantID `json:"target"`
	Action   domain.ModAction     `json:"action"`
	IssuedBy domain.ParticipantID `json:"issued_by"`
	Reason   string               `json:"reason,omitempty"`
	Roster   []domain.Participant `json:"roster,omitempty"`
}

// Moderate applies a sanction from actorID to targetID. Bans stick to the
// ParticipantID for the session lifetime: rejoining under a fresh
// connection is rejected at join.
func (a *Actor) Moderate(actorID, targetID domain.ParticipantID, action domain.ModAction, flagType string, severity int, reason string) error {
	var err error
	if derr := a.do(func() { err = a.moderateLocked(actorID, targetID, action, flagType, severity, reason) }); derr != nil {
		return derr
	}
	return err
}

func (a *Actor) moderateLocked(actorID, targetID domain.ParticipantID, action domain.ModAction, flagType string, severity int, reason string) error {
	if err := a.guard(); err != nil {
		return err
	}
	issuer, ok := a.roster.Get(actorID)
	if !ok {
		return ErrNotFound
	}
	target, present := a.roster.Get(targetID)
	targetRole := domain.RoleListener
	if present {
		targetRole = target.Role
	} else if action != domain.ActionBan {
		// Only a ban can be issued against someone who already left.
		return ErrNotFound
	}
	if !a.mod.Authorize(issuer.Role, targetRole, action) {
		return ErrForbidden
	}
	if _, err := a.mod.Apply(actorID, targetID, action, flagType, severity, reason); err != nil {
		return err
	}

	payload := ModerationPayload{Target: targetID, Action: action, IssuedBy: actorID, Reason: reason}
	switch action {
	case domain.ActionWarn:
		target.Warnings++
		a.emit(EventParticipantWarned, payload)
	case domain.ActionMute:
		target.Audio.Muted = true
		a.emit(EventParticipantMuted, payload)
	case domain.ActionUnmute:
		target.Audio.Muted = false
		a.emit(EventParticipantUnmuted, payload)
	case domain.ActionClear:
		// Audit-only, nothing to broadcast.
	case domain.ActionKick:
		a.removeLocked(targetID, reason, EventParticipantKicked)
	case domain.ActionBan:
		if present {
			a.removeLocked(targetID, reason, EventParticipantBanned)
		} else {
			a.emit(EventParticipantBanned, payload)
		}
	}
	log.Info().Str("module", "core.actor").Str("session", string(a.session.ID)).Str("by", string(actorID)).Str("target", string(targetID)).Str("action", string(action)).Msg("moderation applied")
	return nil
}

// Promote changes a participant's role. Moderator is host-grantable only.
func (a *Actor) Promote(actorID, targetID domain.ParticipantID, role domain.Role) error {
	var err error
	if derr := a.do(func() { err = a.promoteLocked(actorID, targetID, role) }); derr != nil {
		return derr
	}
	return err
}

func (a *Actor) promoteLocked(actorID, targetID domain.ParticipantID, role domain.Role) error {
	if err := a.guard(); err != nil {
		return err
	}
	issuer, ok := a.roster.Get(actorID)
	if !ok {
		return ErrNotFound
	}
	target, ok := a.roster.Get(targetID)
	if !ok {
		return ErrNotFound
	}
	if role == domain.RoleHost || target.Role == domain.RoleHost {
		return ErrForbidden
	}
	if role == domain.RoleModerator && issuer.Role != domain.RoleHost {
		return ErrForbidden
	}
	if !issuer.Role.CanModerate() {
		return ErrForbidden
	}
	target.Role = role
	a.emit(EventRoleChanged, *target)
	return nil
}

// EmergencyAlert is accepted from any participant regardless of role.
// Safety alerts are never filtered by permission checks.
func (a *Actor) EmergencyAlert(id domain.ParticipantID, alertType, message string) error {
	var err error
	if derr := a.do(func() { err = a.alertLocked(id, alertType, message) }); derr != nil {
		return derr
	}
	return err
}

func (a *Actor) alertLocked(id domain.ParticipantID, alertType, message string) error {
	if _, ok := a.roster.Get(id); !ok {
		return ErrNotFound
	}
	alert := a.mod.RecordAlert(id, alertType, message)
	a.emit(EventEmergencyAlert, alert)
	log.Warn().Str("module", "core.actor").Str("session", string(a.session.ID)).Str("participant", string(id)).Str("alert", alertType).Msg("emergency alert")
	return nil
}

// Heartbeat refreshes liveness. No event is emitted, avoiding event storms.
func (a *Actor) Heartbeat(id domain.ParticipantID) error {
	var err error
	if derr := a.do(func() { err = a.heartbeatLocked(id) }); derr != nil {
		return derr
	}
	return err
}

func (a *Actor) heartbeatLocked(id domain.ParticipantID) error {
	p, ok := a.roster.Get(id)
	if !ok {
		return ErrNotFound
	}
	p.LastHeartbeatAt = a.Now()
	if p.ConnectionStatus == domain.Disconnected {
		p.ConnectionStatus = domain.Connected
	}
	return nil
}

// MarkDegraded surfaces a transient transport problem to subscribers
// without touching roster membership.
func (a *Actor) MarkDegraded(id domain.ParticipantID, reason string) error {
	var err error
	if derr := a.do(func() { err = a.degradedLocked(id, reason) }); derr != nil {
		return derr
	}
	return err
}

func (a *Actor) degradedLocked(id domain.ParticipantID, reason string) error {
	if _, ok := a.roster.Get(id); !ok {
		return ErrNotFound
	}
	a.emit(EventConnectionDegraded, map[string]string{
		"participant_id": string(id),
		"reason":         reason,
	})
	return nil
}

func (a *Actor) RecordConsent(id domain.ParticipantID) error {
	var err error
	if derr := a.do(func() {
		p, ok := a.roster.Get(id)
		if !ok {
			err = ErrNotFound
			return
		}
		p.RecordingConsent = true
		a.emit(EventConsentRecorded, map[string]string{"participant_id": string(id)})
	}); derr != nil {
		return derr
	}
	return err
}

// Tick runs one liveness pass. The run loop calls this on its own ticker;
// the export exists for the registry sweep and deterministic tests.
func (a *Actor) Tick() error {
	return a.do(a.tickLocked)
}

func (a *Actor) tickLocked() {
	if a.quarantined {
		return
	}
	now := a.Now()
	if a.session.Status == domain.SessionActive && now.After(a.session.ExpiresAt) {
		a.endLocked("expired")
		return
	}
	for _, snap := range a.roster.Snapshot() {
		p, ok := a.roster.Get(snap.ID)
		if !ok {
			continue
		}
		idle := now.Sub(p.LastHeartbeatAt)
		switch p.ConnectionStatus {
		case domain.Connecting, domain.Connected:
			if idle > a.live.HeartbeatTimeout {
				p.ConnectionStatus = domain.Disconnected
				log.Info().Str("module", "core.actor").Str("session", string(a.session.ID)).Str("participant", string(p.ID)).Dur("idle", idle).Msg("participant disconnected, grace period started")
			}
		case domain.Disconnected:
			if idle > a.live.HeartbeatTimeout+a.live.GracePeriod {
				a.removeLocked(p.ID, "timeout", EventParticipantLeft)
			}
		}
	}
}

// End advances the session to ended and evicts everyone. Idempotent.
func (a *Actor) End(reason string) error {
	return a.do(func() { a.endLocked(reason) })
}

func (a *Actor) endLocked(reason string) {
	if !a.session.Status.CanAdvanceTo(domain.SessionEnding) {
		return
	}
	a.session.Status = domain.SessionEnding
	a.emit(EventSessionEnding, map[string]string{"reason": reason})
	for id := range a.rooms {
		a.closeRoomLocked(id)
	}
	for _, p := range a.roster.Snapshot() {
		a.roster.Remove(p.ID)
	}
	a.session.Status = domain.SessionEnded
	a.emit(EventSessionEnded, map[string]string{"reason": reason})
	log.Info().Str("module", "core.actor").Str("session", string(a.session.ID)).Str("reason", reason).Msg("session ended")
}

type RoomSnapshot struct {
	Room         domain.BreakoutRoom    `json:"room"`
	Participants []domain.ParticipantID `json:"participants"`
}

type SessionSnapshot struct {
	Session domain.Session       `json:"session"`
	Roster  []domain.Participant `json:"roster"`
	Rooms   []RoomSnapshot       `json:"rooms"`
}

func (a *Actor) Snapshot() (SessionSnapshot, error) {
	var snap SessionSnapshot
	err := a.do(func() {
		snap = SessionSnapshot{
			Session: *a.session,
			Roster:  a.roster.Snapshot(),
			Rooms:   a.roomsSnapshotLocked(),
		}
	})
	return snap, err
}

func (a *Actor) Status() domain.SessionStatus {
	st := domain.SessionEnded
	_ = a.do(func() { st = a.session.Status })
	return st
}

// AuditLog is read-only and restricted to hosts and moderators.
func (a *Actor) AuditLog(requester domain.ParticipantID) ([]domain.ModerationFlag, []domain.EmergencyAlert, error) {
	var flags []domain.ModerationFlag
	var alerts []domain.EmergencyAlert
	var err error
	if derr := a.do(func() {
		p, ok := a.roster.Get(requester)
		if !ok {
			err = ErrNotFound
			return
		}
		if !p.Role.CanModerate() {
			err = ErrForbidden
			return
		}
		flags = a.mod.Flags()
		alerts = a.mod.Alerts()
	}); derr != nil {
		return nil, nil, derr
	}
	return flags, alerts, err
}
