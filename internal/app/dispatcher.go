package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sanctumlive/sanctum/internal/core"
	"github.com/sanctumlive/sanctum/internal/domain"
)

// Dispatcher fans session events out to subscribed connections. Each
// session has a single producer (its actor), so per-subscriber delivery
// order matches emit order with no reordering buffer. Slow consumers are
// served from a bounded queue and cut loose on overflow instead of ever
// stalling the actor.
type Dispatcher struct {
	mu        sync.RWMutex
	subs      map[domain.SessionID]map[domain.ConnectionID]*subscriber
	sessionOf map[domain.ConnectionID]domain.SessionID

	queueSize int
	policy    Policy
}

type subscriber struct {
	ch     chan core.Event
	closed bool
}

func NewDispatcher(queueSize int, policy Policy) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Dispatcher{
		subs:      make(map[domain.SessionID]map[domain.ConnectionID]*subscriber),
		sessionOf: make(map[domain.ConnectionID]domain.SessionID),
		queueSize: queueSize,
		policy:    policy,
	}
}

// Subscribe registers a connection for a session's event stream. The
// returned channel is closed on unsubscribe or overflow disconnect; a
// reader seeing the close must drop the transport connection.
func (d *Dispatcher) Subscribe(sid domain.SessionID, cid domain.ConnectionID) <-chan core.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	// One subscription per connection; resubscribing moves it.
	if prev, ok := d.sessionOf[cid]; ok {
		d.dropLocked(prev, cid)
	}

	if d.subs[sid] == nil {
		d.subs[sid] = make(map[domain.ConnectionID]*subscriber)
	}
	sub := &subscriber{ch: make(chan core.Event, d.queueSize)}
	d.subs[sid][cid] = sub
	d.sessionOf[cid] = sid
	log.Info().Str("module", "app.dispatcher").Str("session", string(sid)).Str("conn", string(cid)).Msg("subscribed")
	return sub.ch
}

func (d *Dispatcher) Unsubscribe(cid domain.ConnectionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sid, ok := d.sessionOf[cid]; ok {
		d.dropLocked(sid, cid)
	}
}

func (d *Dispatcher) dropLocked(sid domain.SessionID, cid domain.ConnectionID) {
	if conns, ok := d.subs[sid]; ok {
		if sub, ok := conns[cid]; ok {
			delete(conns, cid)
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
		if len(conns) == 0 {
			delete(d.subs, sid)
		}
	}
	delete(d.sessionOf, cid)
}

// Publish implements core.EventSink. Called from exactly one goroutine per
// session; never blocks.
func (d *Dispatcher) Publish(sid domain.SessionID, ev core.Event) {
	// Sends are non-blocking, so the read lock is held across the fan-out;
	// that excludes a concurrent close of any target channel.
	d.mu.RLock()
	var overflowed []domain.ConnectionID
	for cid, sub := range d.subs[sid] {
		select {
		case sub.ch <- ev:
		default:
			overflowed = append(overflowed, cid)
		}
	}
	d.mu.RUnlock()
	for _, cid := range overflowed {
		switch d.policy.OnBackPressure(sid, cid) {
		case DisconnectSubscriber:
			log.Warn().Str("module", "app.dispatcher").Str("session", string(sid)).Str("conn", string(cid)).Msg("subscriber queue overflow, disconnecting")
			d.Unsubscribe(cid)
		case DropEvent, NoAction:
		}
	}
}

func (d *Dispatcher) SubscriberCount(sid domain.SessionID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[sid])
}
