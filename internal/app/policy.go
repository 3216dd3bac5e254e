package app

import "github.com/sanctumlive/sanctum/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	DisconnectSubscriber
)

// Policy decides what happens to a subscriber whose outbound queue
// overflowed. The session actor is never blocked either way.
type Policy interface {
	OnBackPressure(sid domain.SessionID, conn domain.ConnectionID) BackpressureAction
}

// SimplePolicy disconnects slow consumers; their participant then follows
// the normal disconnected → removed path.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.SessionID, domain.ConnectionID) BackpressureAction {
	return DisconnectSubscriber
}
