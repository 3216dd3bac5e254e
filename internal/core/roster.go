package core

import "github.com/sanctumlive/sanctum/internal/domain"

// Roster is the canonical, deduplicated participant set for one session.
// Upsert is the sole mutation path and is keyed by ParticipantID, never by
// ConnectionID: that is what keeps one record per human under reconnect
// storms or duplicate join messages.
//
// Owned exclusively by a session's run loop; no locking here.
type Roster struct {
	byID  map[domain.ParticipantID]*domain.Participant
	order []domain.ParticipantID
}

func NewRoster() *Roster {
	return &Roster{byID: make(map[domain.ParticipantID]*domain.Participant)}
}

func (r *Roster) Get(id domain.ParticipantID) (*domain.Participant, bool) {
	p, ok := r.byID[id]
	return p, ok
}

func (r *Roster) Len() int { return len(r.byID) }

// Upsert inserts a fresh record or patches the existing one for id.
// create is only consulted when id is absent.
func (r *Roster) Upsert(id domain.ParticipantID, create func() *domain.Participant, patch func(*domain.Participant)) *domain.Participant {
	p, ok := r.byID[id]
	if !ok {
		p = create()
		r.byID[id] = p
		r.order = append(r.order, id)
	}
	if patch != nil {
		patch(p)
	}
	return p
}

func (r *Roster) Remove(id domain.ParticipantID) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns copies in join order.
func (r *Roster) Snapshot() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		if p, ok := r.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// CheckIntegrity reports whether the order index and the id map disagree,
// which would mean a duplicated or orphaned record.
func (r *Roster) CheckIntegrity() bool {
	if len(r.order) != len(r.byID) {
		return false
	}
	seen := make(map[domain.ParticipantID]bool, len(r.order))
	for _, id := range r.order {
		if seen[id] {
			return false
		}
		seen[id] = true
		if _, ok := r.byID[id]; !ok {
			return false
		}
	}
	return true
}
