package core

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Membership is the state of one room right after a registry mutation.
// Members holds only Active sessions and includes Self when Self is a member.
type Membership struct {
	RoomID  domain.RoomID
	Self    *Session
	Members []*Session
	Evicted []*Session
}

func (m Membership) Count() int { return len(m.Members) }

// Others returns Members without Self.
func (m Membership) Others() []*Session {
	out := make([]*Session, 0, len(m.Members))
	for _, s := range m.Members {
		if s != m.Self {
			out = append(out, s)
		}
	}
	return out
}

// Announcer is called while the room is locked, so everything it queues is
// ordered the same way as the mutations that produced it. It must not block
// and must not call back into the Registry.
type Announcer func(Membership)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SentTo  int
	Dropped []*Session
}

// RoomInfo is a read-only view of a live room for APIs.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"onlineCount"`
	Members     []domain.Peer `json:"members"`
}

type roomEntry struct {
	mu      sync.RWMutex
	members map[*Session]struct{}
	// dead is set when the last member left; the entry is about to be
	// dropped from the map and must not accept joins.
	dead bool
}

func (e *roomEntry) active() []*Session {
	out := make([]*Session, 0, len(e.members))
	for s := range e.members {
		if s.IsActive() {
			out = append(out, s)
		}
	}
	return out
}

// Registry maps room ids to their live sessions. The map lock only guards
// the map itself; each room has its own lock, so rooms never contend.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*roomEntry)}
}

func (r *Registry) lookup(id domain.RoomID) *roomEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[id]
}

func (r *Registry) getOrCreate(id domain.RoomID) *roomEntry {
	if e := r.lookup(id); e != nil {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.rooms[id]; ok {
		return e
	}
	e := &roomEntry{members: make(map[*Session]struct{})}
	r.rooms[id] = e
	return e
}

func (r *Registry) retire(id domain.RoomID, e *roomEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[id] == e {
		delete(r.rooms, id)
	}
}

var (
	ErrSessionClosed = errors.New("session already closed")
	ErrJoinRefused   = errors.New("join refused")
)

// Join activates s and inserts it into its room. admit, when set, is asked
// again under the room lock; a refused session is marked closed and nothing
// else changes. Any other session of the same username is removed and closed
// in the same critical section, so no observer ever sees two of them.
func (r *Registry) Join(s *Session, admit func(*Session) bool, announce Announcer) (Membership, error) {
	for {
		e := r.getOrCreate(s.RoomID)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			r.retire(s.RoomID, e)
			continue
		}
		if admit != nil && !admit(s) {
			s.markClosed()
			empty := len(e.members) == 0
			if empty {
				e.dead = true
			}
			e.mu.Unlock()
			if empty {
				r.retire(s.RoomID, e)
			}
			return Membership{RoomID: s.RoomID, Self: s}, ErrJoinRefused
		}
		if !s.Activate() {
			e.mu.Unlock()
			return Membership{RoomID: s.RoomID, Self: s}, ErrSessionClosed
		}

		var evicted []*Session
		for m := range e.members {
			if m != s && m.Username == s.Username {
				delete(e.members, m)
				m.markClosed()
				evicted = append(evicted, m)
			}
		}
		e.members[s] = struct{}{}

		mem := Membership{RoomID: s.RoomID, Self: s, Members: e.active(), Evicted: evicted}
		if announce != nil {
			announce(mem)
		}
		e.mu.Unlock()

		log.Info().Str("module", "core.registry").Str("sid", string(s.ID)).Str("room", string(s.RoomID)).
			Str("user", s.Username).Int("evicted", len(evicted)).Int("count", mem.Count()).Msg("member joined")
		return mem, nil
	}
}

// Leave removes s from its room and marks it closed. announce runs only if
// s was still a member and somebody is left to hear about it. An emptied
// room is deleted.
func (r *Registry) Leave(s *Session, announce Announcer) bool {
	e := r.lookup(s.RoomID)
	if e == nil {
		s.markClosed()
		return false
	}

	e.mu.Lock()
	if _, ok := e.members[s]; !ok {
		e.mu.Unlock()
		s.markClosed()
		return false
	}
	delete(e.members, s)
	s.markClosed()
	empty := len(e.members) == 0
	if empty {
		e.dead = true
	} else if announce != nil {
		announce(Membership{RoomID: s.RoomID, Self: s, Members: e.active()})
	}
	e.mu.Unlock()

	if empty {
		r.retire(s.RoomID, e)
	}
	log.Info().Str("module", "core.registry").Str("sid", string(s.ID)).Str("room", string(s.RoomID)).
		Str("user", s.Username).Bool("room_closed", empty).Msg("member left")
	return true
}

// Evict removes and closes every member matching disallowed. announce is
// called whenever the room exists, even if nobody matched, so callers can
// use it to refresh presence under the room lock.
func (r *Registry) Evict(id domain.RoomID, disallowed func(*Session) bool, announce Announcer) []*Session {
	e := r.lookup(id)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return nil
	}
	var evicted []*Session
	for m := range e.members {
		if disallowed(m) {
			delete(e.members, m)
			m.markClosed()
			evicted = append(evicted, m)
		}
	}
	empty := len(e.members) == 0
	if empty {
		e.dead = true
	}
	if announce != nil {
		announce(Membership{RoomID: id, Members: e.active(), Evicted: evicted})
	}
	e.mu.Unlock()

	if empty {
		r.retire(id, e)
	}
	if len(evicted) > 0 {
		log.Info().Str("module", "core.registry").Str("room", string(id)).Int("evicted", len(evicted)).Msg("members evicted")
	}
	return evicted
}

// Visit runs fn with the current active members while holding the room's
// read lock. It is a no-op for an unknown room.
func (r *Registry) Visit(id domain.RoomID, fn func(members []*Session)) bool {
	e := r.lookup(id)
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dead {
		return false
	}
	fn(e.active())
	return true
}

// Broadcast queues f to every active member except from. Delivery to one
// peer never depends on another.
func (r *Registry) Broadcast(id domain.RoomID, from *Session, f Frame) PublishResult {
	res := PublishResult{}
	r.Visit(id, func(members []*Session) {
		for _, m := range members {
			if m == from {
				continue
			}
			if err := m.Send(f); err != nil {
				res.Dropped = append(res.Dropped, m)
				continue
			}
			res.SentTo++
		}
	})
	log.Debug().Str("module", "core.registry").Str("room", string(id)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SnapshotMembers returns a copy of the active members of a room.
func (r *Registry) SnapshotMembers(id domain.RoomID) []*Session {
	var out []*Session
	r.Visit(id, func(members []*Session) { out = members })
	return out
}

// CountOf returns the number of active members, 0 for an unknown room.
func (r *Registry) CountOf(id domain.RoomID) int {
	n := 0
	r.Visit(id, func(members []*Session) { n = len(members) })
	return n
}

func (r *Registry) RoomIDs() []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	return out
}

func (r *Registry) List() []RoomInfo {
	ids := r.RoomIDs()
	out := make([]RoomInfo, 0, len(ids))
	for _, id := range ids {
		r.Visit(id, func(members []*Session) {
			info := RoomInfo{ID: id, MemberCount: len(members), Members: make([]domain.Peer, 0, len(members))}
			for _, m := range members {
				info.Members = append(info.Members, m.Peer())
			}
			out = append(out, info)
		})
	}
	slices.SortFunc(out, func(a, b RoomInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
