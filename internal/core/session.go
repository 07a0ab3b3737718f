package core

import (
	"sync/atomic"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/google/uuid"
)

type SessionID string

type SessionState int32

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one admitted connection inside one room. It is never reused:
// a reconnect produces a new Session.
type Session struct {
	ID        SessionID
	RoomID    domain.RoomID
	Username  string
	PublicKey string

	state atomic.Int32
	conn  SignalConnection
}

func NewSession(roomID domain.RoomID, username, publicKey string, conn SignalConnection) *Session {
	return &Session{
		ID:        SessionID(uuid.NewString()),
		RoomID:    roomID,
		Username:  username,
		PublicKey: publicKey,
		conn:      conn,
	}
}

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) IsActive() bool { return s.State() == StateActive }

// Activate moves Connecting -> Active. It fails for a closed session.
func (s *Session) Activate() bool {
	return s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))
}

// markClosed reports whether this call performed the transition.
func (s *Session) markClosed() bool {
	for {
		cur := s.state.Load()
		if cur == int32(StateClosed) {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(StateClosed)) {
			return true
		}
	}
}

func (s *Session) Peer() domain.Peer {
	return domain.Peer{Username: s.Username, PublicKey: s.PublicKey}
}

// Send queues f on the transport without blocking. It does not look at the
// lifecycle state so a final notice can still reach an evicted session.
func (s *Session) Send(f Frame) error {
	if s.conn == nil {
		return ErrConnClosed
	}
	return s.conn.TrySend(f)
}

// Close marks the session closed and asks the transport to shut down.
func (s *Session) Close(code int, reason string) {
	s.markClosed()
	if s.conn != nil {
		s.conn.Close(code, reason)
	}
}
