package core

import "errors"

// Frame is a raw text payload.
type Frame []byte

// Close codes sent to clients on forced disconnect.
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseDuplicateLogin = 4001
	CloseRemoved        = 4003
	CloseSlowConsumer   = 4008
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; TrySend must never block.
//
//go:generate mockgen -source=signal_iface.go -destination=mock_core/mock_signal.go -package=mock_core
type SignalConnection interface {
	TrySend(Frame) error
	// Close flushes already queued frames, then closes with code.
	Close(code int, reason string)
}
