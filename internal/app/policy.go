package app

import "github.com/dkeye/Relay/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a peer whose outbound queue is full.
type Policy interface {
	OnBackPressure(member *core.Session) BackpressureAction
}

// SimplePolicy disconnects slow consumers so they cannot stall a room.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*core.Session) BackpressureAction {
	return KickMember
}
