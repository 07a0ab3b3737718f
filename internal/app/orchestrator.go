package app

import (
	"errors"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultKickGrace = 100 * time.Millisecond

// SettingsSource hands out the current immutable settings snapshot.
type SettingsSource interface {
	Current() *domain.Settings
}

// Orchestrator ties admission, the registry, presence and moderation together.
type Orchestrator struct {
	Registry *core.Registry
	Settings SettingsSource
	Policy   Policy
	Limiter  *RateLimiter
	// KickGrace is the delay between a kick notice and the forced close.
	KickGrace time.Duration
}

func (o *Orchestrator) grace() time.Duration {
	if o.KickGrace <= 0 {
		return DefaultKickGrace
	}
	return o.KickGrace
}

// Connect registers an admitted session and announces it to its room. The
// allow list is checked again under the room lock, so a session admitted
// under an older snapshot cannot slip in after moderation ran. A refused
// session is kicked as removed.
func (o *Orchestrator) Connect(s *core.Session) bool {
	_, err := o.Registry.Join(s, o.stillAllowed, func(m core.Membership) {
		o.announceJoin(o.Settings.Current(), m)
	})
	switch {
	case errors.Is(err, core.ErrJoinRefused):
		log.Info().Str("module", "app.orch").Str("sid", string(s.ID)).Str("room", string(s.RoomID)).
			Str("user", s.Username).Msg("join refused by current settings")
		o.kick(s, ReasonRemoved, core.CloseRemoved, "Removed")
	case err != nil:
		log.Warn().Str("module", "app.orch").Str("sid", string(s.ID)).Msg("session closed before join")
		s.Close(core.CloseNormal, "")
	}
	return err == nil
}

func (o *Orchestrator) stillAllowed(s *core.Session) bool {
	settings := o.Settings.Current()
	room, ok := settings.RoomByID(s.RoomID)
	return ok && settings.IsChatOpen() && room.Allows(s.Username)
}

// Disconnect removes a session after its transport went away.
func (o *Orchestrator) Disconnect(s *core.Session) {
	o.Registry.Leave(s, func(m core.Membership) {
		o.announceLeave(o.Settings.Current(), m)
	})
}

// OnFrame handles one inbound client frame.
func (o *Orchestrator) OnFrame(s *core.Session, data core.Frame) {
	if IsHeartbeat(data) {
		return
	}
	o.relay(s, data)
}

func (o *Orchestrator) relay(from *core.Session, data core.Frame) {
	if !from.IsActive() {
		log.Debug().Str("module", "app.orch").Str("sid", string(from.ID)).Msg("drop frame from inactive session")
		return
	}
	res := o.Registry.Broadcast(from.RoomID, from, data)
	o.handleDropped(res.Dropped)
}

func (o *Orchestrator) handleDropped(dropped []*core.Session) {
	if o.Policy == nil {
		return
	}
	for _, slow := range dropped {
		switch o.Policy.OnBackPressure(slow) {
		case KickMember:
			log.Warn().Str("module", "app.orch").Str("sid", string(slow.ID)).Str("user", slow.Username).Msg("disconnecting slow consumer")
			slow.Close(core.CloseSlowConsumer, "slow consumer")
		case DropFrame, NoAction:
		}
	}
}
