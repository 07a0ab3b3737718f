package app

import (
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Eviction records one user removed by a settings change.
type Eviction struct {
	RoomID   domain.RoomID `json:"roomId"`
	Username string        `json:"username"`
}

// ApplySettings re-evaluates every live room against next. It must be given
// the snapshot the administrator just submitted, not whatever a background
// reload has picked up so far.
func (o *Orchestrator) ApplySettings(next *domain.Settings) []Eviction {
	var out []Eviction
	for _, roomID := range o.Registry.RoomIDs() {
		room, configured := next.RoomByID(roomID)
		disallowed := func(s *core.Session) bool {
			return configured && !room.Allows(s.Username)
		}

		evicted := o.Registry.Evict(roomID, disallowed, func(m core.Membership) {
			for _, s := range m.Evicted {
				o.kick(s, ReasonRemoved, core.CloseRemoved, "Removed")
			}
			for _, s := range m.Evicted {
				o.fanout(m.Members, nil, NewUserLeft(s.Username))
			}
			o.fanout(m.Members, nil, NewRoomInfo(next, roomID, m.Count()))
		})

		for _, s := range evicted {
			out = append(out, Eviction{RoomID: roomID, Username: s.Username})
		}
	}
	log.Info().Str("module", "app.moderation").Int("evicted", len(out)).Msg("settings applied")
	return out
}
