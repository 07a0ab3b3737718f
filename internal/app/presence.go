package app

import (
	"fmt"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// The helpers below run inside registry announcers, so they only queue
// frames and never block.

func (o *Orchestrator) send(s *core.Session, m Message) {
	f, err := Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Str("type", m.MessageType()).Msg("encode")
		return
	}
	if err := s.Send(f); err != nil {
		log.Debug().Err(err).Str("module", "app.presence").Str("sid", string(s.ID)).Str("type", m.MessageType()).Msg("send failed")
	}
}

func (o *Orchestrator) fanout(members []*core.Session, exclude *core.Session, m Message) {
	f, err := Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Str("type", m.MessageType()).Msg("encode")
		return
	}
	var dropped []*core.Session
	for _, s := range members {
		if s == exclude {
			continue
		}
		if err := s.Send(f); err != nil {
			dropped = append(dropped, s)
		}
	}
	o.handleDropped(dropped)
}

// kick tells s why it is going away and closes it after the grace period,
// whether or not the notice could be queued.
func (o *Orchestrator) kick(s *core.Session, reason string, code int, closeReason string) {
	o.send(s, NewKick(reason))
	time.AfterFunc(o.grace(), func() {
		s.Close(code, closeReason)
	})
	log.Info().Str("module", "app.presence").Str("sid", string(s.ID)).Str("room", string(s.RoomID)).
		Str("user", s.Username).Int("code", code).Msg("kick")
}

func (o *Orchestrator) announceJoin(settings *domain.Settings, m core.Membership) {
	for _, old := range m.Evicted {
		o.kick(old, ReasonDuplicateLogin, core.CloseDuplicateLogin, "Duplicate Login")
	}

	self := m.Self
	room, _ := settings.RoomByID(m.RoomID)
	name := string(m.RoomID)
	if room != nil {
		name = room.Name
	}

	o.fanout(m.Members, nil, NewRoomInfo(settings, m.RoomID, m.Count()))
	o.send(self, NewSystem(fmt.Sprintf("Joined %s", name)))
	o.send(self, NewUserList(m.Others()))
	o.fanout(m.Members, self, NewUserJoined(self))
}

func (o *Orchestrator) announceLeave(settings *domain.Settings, m core.Membership) {
	o.fanout(m.Members, nil, NewUserLeft(m.Self.Username))
	o.fanout(m.Members, nil, NewRoomInfo(settings, m.RoomID, m.Count()))
}

// BroadcastRoomInfo pushes a fresh room-info frame to every member of a room.
func (o *Orchestrator) BroadcastRoomInfo(roomID domain.RoomID) {
	settings := o.Settings.Current()
	o.Registry.Visit(roomID, func(members []*core.Session) {
		o.fanout(members, nil, NewRoomInfo(settings, roomID, len(members)))
	})
}
