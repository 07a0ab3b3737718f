package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

const (
	DefaultWebsiteName = "Secure Chat"
	DefaultRetention   = time.Hour
)

var (
	ErrDuplicateRoomID = errors.New("duplicate room id")
	ErrDuplicateToken  = errors.New("duplicate room token")
	ErrEmptyToken      = errors.New("room token empty")
	ErrEmptyRoomID     = errors.New("room id empty")
)

// Settings is one immutable snapshot of the room configuration.
// Holders must never mutate a snapshot they did not build; use Clone.
type Settings struct {
	Rooms                []RoomConfig `json:"rooms"`
	WebsiteName          string       `json:"websiteName,omitempty"`
	ChatOpen             *bool        `json:"chatOpen,omitempty"`
	FileRetentionSeconds int          `json:"fileRetentionSeconds,omitempty"`
	AdminPassword        string       `json:"adminPassword,omitempty"`
}

// PublicSettings is the subset shown on the login screen.
type PublicSettings struct {
	WebsiteName string `json:"websiteName"`
	ChatOpen    bool   `json:"chatOpen"`
}

// RoomByToken finds the room whose token matches exactly.
func (s *Settings) RoomByToken(token string) (*RoomConfig, bool) {
	if s == nil || token == "" {
		return nil, false
	}
	for i := range s.Rooms {
		if s.Rooms[i].Token == token {
			return &s.Rooms[i], true
		}
	}
	return nil, false
}

func (s *Settings) RoomByID(id RoomID) (*RoomConfig, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Rooms {
		if s.Rooms[i].ID == id {
			return &s.Rooms[i], true
		}
	}
	return nil, false
}

// IsChatOpen treats an absent flag as open.
func (s *Settings) IsChatOpen() bool {
	return s == nil || s.ChatOpen == nil || *s.ChatOpen
}

func (s *Settings) SiteName() string {
	if s == nil || s.WebsiteName == "" {
		return DefaultWebsiteName
	}
	return s.WebsiteName
}

func (s *Settings) Retention() time.Duration {
	if s == nil || s.FileRetentionSeconds <= 0 {
		return DefaultRetention
	}
	return time.Duration(s.FileRetentionSeconds) * time.Second
}

func (s *Settings) Public() PublicSettings {
	return PublicSettings{WebsiteName: s.SiteName(), ChatOpen: s.IsChatOpen()}
}

// Clone returns a deep copy that is safe to modify.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return &Settings{}
	}
	out := *s
	if s.ChatOpen != nil {
		open := *s.ChatOpen
		out.ChatOpen = &open
	}
	out.Rooms = make([]RoomConfig, len(s.Rooms))
	for i, r := range s.Rooms {
		r.AllowedUsers = slices.Clone(r.AllowedUsers)
		out.Rooms[i] = r
	}
	return &out
}

func (s *Settings) Validate() error {
	ids := make(map[RoomID]struct{}, len(s.Rooms))
	tokens := make(map[string]struct{}, len(s.Rooms))
	for _, r := range s.Rooms {
		if r.ID == "" {
			return ErrEmptyRoomID
		}
		if r.Token == "" {
			return fmt.Errorf("room %s: %w", r.ID, ErrEmptyToken)
		}
		if _, dup := ids[r.ID]; dup {
			return fmt.Errorf("room %s: %w", r.ID, ErrDuplicateRoomID)
		}
		if _, dup := tokens[r.Token]; dup {
			return fmt.Errorf("room %s: %w", r.ID, ErrDuplicateToken)
		}
		ids[r.ID] = struct{}{}
		tokens[r.Token] = struct{}{}
		for _, u := range r.AllowedUsers {
			if err := ValidateUsername(u); err != nil {
				return fmt.Errorf("room %s: user %q: %w", r.ID, u, err)
			}
		}
	}
	return nil
}
