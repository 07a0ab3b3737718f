package domain

import "slices"

const (
	DefaultRoomStatus = "active"
	UnknownRoomName   = "Unknown"
)

type RoomID string

// RoomConfig is a room as the operator configured it.
type RoomConfig struct {
	ID           RoomID   `json:"id"`
	Token        string   `json:"token"`
	Name         string   `json:"name"`
	Status       string   `json:"status,omitempty"`
	AllowedUsers []string `json:"allowedUsers"`
}

// Allows reports whether username is on the allow list.
// An empty list admits nobody.
func (r *RoomConfig) Allows(username string) bool {
	if username == "" {
		return false
	}
	return slices.Contains(r.AllowedUsers, username)
}

func (r *RoomConfig) DisplayStatus() string {
	if r == nil || r.Status == "" {
		return DefaultRoomStatus
	}
	return r.Status
}

func (r *RoomConfig) DisplayName() string {
	if r == nil {
		return UnknownRoomName
	}
	return r.Name
}
