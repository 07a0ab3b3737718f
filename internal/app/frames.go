package app

import (
	"encoding/json"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/tidwall/gjson"
)

const (
	TypeSystem     = "system"
	TypeRoomInfo   = "room-info"
	TypeUserList   = "user_list"
	TypeUserJoined = "user_joined"
	TypeUserLeft   = "user_left"
	TypeKick       = "kick"
	TypePing       = "ping"
)

const (
	ReasonDuplicateLogin = "You have been logged in from another location."
	ReasonRemoved        = "You have been removed from this room."
)

// Message is an outbound frame produced by the server itself. Relayed
// payloads never go through this type.
type Message interface {
	MessageType() string
}

type SystemMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type RoomInfoMessage struct {
	Type        string `json:"type"`
	WebsiteName string `json:"websiteName"`
	RoomName    string `json:"roomName"`
	Status      string `json:"status"`
	OnlineCount int    `json:"onlineCount"`
}

type UserListMessage struct {
	Type  string        `json:"type"`
	Users []domain.Peer `json:"users"`
}

type UserJoinedMessage struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	PublicKey string `json:"publicKey"`
}

type UserLeftMessage struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type KickMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (SystemMessage) MessageType() string     { return TypeSystem }
func (RoomInfoMessage) MessageType() string   { return TypeRoomInfo }
func (UserListMessage) MessageType() string   { return TypeUserList }
func (UserJoinedMessage) MessageType() string { return TypeUserJoined }
func (UserLeftMessage) MessageType() string   { return TypeUserLeft }
func (KickMessage) MessageType() string       { return TypeKick }

func NewSystem(content string) SystemMessage {
	return SystemMessage{Type: TypeSystem, Content: content}
}

func NewRoomInfo(settings *domain.Settings, roomID domain.RoomID, count int) RoomInfoMessage {
	room, _ := settings.RoomByID(roomID)
	return RoomInfoMessage{
		Type:        TypeRoomInfo,
		WebsiteName: settings.SiteName(),
		RoomName:    room.DisplayName(),
		Status:      room.DisplayStatus(),
		OnlineCount: count,
	}
}

func NewUserList(peers []*core.Session) UserListMessage {
	users := make([]domain.Peer, 0, len(peers))
	for _, p := range peers {
		users = append(users, p.Peer())
	}
	return UserListMessage{Type: TypeUserList, Users: users}
}

func NewUserJoined(s *core.Session) UserJoinedMessage {
	return UserJoinedMessage{Type: TypeUserJoined, Username: s.Username, PublicKey: s.PublicKey}
}

func NewUserLeft(username string) UserLeftMessage {
	return UserLeftMessage{Type: TypeUserLeft, Username: username}
}

func NewKick(reason string) KickMessage {
	return KickMessage{Type: TypeKick, Reason: reason}
}

func Encode(m Message) (core.Frame, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

// IsHeartbeat reports whether data is a client keepalive. Anything that is
// not a JSON object with type "ping" is treated as a relay payload.
func IsHeartbeat(data []byte) bool {
	if !gjson.ValidBytes(data) {
		return false
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return false
	}
	t := root.Get("type")
	return t.Type == gjson.String && t.Str == TypePing
}
