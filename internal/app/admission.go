package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dkeye/Relay/internal/domain"
)

const RelayPath = "/ws"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("too many attempts")
	ErrUnauthorized = errors.New("invalid room token")
	ErrForbidden    = errors.New("user not allowed in room")
	ErrChatClosed   = errors.New("chat is closed")
)

// AdmissionRequest is what an untrusted client presents when connecting.
type AdmissionRequest struct {
	Path      string
	Token     string
	Name      string
	PublicKey string
	ClientIP  string
}

// AdmissionError rejects a handshake with an HTTP status.
type AdmissionError struct {
	Status int
	Err    error
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected (%d): %v", e.Status, e.Err)
}

func (e *AdmissionError) Unwrap() error { return e.Err }

func reject(status int, err error) *AdmissionError {
	return &AdmissionError{Status: status, Err: err}
}

// StatusOf maps an admission failure to its HTTP status.
func StatusOf(err error) int {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// Admit checks a connection request against a settings snapshot. The first
// failing check wins. Only failed attempts count against the client's rate
// limit, so valid clients can reconnect freely.
func (o *Orchestrator) Admit(settings *domain.Settings, req AdmissionRequest) (*domain.RoomConfig, error) {
	if req.Path != RelayPath {
		return nil, reject(http.StatusNotFound, ErrNotFound)
	}
	if o.Limiter.Blocked(req.ClientIP) {
		return nil, reject(http.StatusTooManyRequests, ErrRateLimited)
	}
	room, err := admit(settings, req)
	if err != nil {
		o.Limiter.Fail(req.ClientIP)
		return nil, err
	}
	return room, nil
}

func admit(settings *domain.Settings, req AdmissionRequest) (*domain.RoomConfig, error) {
	room, ok := settings.RoomByToken(req.Token)
	if !ok {
		return nil, reject(http.StatusUnauthorized, ErrUnauthorized)
	}
	if req.Name == "" || !room.Allows(req.Name) {
		return nil, reject(http.StatusForbidden, ErrForbidden)
	}
	if !settings.IsChatOpen() {
		return nil, reject(http.StatusServiceUnavailable, ErrChatClosed)
	}
	return room, nil
}
