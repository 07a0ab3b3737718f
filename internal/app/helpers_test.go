package app_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

// recConn records every frame and the close call.
type recConn struct {
	mu        sync.Mutex
	frames    []core.Frame
	closed    bool
	closeCode int
	full      bool
}

func (c *recConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recConn) Close(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
}

func (c *recConn) isClosed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

type envelope map[string]any

func (c *recConn) messages(t *testing.T) []envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var e envelope
		if err := json.Unmarshal(f, &e); err != nil {
			t.Fatalf("frame %q is not JSON: %v", f, err)
		}
		out = append(out, e)
	}
	return out
}

func (c *recConn) ofType(t *testing.T, typ string) []envelope {
	t.Helper()
	var out []envelope
	for _, m := range c.messages(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *recConn) raw() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, string(f))
	}
	return out
}

func (c *recConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

type staticSettings struct {
	mu sync.Mutex
	s  *domain.Settings
}

func (s *staticSettings) Current() *domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s
}

func (s *staticSettings) set(next *domain.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s = next
}

func testSettings() *domain.Settings {
	return &domain.Settings{
		WebsiteName: "Test Chat",
		Rooms: []domain.RoomConfig{
			{ID: "R1", Token: "t1", Name: "Room One", AllowedUsers: []string{"alice", "bob", "carol"}},
			{ID: "R2", Token: "t2", Name: "Room Two", Status: "maintenance", AllowedUsers: []string{"alice"}},
		},
	}
}

func newOrch() (*app.Orchestrator, *staticSettings) {
	src := &staticSettings{s: testSettings()}
	return &app.Orchestrator{
		Registry:  core.NewRegistry(),
		Settings:  src,
		Policy:    app.SimplePolicy{},
		KickGrace: 5 * time.Millisecond,
	}, src
}

func connect(t *testing.T, o *app.Orchestrator, room domain.RoomID, name string) (*core.Session, *recConn) {
	t.Helper()
	conn := &recConn{}
	s := core.NewSession(room, name, "pk-"+name, conn)
	if !o.Connect(s) {
		t.Fatalf("Connect(%s) = false", name)
	}
	return s, conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
