package core_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/core/mock_core"
	"github.com/dkeye/Relay/internal/domain"
	"go.uber.org/mock/gomock"
)

type stubConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	err    error
}

func (c *stubConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *stubConn) Close(int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *stubConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func newSession(room domain.RoomID, name string) (*core.Session, *stubConn) {
	conn := &stubConn{}
	return core.NewSession(room, name, "pk-"+name, conn), conn
}

func TestJoinActivatesAndCounts(t *testing.T) {
	reg := core.NewRegistry()
	alice, _ := newSession("r1", "alice")

	if alice.State() != core.StateConnecting {
		t.Fatalf("new session state = %s", alice.State())
	}
	m, err := reg.Join(alice, nil, nil)
	if err != nil {
		t.Fatalf("Join() = %v", err)
	}
	if !alice.IsActive() {
		t.Errorf("state after join = %s", alice.State())
	}
	if m.Count() != 1 || len(m.Others()) != 0 {
		t.Errorf("membership = %d members, %d others", m.Count(), len(m.Others()))
	}
	if reg.CountOf("r1") != 1 {
		t.Errorf("CountOf(r1) = %d", reg.CountOf("r1"))
	}
	if reg.CountOf("nope") != 0 {
		t.Errorf("CountOf(unknown) = %d", reg.CountOf("nope"))
	}
}

func TestJoinEvictsSameUsername(t *testing.T) {
	reg := core.NewRegistry()
	first, _ := newSession("r1", "alice")
	bob, _ := newSession("r1", "bob")
	second, _ := newSession("r1", "alice")
	reg.Join(first, nil, nil)
	reg.Join(bob, nil, nil)

	var seen core.Membership
	if _, err := reg.Join(second, nil, func(m core.Membership) { seen = m }); err != nil {
		t.Fatalf("Join() = %v", err)
	}
	if len(seen.Evicted) != 1 || seen.Evicted[0] != first {
		t.Fatalf("evicted = %v, want first alice", seen.Evicted)
	}
	if seen.Count() != 2 {
		t.Errorf("count during announce = %d, want 2", seen.Count())
	}
	for _, s := range seen.Members {
		if s == first {
			t.Error("evicted session is still listed as a member")
		}
	}
	if first.State() != core.StateClosed {
		t.Errorf("evicted state = %s", first.State())
	}

	// The evicted session's own cleanup must not disturb the room.
	if reg.Leave(first, func(core.Membership) { t.Error("announce for evicted session") }) {
		t.Error("Leave(evicted) = true")
	}
	if reg.CountOf("r1") != 2 {
		t.Errorf("CountOf(r1) = %d, want 2", reg.CountOf("r1"))
	}
}

func TestJoinClosedSessionIsRejected(t *testing.T) {
	reg := core.NewRegistry()
	s, _ := newSession("r1", "alice")
	s.Close(core.CloseNormal, "")

	_, err := reg.Join(s, nil, func(core.Membership) { t.Error("announce for closed session") })
	if !errors.Is(err, core.ErrSessionClosed) {
		t.Fatalf("Join(closed) = %v", err)
	}
	if reg.CountOf("r1") != 0 {
		t.Errorf("CountOf(r1) = %d", reg.CountOf("r1"))
	}
}

func TestJoinRefusedLeavesRoomUntouched(t *testing.T) {
	reg := core.NewRegistry()
	bob, _ := newSession("r1", "bob")
	reg.Join(bob, nil, nil)

	again, _ := newSession("r1", "bob")
	refuse := func(*core.Session) bool { return false }
	_, err := reg.Join(again, refuse, func(core.Membership) { t.Error("announce for refused session") })
	if !errors.Is(err, core.ErrJoinRefused) {
		t.Fatalf("Join() = %v, want ErrJoinRefused", err)
	}
	if again.State() != core.StateClosed {
		t.Errorf("refused state = %s", again.State())
	}
	if !bob.IsActive() || reg.CountOf("r1") != 1 {
		t.Error("refused join evicted the existing session")
	}

	// A refused join into an empty room leaves no entry behind.
	carol, _ := newSession("r2", "carol")
	if _, err := reg.Join(carol, refuse, nil); !errors.Is(err, core.ErrJoinRefused) {
		t.Fatalf("Join() = %v", err)
	}
	for _, id := range reg.RoomIDs() {
		if id == "r2" {
			t.Error("refused join left a room entry")
		}
	}
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	reg := core.NewRegistry()
	alice, _ := newSession("r1", "alice")
	bob, _ := newSession("r1", "bob")
	reg.Join(alice, nil, nil)
	reg.Join(bob, nil, nil)

	var seen core.Membership
	if !reg.Leave(alice, func(m core.Membership) { seen = m }) {
		t.Fatal("Leave(alice) = false")
	}
	if seen.Count() != 1 || seen.Members[0] != bob || seen.Self != alice {
		t.Errorf("leave membership = %+v", seen)
	}

	if !reg.Leave(bob, func(core.Membership) { t.Error("announce for emptied room") }) {
		t.Fatal("Leave(bob) = false")
	}
	if ids := reg.RoomIDs(); len(ids) != 0 {
		t.Errorf("RoomIDs() = %v, want none", ids)
	}

	// The room comes back on the next join.
	carol, _ := newSession("r1", "carol")
	reg.Join(carol, nil, nil)
	if reg.CountOf("r1") != 1 {
		t.Errorf("CountOf(r1) after rejoin = %d", reg.CountOf("r1"))
	}
}

func TestEvict(t *testing.T) {
	reg := core.NewRegistry()
	alice, _ := newSession("r1", "alice")
	bob, _ := newSession("r1", "bob")
	reg.Join(alice, nil, nil)
	reg.Join(bob, nil, nil)

	called := false
	evicted := reg.Evict("r1", func(s *core.Session) bool { return s.Username == "bob" }, func(m core.Membership) {
		called = true
		if m.Count() != 1 || len(m.Evicted) != 1 {
			t.Errorf("evict membership = %d members, %d evicted", m.Count(), len(m.Evicted))
		}
	})
	if !called {
		t.Error("announce not called")
	}
	if len(evicted) != 1 || evicted[0] != bob || bob.IsActive() {
		t.Fatalf("evicted = %v", evicted)
	}

	// Nobody matches: announce still runs for a presence refresh.
	called = false
	reg.Evict("r1", func(*core.Session) bool { return false }, func(core.Membership) { called = true })
	if !called {
		t.Error("announce not called when nobody was evicted")
	}

	if got := reg.Evict("missing", func(*core.Session) bool { return true }, nil); got != nil {
		t.Errorf("Evict(missing) = %v", got)
	}

	reg.Evict("r1", func(*core.Session) bool { return true }, nil)
	if len(reg.RoomIDs()) != 0 {
		t.Error("room not deleted after evicting everybody")
	}
}

func TestBroadcastSkipsSenderAndIsolatesFailures(t *testing.T) {
	reg := core.NewRegistry()
	alice, aliceConn := newSession("r1", "alice")
	bob, bobConn := newSession("r1", "bob")
	carol, carolConn := newSession("r1", "carol")
	other, otherConn := newSession("r2", "dave")
	for _, s := range []*core.Session{alice, bob, carol, other} {
		reg.Join(s, nil, nil)
	}
	bobConn.err = core.ErrBackpressure

	res := reg.Broadcast("r1", alice, core.Frame(`{"msg":"hi"}`))
	if res.SentTo != 1 {
		t.Errorf("SentTo = %d, want 1", res.SentTo)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != bob {
		t.Errorf("Dropped = %v, want bob", res.Dropped)
	}
	if aliceConn.count() != 0 {
		t.Error("sender received its own frame")
	}
	if carolConn.count() != 1 {
		t.Errorf("carol frames = %d", carolConn.count())
	}
	if otherConn.count() != 0 {
		t.Error("frame leaked into another room")
	}
}

func TestBroadcastUsesTransport(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := core.NewRegistry()

	conn := mock_core.NewMockSignalConnection(ctrl)
	peer := core.NewSession("r1", "bob", "pk", conn)
	sender, _ := newSession("r1", "alice")
	reg.Join(peer, nil, nil)
	reg.Join(sender, nil, nil)

	frame := core.Frame(`{"ciphertext":"abc"}`)
	conn.EXPECT().TrySend(frame).Return(errors.New("boom"))
	conn.EXPECT().Close(core.CloseNormal, "bye")

	if res := reg.Broadcast("r1", sender, frame); len(res.Dropped) != 1 {
		t.Errorf("Dropped = %d, want 1", len(res.Dropped))
	}
	peer.Close(core.CloseNormal, "bye")
	if peer.State() != core.StateClosed {
		t.Errorf("state = %s", peer.State())
	}
}

func TestListIsSortedWithPeers(t *testing.T) {
	reg := core.NewRegistry()
	b, _ := newSession("b", "bob")
	a, _ := newSession("a", "alice")
	reg.Join(b, nil, nil)
	reg.Join(a, nil, nil)

	list := reg.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("List() = %+v", list)
	}
	if list[0].Members[0] != (domain.Peer{Username: "alice", PublicKey: "pk-alice"}) {
		t.Errorf("peer = %+v", list[0].Members[0])
	}
}

func TestConcurrentJoinSameUsernameLeavesOne(t *testing.T) {
	reg := core.NewRegistry()
	const n = 50

	var wg sync.WaitGroup
	sessions := make([]*core.Session, n)
	for i := range n {
		sessions[i], _ = newSession("r1", "alice")
	}
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Join(s, nil, nil)
		}()
	}
	wg.Wait()

	if got := reg.CountOf("r1"); got != 1 {
		t.Fatalf("CountOf(r1) = %d, want exactly one alice", got)
	}
	active := 0
	for _, s := range sessions {
		if s.IsActive() {
			active++
		}
	}
	if active != 1 {
		t.Errorf("%d sessions still active, want 1", active)
	}
}

func TestConcurrentRoomsChurn(t *testing.T) {
	reg := core.NewRegistry()
	var wg sync.WaitGroup
	for r := range 8 {
		room := domain.RoomID(fmt.Sprintf("room-%d", r))
		for u := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, _ := newSession(room, fmt.Sprintf("user-%d", u))
				reg.Join(s, nil, nil)
				reg.Broadcast(room, s, core.Frame("x"))
				reg.Leave(s, nil)
			}()
		}
	}
	wg.Wait()

	if ids := reg.RoomIDs(); len(ids) != 0 {
		t.Errorf("RoomIDs() after churn = %v, want none", ids)
	}
}
