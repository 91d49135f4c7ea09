package core

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nexuschat/nexus-server/internal/store"
)

func TestOpenIsExclusivePerUsername(t *testing.T) {
	c, _ := newTestCore(t)

	if _, err := c.Sessions.Open("alice", &fakeConn{}); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := c.Sessions.Open("alice", &fakeConn{}); Code(err) != ErrCodeAlreadyOnline {
		t.Fatalf("expected already_online, got %v", err)
	}
}

func TestConcurrentOpensAdmitExactlyOne(t *testing.T) {
	c, _ := newTestCore(t)

	const attempts = 32
	var wg sync.WaitGroup
	var succeeded atomic.Int32

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Sessions.Open("alice", &fakeConn{}); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := succeeded.Load(); got != 1 {
		t.Fatalf("expected exactly 1 successful open, got %d", got)
	}
}

func TestCloseReturnsLastRoomAndClearsMembership(t *testing.T) {
	c, _ := newTestCore(t)
	connect(t, c, "alice")

	if _, err := c.Rooms.Create("alice", "tech-talk", ""); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := c.Rooms.Join("alice", "tech-talk"); err != nil {
		t.Fatalf("join: %v", err)
	}

	sess, err := c.Sessions.Close("alice")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if sess.Room != "tech-talk" {
		t.Fatalf("expected last room tech-talk, got %q", sess.Room)
	}
	if members := c.Rooms.Members("tech-talk"); len(members) != 0 {
		t.Fatalf("expected empty membership after close, got %v", members)
	}
	if _, err := c.Sessions.Lookup("alice"); err == nil {
		t.Fatalf("expected lookup to fail after close")
	}

	if _, err := c.Sessions.Close("alice"); err == nil {
		t.Fatalf("expected second close to fail")
	}
}

func TestListOnlineIsSorted(t *testing.T) {
	c, _ := newTestCore(t)
	connect(t, c, "zoe")
	connect(t, c, "alice")
	connect(t, c, "bob")

	got := c.Sessions.ListOnline()
	want := []string{"alice", "bob", "zoe"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSessionStartsInDefaultRoomViaJoin(t *testing.T) {
	c, _ := newTestCore(t)
	connect(t, c, "alice")

	sess, err := c.Sessions.Lookup("alice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if sess.Room != store.DefaultRoom {
		t.Fatalf("expected default room, got %q", sess.Room)
	}
	members := c.Rooms.Members(store.DefaultRoom)
	if len(members) != 1 || members[0] != "alice" {
		t.Fatalf("expected alice in default room, got %v", members)
	}
}
