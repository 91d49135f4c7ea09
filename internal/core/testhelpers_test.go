package core

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nexuschat/nexus-server/internal/store"
)

// fakeConn records pushed records for assertions.
type fakeConn struct {
	mu      sync.Mutex
	records []any
}

func (c *fakeConn) Push(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, v)
}

func (c *fakeConn) take() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.records
	c.records = nil
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// memPersister keeps snapshots in memory and can be told to fail.
type memPersister struct {
	mu     sync.Mutex
	writes int
	last   []byte
	fail   error
}

func (p *memPersister) WriteSnapshot(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.writes++
	p.last = data
	return nil
}

func (p *memPersister) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func newTestCore(t *testing.T) (*Core, *memPersister) {
	t.Helper()
	logger := zerolog.Nop()
	p := &memPersister{}
	return New(store.DefaultDocument(), p, &logger), p
}

// connect registers an account and opens a session for it, returning the
// recording connection. Fails the test on any error.
func connect(t *testing.T, c *Core, username string) *fakeConn {
	t.Helper()
	if _, err := c.Accounts.Register(username, "pw-"+username); err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	conn := &fakeConn{}
	if _, err := c.Sessions.Open(username, conn); err != nil {
		t.Fatalf("open session %s: %v", username, err)
	}
	if err := c.Router.JoinRoom(username, store.DefaultRoom, false); err != nil {
		t.Fatalf("join default room %s: %v", username, err)
	}
	conn.take() // discard the joined record and any notices so far
	return conn
}
