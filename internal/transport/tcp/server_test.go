package tcp

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexuschat/nexus-server/internal/core"
	"github.com/nexuschat/nexus-server/internal/store"
)

func startServer(t *testing.T) string {
	t.Helper()

	st := store.New(filepath.Join(t.TempDir(), "data.json"))
	doc, err := st.Load()
	if err != nil {
		t.Fatalf("load document: %v", err)
	}
	logger := zerolog.Nop()
	srv := NewServer("127.0.0.1:0", core.New(doc, st, &logger), time.Second, &logger)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx); err != nil {
			t.Errorf("serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return srv.Addr().String()
}

// testClient drives one scripted connection.
type testClient struct {
	t    *testing.T
	conn net.Conn
	rd   *bufio.Reader
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, rd: bufio.NewReader(conn)}
}

func (c *testClient) send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) sendRaw(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("write raw: %v", err)
	}
}

// expect reads records until one of the wanted type arrives, skipping
// interleaved notices. Fails after the deadline.
func (c *testClient) expect(typ string) map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		line, err := c.rd.ReadBytes('\n')
		if err != nil {
			c.t.Fatalf("waiting for %q record: %v", typ, err)
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			c.t.Fatalf("bad record %q: %v", line, err)
		}
		if rec["type"] == typ {
			return rec
		}
	}
}

// expectSystemContaining waits for a system notice containing substr.
func (c *testClient) expectSystemContaining(substr string) {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := c.expect("system")
		if strings.Contains(rec["msg"].(string), substr) {
			return
		}
	}
	c.t.Fatalf("no system notice containing %q", substr)
}

// expectClosed drains until the server drops the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, err := c.rd.ReadBytes('\n'); err != nil {
			return
		}
	}
}

func (c *testClient) register(username, password string) map[string]any {
	c.t.Helper()
	c.send(map[string]any{"action": "register", "username": username, "password": password})
	return c.expect("auth")
}

func (c *testClient) login(username, password string) map[string]any {
	c.t.Helper()
	c.send(map[string]any{"action": "login", "username": username, "password": password})
	return c.expect("auth")
}

func (c *testClient) quit() {
	c.t.Helper()
	c.send(map[string]any{"type": "quit"})
	c.expectClosed()
}

func TestRegisterLoginFlow(t *testing.T) {
	addr := startServer(t)

	alice := dialClient(t, addr)
	if auth := alice.register("alice", "pw1"); auth["ok"] != true {
		t.Fatalf("register failed: %v", auth)
	}
	alice.quit()

	wrong := dialClient(t, addr)
	if auth := wrong.login("alice", "wrong"); auth["ok"] != false || auth["msg"] != "Wrong password." {
		t.Fatalf("expected wrong-password rejection, got %v", auth)
	}
	wrong.expectClosed()

	again := dialClient(t, addr)
	auth := again.login("alice", "pw1")
	if auth["ok"] != true || auth["username"] != "alice" {
		t.Fatalf("login failed: %v", auth)
	}
	if _, ok := auth["rooms"].([]any); !ok {
		t.Fatalf("expected room list in auth reply: %v", auth)
	}
	joined := again.expect("joined")
	if joined["room"] != "general" {
		t.Fatalf("expected auto-join into general, got %v", joined)
	}
}

func TestDuplicateLoginRejected(t *testing.T) {
	addr := startServer(t)

	first := dialClient(t, addr)
	if auth := first.register("alice", "pw1"); auth["ok"] != true {
		t.Fatalf("register failed: %v", auth)
	}
	first.expect("joined")

	second := dialClient(t, addr)
	auth := second.login("alice", "pw1")
	if auth["ok"] != false || !strings.Contains(auth["msg"].(string), "Already logged in") {
		t.Fatalf("expected duplicate-login rejection, got %v", auth)
	}
	second.expectClosed()
}

func TestRoomBroadcastIncludesSender(t *testing.T) {
	addr := startServer(t)

	alice := dialClient(t, addr)
	alice.register("alice", "pw1")
	alice.expect("joined")
	bob := dialClient(t, addr)
	bob.register("bob", "pw2")
	bob.expect("joined")

	alice.send(map[string]any{"type": "join", "room": "tech"})
	alice.expect("joined")
	bob.send(map[string]any{"type": "join", "room": "tech"})
	bob.expect("joined")

	alice.send(map[string]any{"type": "msg", "text": "hello"})

	for name, c := range map[string]*testClient{"alice": alice, "bob": bob} {
		msg := c.expect("msg")
		if msg["from"] != "alice" || msg["text"] != "hello" || msg["room"] != "tech" {
			t.Fatalf("%s got unexpected message: %v", name, msg)
		}
	}
}

func TestRoomDeleteOwnershipAndEviction(t *testing.T) {
	addr := startServer(t)

	alice := dialClient(t, addr)
	alice.register("alice", "pw1")
	alice.expect("joined")
	bob := dialClient(t, addr)
	bob.register("bob", "pw2")
	bob.expect("joined")

	alice.send(map[string]any{"type": "create_room", "name": "book-club", "topic": "reading"})
	alice.expect("room_created")
	alice.expect("joined")
	bob.expect("room_created")

	bob.send(map[string]any{"type": "join", "room": "book-club"})
	bob.expect("joined")

	bob.send(map[string]any{"type": "delete_room", "name": "book-club"})
	bob.expectSystemContaining("Only the owner can delete a room.")

	alice.send(map[string]any{"type": "delete_room", "name": "book-club"})
	// Bob is evicted back into general and told about the deletion.
	joined := bob.expect("joined")
	if joined["room"] != "general" {
		t.Fatalf("expected bob evicted to general, got %v", joined)
	}
	bob.expectSystemContaining("deleted by alice")

	bob.send(map[string]any{"type": "rooms"})
	rooms := bob.expect("rooms")
	for _, r := range rooms["rooms"].([]any) {
		if r.(map[string]any)["name"] == "book-club" {
			t.Fatalf("deleted room still listed: %v", rooms)
		}
	}
}

func TestOverlongMessageRejected(t *testing.T) {
	addr := startServer(t)

	alice := dialClient(t, addr)
	alice.register("alice", "pw1")
	alice.expect("joined")

	alice.send(map[string]any{"type": "msg", "text": strings.Repeat("x", 1001)})
	alice.expectSystemContaining("Message too long")

	alice.send(map[string]any{"type": "history", "room": "general"})
	history := alice.expect("history")
	if msgs, ok := history["messages"].([]any); ok && len(msgs) != 0 {
		t.Fatalf("history changed by rejected message: %v", msgs)
	}
}

func TestOfflineDirectMessageSavedToHistory(t *testing.T) {
	addr := startServer(t)

	carol := dialClient(t, addr)
	carol.register("carol", "pw3")
	carol.expect("joined")
	carol.quit()

	alice := dialClient(t, addr)
	alice.register("alice", "pw1")
	alice.expect("joined")

	alice.send(map[string]any{"type": "dm", "to": "carol", "text": "you there?"})
	dm := alice.expect("dm")
	if dm["from"] != "alice" || dm["to"] != "carol" {
		t.Fatalf("expected dm echo, got %v", dm)
	}
	alice.expectSystemContaining("offline")

	carolBack := dialClient(t, addr)
	carolBack.login("carol", "pw3")
	carolBack.expect("joined")
	carolBack.send(map[string]any{"type": "dm_history", "with": "alice"})
	thread := carolBack.expect("dm_history")
	msgs := thread["messages"].([]any)
	if len(msgs) != 1 || msgs[0].(map[string]any)["text"] != "you there?" {
		t.Fatalf("expected saved dm in history, got %v", thread)
	}
}

func TestUnknownRecordTypeDropsConnection(t *testing.T) {
	addr := startServer(t)

	alice := dialClient(t, addr)
	alice.register("alice", "pw1")
	alice.expect("joined")

	watcher := dialClient(t, addr)
	watcher.register("watcher", "pw2")
	watcher.expect("joined")

	alice.sendRaw(`{"type":"selfdestruct"}`)
	alice.expectClosed()

	watcher.expectSystemContaining("alice went offline")
}

func TestShutdownClosesLiveConnections(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "data.json"))
	doc, err := st.Load()
	if err != nil {
		t.Fatalf("load document: %v", err)
	}
	logger := zerolog.Nop()
	srv := NewServer("127.0.0.1:0", core.New(doc, st, &logger), time.Second, &logger)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx) }()

	alice := dialClient(t, srv.Addr().String())
	alice.register("alice", "pw1")
	alice.expect("joined")

	cancel()
	select {
	case err := <-serveDone:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
	alice.expectClosed()
}

func TestPingPong(t *testing.T) {
	addr := startServer(t)

	alice := dialClient(t, addr)
	alice.register("alice", "pw1")
	alice.expect("joined")

	alice.send(map[string]any{"type": "ping"})
	alice.expect("pong")
}

func TestWhoisOverWire(t *testing.T) {
	addr := startServer(t)

	alice := dialClient(t, addr)
	alice.register("alice", "pw1")
	alice.expect("joined")

	alice.send(map[string]any{"type": "set_bio", "bio": "hello there"})
	alice.expectSystemContaining("Bio updated.")

	alice.send(map[string]any{"type": "whois", "user": "alice"})
	whois := alice.expect("whois")
	if whois["online"] != true || whois["room"] != "general" || whois["bio"] != "hello there" {
		t.Fatalf("unexpected whois: %v", whois)
	}
}
