// Package core owns the server's shared mutable state: accounts, rooms,
// live sessions, and message routing. All registries share one mutex; the
// critical sections only touch in-memory maps, never the network or disk.
// Persistence snapshots are marshaled under the lock and written after it is
// released, so a success acknowledgment always implies a durable write.
package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexuschat/nexus-server/internal/store"
)

// Conn is the live connection handle the core pushes records through. The
// transport adapts the socket; core never blocks on a peer.
type Conn interface {
	// Push enqueues one outbound record, best-effort. A stalled peer drops
	// records rather than stalling the sender.
	Push(v any)
}

// Persister writes marshaled document snapshots.
type Persister interface {
	WriteSnapshot(data []byte) error
}

// state is the single mutual-exclusion domain shared by all registries.
type state struct {
	mu        sync.Mutex
	doc       *store.Document
	sessions  map[string]*Session
	members   map[string]map[string]struct{}
	persister Persister
	log       *zerolog.Logger
	now       func() time.Time

	// writeMu serializes snapshot writes. seq is stamped under mu and
	// lastWrite under writeMu, so a snapshot marshaled earlier can never
	// overwrite one marshaled later.
	writeMu   sync.Mutex
	seq       uint64
	lastWrite uint64
}

// Core bundles the registries and the router around one shared state.
type Core struct {
	Accounts *AccountRegistry
	Sessions *SessionRegistry
	Rooms    *RoomRegistry
	Router   *Router
}

// New wires the registries around a loaded document.
func New(doc *store.Document, persister Persister, logger *zerolog.Logger) *Core {
	st := &state{
		doc:       doc,
		sessions:  make(map[string]*Session),
		members:   make(map[string]map[string]struct{}),
		persister: persister,
		log:       logger,
		now:       time.Now,
	}
	for _, name := range doc.RoomNames() {
		st.members[name] = make(map[string]struct{})
	}

	accounts := &AccountRegistry{st: st}
	sessions := &SessionRegistry{st: st}
	rooms := &RoomRegistry{st: st}
	router := &Router{st: st, rooms: rooms}

	return &Core{
		Accounts: accounts,
		Sessions: sessions,
		Rooms:    rooms,
		Router:   router,
	}
}

// snapshotLocked marshals the document and stamps it with a sequence
// number. Callers hold st.mu; the number orders concurrent flushes.
func (st *state) snapshotLocked() ([]byte, uint64, error) {
	data, err := st.doc.Marshal()
	if err != nil {
		return nil, 0, err
	}
	st.seq++
	return data, st.seq, nil
}

// flush writes a snapshot taken under the lock. Called with the lock
// released; a failed write is surfaced to the triggering action, never
// swallowed. A snapshot outrun by a newer one is skipped: the newer
// snapshot was marshaled later and already contains this mutation.
func (st *state) flush(data []byte, seq uint64) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	if seq <= st.lastWrite {
		return nil
	}
	if err := st.persister.WriteSnapshot(data); err != nil {
		st.log.Error().Err(err).Msg("persistence write failed")
		return domainError(ErrCodePersistence, "Server storage error; change not saved.")
	}
	st.lastWrite = seq
	return nil
}

// membersSnapshotLocked copies a room's membership set. Callers hold st.mu.
func (st *state) membersSnapshotLocked(room string) []string {
	set := st.members[room]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	return names
}

// pushTo delivers a record to a user's connection if one is live.
func (st *state) pushTo(username string, v any) {
	st.mu.Lock()
	sess := st.sessions[username]
	st.mu.Unlock()
	if sess != nil {
		sess.Conn.Push(v)
	}
}
