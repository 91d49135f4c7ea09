package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Session is the live existence of one online user: at most one per
// username. Room is mutated only by join operations and only under the
// shared lock.
type Session struct {
	ID          string
	Username    string
	Room        string
	Conn        Conn
	ConnectedAt time.Time
}

// SessionRegistry maps online usernames to their sessions.
type SessionRegistry struct {
	st *state
}

// Open registers a session for username. The check-and-insert is atomic:
// of two concurrent opens for the same username exactly one succeeds and the
// other fails with already_online. The session starts with no room; the
// connection handler joins it into the default room right after.
func (r *SessionRegistry) Open(username string, conn Conn) (*Session, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if _, online := r.st.sessions[username]; online {
		return nil, domainError(ErrCodeAlreadyOnline, "Already logged in from another session.")
	}
	sess := &Session{
		ID:          uuid.NewString(),
		Username:    username,
		Conn:        conn,
		ConnectedAt: r.st.now(),
	}
	r.st.sessions[username] = sess
	return sess, nil
}

// Close removes the session and its room membership in one critical
// section, so no other operation ever observes a member without a session.
// It returns the room the session was last in; the caller notifies peers.
func (r *SessionRegistry) Close(username string) (*Session, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	sess, online := r.st.sessions[username]
	if !online {
		return nil, fmt.Errorf("close session %q: %w", username, ErrNotOnline)
	}
	delete(r.st.sessions, username)
	if set := r.st.members[sess.Room]; set != nil {
		delete(set, username)
	}
	return sess, nil
}

// Lookup returns the live session for username.
func (r *SessionRegistry) Lookup(username string) (*Session, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	sess, online := r.st.sessions[username]
	if !online {
		return nil, fmt.Errorf("lookup session %q: %w", username, ErrNotOnline)
	}
	return sess, nil
}

// ListOnline returns the sorted usernames of all live sessions.
func (r *SessionRegistry) ListOnline() []string {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.listOnlineLocked()
}

func (r *SessionRegistry) listOnlineLocked() []string {
	names := lo.Keys(r.st.sessions)
	sort.Strings(names)
	return names
}
