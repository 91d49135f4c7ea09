package core

import (
	"sort"
	"strings"

	"github.com/nexuschat/nexus-server/internal/proto"
	"github.com/nexuschat/nexus-server/internal/store"
)

const (
	minRoomNameLen = 2
	maxTopicLen    = 200

	// joinHistoryLimit is how much history a joined record seeds the
	// client with.
	joinHistoryLimit = 50
)

// RoomRegistry owns room definitions and the live membership sets.
type RoomRegistry struct {
	st *state
}

// JoinInfo is the snapshot a client needs to render a room it just entered.
type JoinInfo struct {
	Room     string
	Topic    string
	History  []proto.Message
	Users    []string
	PrevRoom string
}

// Evicted describes a member moved to the default room by a room deletion.
type Evicted struct {
	Username string
	Join     *JoinInfo
}

// NormalizeRoomName lowercases a room name and turns spaces into hyphens.
func NormalizeRoomName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// Create adds a room owned by owner and persists. The returned name is the
// normalized form.
func (r *RoomRegistry) Create(owner, name, topic string) (string, error) {
	name = NormalizeRoomName(name)
	if len(name) < minRoomNameLen {
		return "", domainError(ErrCodeInvalidRoomName, "Room name must be ≥ 2 characters.")
	}
	topic = strings.TrimSpace(topic)
	if runes := []rune(topic); len(runes) > maxTopicLen {
		topic = string(runes[:maxTopicLen])
	}

	r.st.mu.Lock()
	if _, exists := r.st.doc.Rooms[name]; exists {
		r.st.mu.Unlock()
		return "", domainError(ErrCodeRoomExists, "Room #"+name+" already exists.")
	}
	r.st.doc.AddRoom(name, &store.Room{Topic: topic, Owner: owner})
	r.st.members[name] = make(map[string]struct{})
	data, seq, err := r.st.snapshotLocked()
	r.st.mu.Unlock()

	if err != nil {
		return "", err
	}
	if err := r.st.flush(data, seq); err != nil {
		return "", err
	}
	return name, nil
}

// Join moves username into room. The session's current-room field and both
// membership sets change inside one critical section, so no observer ever
// sees them disagree. Joining the current room is an error and changes
// nothing.
func (r *RoomRegistry) Join(username, room string) (*JoinInfo, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.joinLocked(username, room)
}

func (r *RoomRegistry) joinLocked(username, room string) (*JoinInfo, error) {
	def, exists := r.st.doc.Rooms[room]
	if !exists {
		return nil, domainError(ErrCodeRoomNotFound, "Room '"+room+"' does not exist.")
	}
	sess, online := r.st.sessions[username]
	if !online {
		return nil, domainError(ErrCodeNotOnline, "Not online.")
	}
	if sess.Room == room {
		return nil, domainError(ErrCodeAlreadyInRoom, "You are already in #"+room+".")
	}

	prev := sess.Room
	if set := r.st.members[prev]; set != nil {
		delete(set, username)
	}
	if r.st.members[room] == nil {
		r.st.members[room] = make(map[string]struct{})
	}
	r.st.members[room][username] = struct{}{}
	sess.Room = room

	history := def.History
	if len(history) > joinHistoryLimit {
		history = history[len(history)-joinHistoryLimit:]
	}
	users := r.st.membersSnapshotLocked(room)
	sort.Strings(users)

	return &JoinInfo{
		Room:     room,
		Topic:    def.Topic,
		History:  append([]proto.Message(nil), history...),
		Users:    users,
		PrevRoom: prev,
	}, nil
}

// Delete removes a room. Only the owner may delete it and the default rooms
// are never deletable. Every member is moved into the default room before
// the room's data goes away, all inside one critical section, so nobody is
// ever left pointing at a missing room.
func (r *RoomRegistry) Delete(requester, name string) ([]Evicted, error) {
	name = NormalizeRoomName(name)

	r.st.mu.Lock()
	def, exists := r.st.doc.Rooms[name]
	if !exists {
		r.st.mu.Unlock()
		return nil, domainError(ErrCodeRoomNotFound, "Room #"+name+" not found.")
	}
	// Protection outranks ownership; the check order is observable in the
	// error a non-owner gets for a default room.
	if _, protected := store.ProtectedRooms()[name]; protected {
		r.st.mu.Unlock()
		return nil, domainError(ErrCodeProtectedRoom, "Cannot delete default rooms.")
	}
	if def.Owner != requester {
		r.st.mu.Unlock()
		return nil, domainError(ErrCodeNotOwner, "Only the owner can delete a room.")
	}

	members := r.st.membersSnapshotLocked(name)
	sort.Strings(members)
	evicted := make([]Evicted, 0, len(members))
	for _, member := range members {
		info, err := r.joinLocked(member, store.DefaultRoom)
		if err != nil {
			// already_in_room cannot happen here: the member's current
			// room is the one being deleted.
			continue
		}
		evicted = append(evicted, Evicted{Username: member, Join: info})
	}

	r.st.doc.RemoveRoom(name)
	delete(r.st.members, name)
	data, seq, err := r.st.snapshotLocked()
	r.st.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if err := r.st.flush(data, seq); err != nil {
		return nil, err
	}
	return evicted, nil
}

// AppendMessage appends to a room's history, trimming to the cap, and
// persists. The router fuses this with its membership snapshot; this
// standalone form serves callers outside a send.
func (r *RoomRegistry) AppendMessage(room string, msg proto.Message) error {
	r.st.mu.Lock()
	if _, exists := r.st.doc.Rooms[room]; !exists {
		r.st.mu.Unlock()
		return domainError(ErrCodeRoomNotFound, "Room #"+room+" not found.")
	}
	r.st.doc.AppendRoomMessage(room, msg)
	data, seq, err := r.st.snapshotLocked()
	r.st.mu.Unlock()

	if err != nil {
		return err
	}
	return r.st.flush(data, seq)
}

// Exists reports whether a room exists.
func (r *RoomRegistry) Exists(name string) bool {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	_, ok := r.st.doc.Rooms[name]
	return ok
}

// Members returns a sorted snapshot of a room's membership.
func (r *RoomRegistry) Members(name string) []string {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	users := r.st.membersSnapshotLocked(name)
	sort.Strings(users)
	return users
}

// List returns room summaries in insertion order.
func (r *RoomRegistry) List() []proto.RoomSummary {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.listLocked()
}

func (r *RoomRegistry) listLocked() []proto.RoomSummary {
	names := r.st.doc.RoomNames()
	summaries := make([]proto.RoomSummary, 0, len(names))
	for _, name := range names {
		def := r.st.doc.Rooms[name]
		if def == nil {
			continue
		}
		summaries = append(summaries, proto.RoomSummary{
			Name:  name,
			Topic: def.Topic,
			Users: len(r.st.members[name]),
			Owner: def.Owner,
		})
	}
	return summaries
}
