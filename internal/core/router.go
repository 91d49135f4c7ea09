package core

import (
	"strings"
	"unicode/utf8"

	"github.com/nexuschat/nexus-server/internal/proto"
	"github.com/nexuschat/nexus-server/internal/store"
)

const (
	maxMessageLen = 1000

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	dmHistoryLimit      = 50
)

// Router orchestrates message delivery across sessions and rooms. Mutating
// operations persist before any record is pushed, so a delivered message is
// always already durable.
type Router struct {
	st    *state
	rooms *RoomRegistry
}

// SendRoomMessage appends text to the sender's current room and fans it out
// to the membership snapshot taken at send time, the sender included. The
// client renders its own messages from that echo.
func (ro *Router) SendRoomMessage(sender, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domainError(ErrCodeEmptyMessage, "Cannot send an empty message.")
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		return domainError(ErrCodeMessageTooLong, "Message too long (max 1000 chars).")
	}

	ro.st.mu.Lock()
	sess, online := ro.st.sessions[sender]
	if !online {
		ro.st.mu.Unlock()
		return ErrNotOnline
	}
	room := sess.Room
	msg := proto.Message{From: sender, Text: text, TS: ro.st.now().Format(proto.TimeShort)}
	ro.st.doc.AppendRoomMessage(room, msg)
	data, seq, err := ro.st.snapshotLocked()
	targets := ro.roomConnsLocked(room, "")
	ro.st.mu.Unlock()

	if err != nil {
		return err
	}
	if err := ro.st.flush(data, seq); err != nil {
		return err
	}

	event := proto.MessageEvent{Type: "msg", Room: room, From: msg.From, Text: msg.Text, TS: msg.TS}
	for _, conn := range targets {
		conn.Push(event)
	}
	return nil
}

// SendDirectMessage appends to the canonical pair thread and echoes to the
// sender. The recipient gets a push only while online; otherwise the sender
// is told the message was saved to history.
func (ro *Router) SendDirectMessage(sender, recipient, text string) error {
	recipient = NormalizeUsername(recipient)
	text = strings.TrimSpace(text)
	if recipient == "" || text == "" {
		return domainError(ErrCodeEmptyMessage, "Cannot send an empty message.")
	}
	if recipient == sender {
		return domainError(ErrCodeSelfTarget, "You can't DM yourself.")
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		return domainError(ErrCodeMessageTooLong, "Message too long (max 1000 chars).")
	}

	ro.st.mu.Lock()
	now := ro.st.now()
	dm := proto.DirectMessage{
		From:   sender,
		To:     recipient,
		Text:   text,
		TS:     now.Format(proto.TimeShort),
		FullTS: now.Format(proto.TimeFull),
	}
	ro.st.doc.AppendDM(store.DMKey(sender, recipient), dm)
	data, seq, err := ro.st.snapshotLocked()
	senderSess := ro.st.sessions[sender]
	recipientSess := ro.st.sessions[recipient]
	ro.st.mu.Unlock()

	if err != nil {
		return err
	}
	if err := ro.st.flush(data, seq); err != nil {
		return err
	}

	event := proto.DMEvent{Type: "dm", DirectMessage: dm}
	if senderSess != nil {
		senderSess.Conn.Push(event)
	}
	switch {
	case recipientSess != nil:
		recipientSess.Conn.Push(event)
	case senderSess != nil:
		senderSess.Conn.Push(proto.System("✉ " + recipient + " is offline. Message saved."))
	}
	return nil
}

// JoinRoom moves username into room, seeds it with the joined snapshot, and
// notifies both rooms. The leave notice for the previous room is only sent
// when announceLeave is set, matching how the original protocol behaves on
// explicit joins versus room creation and eviction.
func (ro *Router) JoinRoom(username, room string, announceLeave bool) error {
	room = NormalizeRoomName(room)
	info, err := ro.rooms.Join(username, room)
	if err != nil {
		return err
	}

	ro.st.pushTo(username, proto.JoinedEvent{
		Type:    "joined",
		Room:    info.Room,
		Topic:   info.Topic,
		History: info.History,
		Users:   info.Users,
	})

	if announceLeave && info.PrevRoom != "" {
		ro.BroadcastRoom(info.PrevRoom, proto.System("← "+username+" left #"+info.PrevRoom), username)
	}
	ro.BroadcastRoom(info.Room, proto.System("→ "+username+" joined #"+info.Room), username)
	return nil
}

// CreateRoom creates a room, announces it to everyone online, and moves the
// creator into it.
func (ro *Router) CreateRoom(username, name, topic string) error {
	created, err := ro.rooms.Create(username, name, topic)
	if err != nil {
		return err
	}

	ro.st.mu.Lock()
	topic = ro.st.doc.Rooms[created].Topic
	ro.st.mu.Unlock()

	ro.BroadcastAll(proto.RoomCreatedEvent{
		Type:  "room_created",
		Room:  created,
		Topic: topic,
		Owner: username,
		Msg:   "✦ New room #" + created + " created by " + username + "!",
	}, "")
	return ro.JoinRoom(username, created, true)
}

// DeleteRoom deletes a room, re-homes every member into the default room,
// and announces the deletion to everyone online.
func (ro *Router) DeleteRoom(username, name string) error {
	evicted, err := ro.rooms.Delete(username, name)
	if err != nil {
		return err
	}
	name = NormalizeRoomName(name)

	for i, ev := range evicted {
		// Members still awaiting eviction see each departure, like an
		// explicit leave.
		for _, later := range evicted[i+1:] {
			ro.st.pushTo(later.Username, proto.System("← "+ev.Username+" left #"+name))
		}
		ro.st.pushTo(ev.Username, proto.JoinedEvent{
			Type:    "joined",
			Room:    ev.Join.Room,
			Topic:   ev.Join.Topic,
			History: ev.Join.History,
			Users:   ev.Join.Users,
		})
		ro.BroadcastRoom(ev.Join.Room, proto.System("→ "+ev.Username+" joined #"+ev.Join.Room), ev.Username)
	}

	ro.BroadcastAll(proto.System("✦ Room #"+name+" was deleted by "+username+"."), "")
	return nil
}

// RoomHistory answers a history request. An empty room means the
// requester's current room; limit defaults to 50 and is capped at 200.
func (ro *Router) RoomHistory(requester, room string, limit int) (proto.HistoryEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	ro.st.mu.Lock()
	defer ro.st.mu.Unlock()

	if room == "" {
		sess, online := ro.st.sessions[requester]
		if !online {
			return proto.HistoryEvent{}, ErrNotOnline
		}
		room = sess.Room
	} else {
		room = NormalizeRoomName(room)
	}

	def, exists := ro.st.doc.Rooms[room]
	if !exists {
		return proto.HistoryEvent{}, domainError(ErrCodeRoomNotFound, "Room #"+room+" not found.")
	}
	history := def.History
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return proto.HistoryEvent{
		Type:     "history",
		Room:     room,
		Messages: append([]proto.Message(nil), history...),
	}, nil
}

// DMHistory answers a dm_history request with the last 50 entries of the
// canonical pair thread. Either participant sees the same thread.
func (ro *Router) DMHistory(self, other string) proto.DMHistoryEvent {
	other = NormalizeUsername(other)

	ro.st.mu.Lock()
	thread := ro.st.doc.DMHistory[store.DMKey(self, other)]
	if len(thread) > dmHistoryLimit {
		thread = thread[len(thread)-dmHistoryLimit:]
	}
	messages := append([]proto.DirectMessage(nil), thread...)
	ro.st.mu.Unlock()

	return proto.DMHistoryEvent{Type: "dm_history", With: other, Messages: messages}
}

// Whois answers a profile request. The current room is only disclosed while
// the target has a live session.
func (ro *Router) Whois(target string) (proto.WhoisEvent, error) {
	target = NormalizeUsername(target)

	ro.st.mu.Lock()
	defer ro.st.mu.Unlock()

	user, exists := ro.st.doc.Users[target]
	if !exists {
		return proto.WhoisEvent{}, domainError(ErrCodeUserNotFound, "User '"+target+"' not found.")
	}
	event := proto.WhoisEvent{
		Type:   "whois",
		User:   target,
		Joined: user.Joined,
		Bio:    user.Bio,
		Room:   "—",
	}
	if event.Bio == "" {
		event.Bio = "No bio set."
	}
	if sess, online := ro.st.sessions[target]; online {
		event.Online = true
		event.Room = sess.Room
	}
	return event, nil
}

// AnnounceOnline tells everyone else a user has connected.
func (ro *Router) AnnounceOnline(username string) {
	ro.BroadcastAll(proto.System("◉ "+username+" has come online."), username)
}

// AnnounceOffline tells everyone a user has disconnected. The departing
// connection is already gone, so no exclusion is needed beyond it.
func (ro *Router) AnnounceOffline(username string) {
	ro.BroadcastAll(proto.System("◎ "+username+" went offline."), username)
}

// BroadcastRoom pushes a record to every member of a room except exclude.
func (ro *Router) BroadcastRoom(room string, v any, exclude string) {
	ro.st.mu.Lock()
	targets := ro.roomConnsLocked(room, exclude)
	ro.st.mu.Unlock()
	for _, conn := range targets {
		conn.Push(v)
	}
}

// BroadcastAll pushes a record to every live session except exclude.
func (ro *Router) BroadcastAll(v any, exclude string) {
	ro.st.mu.Lock()
	targets := make([]Conn, 0, len(ro.st.sessions))
	for name, sess := range ro.st.sessions {
		if name == exclude {
			continue
		}
		targets = append(targets, sess.Conn)
	}
	ro.st.mu.Unlock()
	for _, conn := range targets {
		conn.Push(v)
	}
}

// roomConnsLocked resolves a room's membership snapshot to connection
// handles. Callers hold st.mu.
func (ro *Router) roomConnsLocked(room, exclude string) []Conn {
	set := ro.st.members[room]
	targets := make([]Conn, 0, len(set))
	for name := range set {
		if name == exclude {
			continue
		}
		if sess := ro.st.sessions[name]; sess != nil {
			targets = append(targets, sess.Conn)
		}
	}
	return targets
}
