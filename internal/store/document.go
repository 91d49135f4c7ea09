package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nexuschat/nexus-server/internal/proto"
)

// History bounds. Trimming is FIFO: the oldest entries go first.
const (
	RoomHistoryCap = 500
	DMHistoryCap   = 200
)

// DefaultRoom is where every session starts and where members of deleted
// rooms are moved.
const DefaultRoom = "general"

// User is a persisted account. Field names match the data file layout.
type User struct {
	Password string `json:"pw"`
	Joined   string `json:"joined"`
	Bio      string `json:"bio"`
}

// Room is a persisted room definition with its bounded history.
type Room struct {
	Topic   string          `json:"topic"`
	Owner   string          `json:"owner"`
	History []proto.Message `json:"history"`
}

// Document is the whole durable state: accounts, rooms with history, and DM
// threads keyed by canonical pair. It is loaded wholesale at startup and
// rewritten wholesale on every mutation.
type Document struct {
	Users     map[string]*User                 `json:"users"`
	Rooms     map[string]*Room                 `json:"rooms"`
	DMHistory map[string][]proto.DirectMessage `json:"dm_history"`

	// roomOrder preserves insertion order for room listings across the
	// lifetime of the process.
	roomOrder []string
}

// DefaultDocument returns the state of a first startup: no users, no DM
// threads, and the three protected rooms.
func DefaultDocument() *Document {
	doc := &Document{
		Users:     make(map[string]*User),
		Rooms:     make(map[string]*Room),
		DMHistory: make(map[string][]proto.DirectMessage),
	}
	doc.AddRoom("general", &Room{Topic: "General chat for everyone", Owner: "system"})
	doc.AddRoom("random", &Room{Topic: "Random topics", Owner: "system"})
	doc.AddRoom("tech", &Room{Topic: "Technology discussions", Owner: "system"})
	return doc
}

// ProtectedRooms is the set of default rooms that can never be deleted.
func ProtectedRooms() map[string]struct{} {
	return map[string]struct{}{
		"general": {},
		"random":  {},
		"tech":    {},
	}
}

// AddRoom inserts a room and records its listing position.
func (d *Document) AddRoom(name string, room *Room) {
	if _, exists := d.Rooms[name]; exists {
		return
	}
	d.Rooms[name] = room
	d.roomOrder = append(d.roomOrder, name)
}

// RemoveRoom deletes a room and its listing position.
func (d *Document) RemoveRoom(name string) {
	delete(d.Rooms, name)
	for i, n := range d.roomOrder {
		if n == name {
			d.roomOrder = append(d.roomOrder[:i], d.roomOrder[i+1:]...)
			break
		}
	}
}

// RoomNames returns room names in insertion order.
func (d *Document) RoomNames() []string {
	return append([]string(nil), d.roomOrder...)
}

// AppendRoomMessage appends to a room's history and trims to the cap.
func (d *Document) AppendRoomMessage(room string, msg proto.Message) {
	r := d.Rooms[room]
	if r == nil {
		return
	}
	r.History = append(r.History, msg)
	if n := len(r.History); n > RoomHistoryCap {
		r.History = append([]proto.Message(nil), r.History[n-RoomHistoryCap:]...)
	}
}

// AppendDM appends to a pair's thread and trims to the cap. The thread is
// created lazily on first use.
func (d *Document) AppendDM(key string, dm proto.DirectMessage) {
	thread := append(d.DMHistory[key], dm)
	if n := len(thread); n > DMHistoryCap {
		thread = append([]proto.DirectMessage(nil), thread[n-DMHistoryCap:]...)
	}
	d.DMHistory[key] = thread
}

// DMKey derives the canonical thread key for a pair of usernames. It is
// symmetric: DMKey(a, b) == DMKey(b, a).
func DMKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// Marshal serializes the document for a snapshot write. Callers hold the
// state lock while marshaling and write the bytes after releasing it.
func (d *Document) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return data, nil
}

func unmarshalDocument(data []byte) (*Document, error) {
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	if doc.Users == nil {
		doc.Users = make(map[string]*User)
	}
	if doc.Rooms == nil {
		doc.Rooms = make(map[string]*Room)
	}
	if doc.DMHistory == nil {
		doc.DMHistory = make(map[string][]proto.DirectMessage)
	}
	// Rebuild a stable listing order: protected rooms first, the rest
	// sorted. The file format does not record creation order.
	for _, name := range []string{"general", "random", "tech"} {
		if _, ok := doc.Rooms[name]; ok {
			doc.roomOrder = append(doc.roomOrder, name)
		}
	}
	var rest []string
	for name := range doc.Rooms {
		if _, ok := ProtectedRooms()[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	doc.roomOrder = append(doc.roomOrder, rest...)
	return doc, nil
}
