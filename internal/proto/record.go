package proto

// Wire timestamp formats. Room and DM entries carry a short clock label the
// client prints inline; account and DM records additionally carry a full
// timestamp for whois and history views.
const (
	TimeShort = "15:04"
	TimeFull  = "2006-01-02 15:04:05"
)

// Auth actions accepted in the pre-session record.
const (
	ActionLogin    = "login"
	ActionRegister = "register"
)

// Inbound record types accepted once a session is established.
const (
	TypeMsg        = "msg"
	TypeJoin       = "join"
	TypeCreateRoom = "create_room"
	TypeDeleteRoom = "delete_room"
	TypeDM         = "dm"
	TypeDMHistory  = "dm_history"
	TypeHistory    = "history"
	TypeRooms      = "rooms"
	TypeOnline     = "online"
	TypeWhois      = "whois"
	TypeSetBio     = "set_bio"
	TypePing       = "ping"
	TypeQuit       = "quit"
)

// AuthData is the first record on every connection and the only one keyed by
// "action" instead of "type".
type AuthData struct {
	Action   string `json:"action" validate:"required,oneof=login register"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password"`
}

// Record is the closed set of post-auth inbound records. The codec returns
// exactly one of the *Data types below.
type Record interface{ isRecord() }

// MsgData sends a chat message to the sender's current room.
type MsgData struct {
	Text string `json:"text"`
}

// JoinData moves the sender into another room.
type JoinData struct {
	Room string `json:"room" validate:"required"`
}

// CreateRoomData creates a new room owned by the sender.
type CreateRoomData struct {
	Name  string `json:"name" validate:"required"`
	Topic string `json:"topic"`
}

// DeleteRoomData deletes a room the sender owns.
type DeleteRoomData struct {
	Name string `json:"name" validate:"required"`
}

// DMData sends a direct message to another user.
type DMData struct {
	To   string `json:"to" validate:"required"`
	Text string `json:"text"`
}

// DMHistoryData requests the DM thread with another user.
type DMHistoryData struct {
	With string `json:"with" validate:"required"`
}

// HistoryData requests room history. Room defaults to the sender's current
// room, limit defaults to 50 and is capped at 200.
type HistoryData struct {
	Room  string `json:"room,omitempty"`
	Limit int    `json:"limit,omitempty" validate:"gte=0"`
}

// RoomsData requests the room list.
type RoomsData struct{}

// OnlineData requests the online user list.
type OnlineData struct{}

// WhoisData requests another user's profile.
type WhoisData struct {
	User string `json:"user" validate:"required"`
}

// SetBioData updates the sender's bio.
type SetBioData struct {
	Bio string `json:"bio"`
}

// PingData is a keep-alive probe; it carries no semantic weight.
type PingData struct{}

// QuitData ends the session cleanly.
type QuitData struct{}

func (MsgData) isRecord()        {}
func (JoinData) isRecord()       {}
func (CreateRoomData) isRecord() {}
func (DeleteRoomData) isRecord() {}
func (DMData) isRecord()         {}
func (DMHistoryData) isRecord()  {}
func (HistoryData) isRecord()    {}
func (RoomsData) isRecord()      {}
func (OnlineData) isRecord()     {}
func (WhoisData) isRecord()      {}
func (SetBioData) isRecord()     {}
func (PingData) isRecord()       {}
func (QuitData) isRecord()       {}

// Message is a room history entry. The same shape is persisted in the data
// file and pushed over the wire.
type Message struct {
	From string `json:"from"`
	Text string `json:"text"`
	TS   string `json:"ts"`
}

// DirectMessage is a DM thread entry.
type DirectMessage struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Text   string `json:"text"`
	TS     string `json:"ts"`
	FullTS string `json:"full_ts"`
}

// RoomSummary is one row of the room list.
type RoomSummary struct {
	Name  string `json:"name"`
	Topic string `json:"topic"`
	Users int    `json:"users"`
	Owner string `json:"owner"`
}

// AuthReply acknowledges the auth record. On success it carries the room
// list and the online roster so the client can render its sidebar at once.
type AuthReply struct {
	Type     string        `json:"type"`
	OK       bool          `json:"ok"`
	Msg      string        `json:"msg"`
	Username string        `json:"username,omitempty"`
	Rooms    []RoomSummary `json:"rooms,omitempty"`
	Online   []string      `json:"online,omitempty"`
}

// JoinedEvent confirms a room change and seeds the client with the room's
// topic, recent history, and member list.
type JoinedEvent struct {
	Type    string    `json:"type"`
	Room    string    `json:"room"`
	Topic   string    `json:"topic"`
	History []Message `json:"history"`
	Users   []string  `json:"users"`
}

// MessageEvent delivers one room message to a member, the sender included.
type MessageEvent struct {
	Type string `json:"type"`
	Room string `json:"room"`
	From string `json:"from"`
	Text string `json:"text"`
	TS   string `json:"ts"`
}

// DMEvent delivers one direct message to sender and recipient.
type DMEvent struct {
	Type string `json:"type"`
	DirectMessage
}

// SystemEvent is a free-form notice rendered outside the message stream.
type SystemEvent struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

// RoomCreatedEvent announces a new room to everyone online.
type RoomCreatedEvent struct {
	Type  string `json:"type"`
	Room  string `json:"room"`
	Topic string `json:"topic"`
	Owner string `json:"owner"`
	Msg   string `json:"msg"`
}

// RoomsEvent answers a rooms request.
type RoomsEvent struct {
	Type  string        `json:"type"`
	Rooms []RoomSummary `json:"rooms"`
}

// OnlineEvent answers an online request.
type OnlineEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// HistoryEvent answers a history request.
type HistoryEvent struct {
	Type     string    `json:"type"`
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
}

// DMHistoryEvent answers a dm_history request.
type DMHistoryEvent struct {
	Type     string          `json:"type"`
	With     string          `json:"with"`
	Messages []DirectMessage `json:"messages"`
}

// WhoisEvent answers a whois request. Room is "—" while the target is
// offline, mirroring what the client prints.
type WhoisEvent struct {
	Type   string `json:"type"`
	User   string `json:"user"`
	Joined string `json:"joined"`
	Bio    string `json:"bio"`
	Online bool   `json:"online"`
	Room   string `json:"room"`
}

// PongEvent answers a ping.
type PongEvent struct {
	Type string `json:"type"`
}

// System builds a system notice.
func System(msg string) SystemEvent {
	return SystemEvent{Type: "system", Msg: msg}
}

// Pong builds a keep-alive reply.
func Pong() PongEvent {
	return PongEvent{Type: "pong"}
}
