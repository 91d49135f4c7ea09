// Package client implements the thin line-mode terminal client. It renders
// server records as they arrive and maps slash commands onto wire records;
// all chat state lives on the server.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/gookit/color"

	"github.com/nexuschat/nexus-server/internal/proto"
)

// Client is one interactive connection to a chat server.
type Client struct {
	conn     net.Conn
	codec    *proto.Codec
	rd       *bufio.Reader
	username string
	room     string
	in       *bufio.Reader
}

// Dial connects to the server.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &Client{
		conn:  conn,
		codec: proto.NewCodec(conn),
		rd:    bufio.NewReader(conn),
		in:    bufio.NewReader(os.Stdin),
	}, nil
}

// Run drives the auth flow and then the interactive loop until quit or
// server disconnect.
func (c *Client) Run() error {
	defer c.conn.Close()

	if err := c.authFlow(); err != nil {
		return err
	}

	events := make(chan any, 16)
	readErr := make(chan error, 1)
	go c.readLoop(events, readErr)

	go func() {
		for ev := range events {
			c.render(ev)
		}
	}()

	inputErr := make(chan error, 1)
	go c.inputLoop(inputErr)

	select {
	case err := <-readErr:
		if err == io.EOF {
			color.Gray.Println("Server closed the connection.")
			return nil
		}
		return err
	case err := <-inputErr:
		return err
	}
}

func (c *Client) authFlow() error {
	action := c.prompt("login or register? [l/r] ")
	username := c.prompt("username: ")
	password := c.prompt("password: ")

	auth := proto.AuthData{Action: proto.ActionLogin, Username: username, Password: password}
	if strings.HasPrefix(strings.ToLower(action), "r") {
		auth.Action = proto.ActionRegister
	}
	if err := c.codec.Write(auth); err != nil {
		return err
	}

	line, err := c.rd.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}
	var reply proto.AuthReply
	if err := json.Unmarshal(line, &reply); err != nil {
		return fmt.Errorf("bad auth reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("auth failed: %s", reply.Msg)
	}

	c.username = reply.Username
	c.room = "general"
	color.Green.Println(reply.Msg)
	color.Gray.Printf("online: %s\n", strings.Join(reply.Online, ", "))
	return nil
}

func (c *Client) readLoop(events chan<- any, readErr chan<- error) {
	defer close(events)
	for {
		line, err := c.rd.ReadBytes('\n')
		if err != nil {
			readErr <- err
			return
		}
		ev, err := decodeEvent(line)
		if err != nil {
			continue
		}
		events <- ev
	}
}

func (c *Client) inputLoop(inputErr chan<- error) {
	for {
		line, err := c.in.ReadString('\n')
		if err != nil {
			inputErr <- err
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec, quit := c.parseCommand(line)
		if rec != nil {
			if err := c.codec.Write(rec); err != nil {
				inputErr <- err
				return
			}
		}
		if quit {
			inputErr <- nil
			return
		}
	}
}

func (c *Client) parseCommand(line string) (rec any, quit bool) {
	if !strings.HasPrefix(line, "/") {
		return map[string]any{"type": "msg", "text": line}, false
	}

	fields := strings.Fields(line)
	cmd := fields[0]
	rest := strings.TrimSpace(strings.TrimPrefix(line, cmd))

	switch cmd {
	case "/join":
		return map[string]any{"type": "join", "room": rest}, false
	case "/rooms":
		return map[string]any{"type": "rooms"}, false
	case "/online":
		return map[string]any{"type": "online"}, false
	case "/dm":
		if len(fields) < 3 {
			color.Red.Println("usage: /dm <user> <text>")
			return nil, false
		}
		text := strings.TrimSpace(strings.TrimPrefix(rest, fields[1]))
		return map[string]any{"type": "dm", "to": fields[1], "text": text}, false
	case "/w", "/whois":
		return map[string]any{"type": "whois", "user": rest}, false
	case "/history":
		rec := map[string]any{"type": "history"}
		if len(fields) > 1 {
			rec["room"] = fields[1]
		}
		if len(fields) > 2 {
			if n, err := strconv.Atoi(fields[2]); err == nil {
				rec["limit"] = n
			}
		}
		return rec, false
	case "/dmhist":
		return map[string]any{"type": "dm_history", "with": rest}, false
	case "/create":
		if len(fields) < 2 {
			color.Red.Println("usage: /create <name> [topic]")
			return nil, false
		}
		topic := strings.TrimSpace(strings.TrimPrefix(rest, fields[1]))
		return map[string]any{"type": "create_room", "name": fields[1], "topic": topic}, false
	case "/delete":
		return map[string]any{"type": "delete_room", "name": rest}, false
	case "/bio":
		return map[string]any{"type": "set_bio", "bio": rest}, false
	case "/quit":
		return map[string]any{"type": "quit"}, true
	case "/help":
		printHelp()
		return nil, false
	default:
		color.Red.Printf("unknown command %s (try /help)\n", cmd)
		return nil, false
	}
}

func (c *Client) render(ev any) {
	switch e := ev.(type) {
	case *proto.MessageEvent:
		name := color.Style{color.FgWhite, color.Bold}
		if e.From == c.username {
			name = color.Style{color.FgCyan, color.Bold}
		}
		color.Gray.Printf("[%s] ", e.TS)
		name.Print(e.From)
		fmt.Println(": " + e.Text)
	case *proto.DMEvent:
		color.Gray.Printf("[%s] ", e.TS)
		color.Magenta.Printf("dm %s → %s", e.From, e.To)
		fmt.Println(": " + e.Text)
	case *proto.SystemEvent:
		color.Yellow.Println(e.Msg)
	case *proto.JoinedEvent:
		c.room = e.Room
		color.Cyan.Printf("── #%s — %s ──\n", e.Room, e.Topic)
		for _, m := range e.History {
			color.Gray.Printf("[%s] %s: %s\n", m.TS, m.From, m.Text)
		}
		color.Gray.Printf("here: %s\n", strings.Join(e.Users, ", "))
	case *proto.RoomCreatedEvent:
		color.Yellow.Println(e.Msg)
	case *proto.RoomsEvent:
		for _, r := range e.Rooms {
			color.Cyan.Printf("#%-14s", r.Name)
			fmt.Printf(" %-40s %d online, owner %s\n", r.Topic, r.Users, r.Owner)
		}
	case *proto.OnlineEvent:
		color.Green.Printf("online (%d): %s\n", len(e.Users), strings.Join(e.Users, ", "))
	case *proto.HistoryEvent:
		color.Cyan.Printf("── history of #%s ──\n", e.Room)
		for _, m := range e.Messages {
			color.Gray.Printf("[%s] %s: %s\n", m.TS, m.From, m.Text)
		}
	case *proto.DMHistoryEvent:
		color.Cyan.Printf("── dms with %s ──\n", e.With)
		for _, m := range e.Messages {
			color.Gray.Printf("[%s] %s → %s: %s\n", m.TS, m.From, m.To, m.Text)
		}
	case *proto.WhoisEvent:
		status := "offline"
		if e.Online {
			status = "online, in #" + e.Room
		}
		color.Cyan.Printf("%s — joined %s, %s\n", e.User, e.Joined, status)
		color.Gray.Println(e.Bio)
	}
}

func (c *Client) prompt(label string) string {
	fmt.Print(label)
	line, err := c.in.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}

func decodeEvent(line []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, err
	}

	var ev any
	switch envelope.Type {
	case "msg":
		ev = &proto.MessageEvent{}
	case "dm":
		ev = &proto.DMEvent{}
	case "system":
		ev = &proto.SystemEvent{}
	case "joined":
		ev = &proto.JoinedEvent{}
	case "room_created":
		ev = &proto.RoomCreatedEvent{}
	case "rooms":
		ev = &proto.RoomsEvent{}
	case "online":
		ev = &proto.OnlineEvent{}
	case "history":
		ev = &proto.HistoryEvent{}
	case "dm_history":
		ev = &proto.DMHistoryEvent{}
	case "whois":
		ev = &proto.WhoisEvent{}
	case "pong":
		ev = &proto.PongEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", envelope.Type)
	}
	if err := json.Unmarshal(line, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func printHelp() {
	color.Cyan.Println("commands:")
	fmt.Println("  /join <room>            switch room")
	fmt.Println("  /rooms                  list rooms")
	fmt.Println("  /online                 list online users")
	fmt.Println("  /dm <user> <text>       direct message")
	fmt.Println("  /dmhist <user>          dm history")
	fmt.Println("  /history [room] [n]     room history")
	fmt.Println("  /w <user>               whois")
	fmt.Println("  /create <name> [topic]  create room")
	fmt.Println("  /delete <name>          delete your room")
	fmt.Println("  /bio <text>             set your bio")
	fmt.Println("  /quit                   leave")
}
