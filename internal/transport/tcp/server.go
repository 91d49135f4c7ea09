// Package tcp is the wire transport: a TCP listener with one goroutine per
// connection, speaking newline-delimited JSON records. The handler owns the
// session lifecycle: it authenticates, registers the session, dispatches
// records, and tears everything down on any exit path.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexuschat/nexus-server/internal/core"
	"github.com/nexuschat/nexus-server/internal/proto"
	"github.com/nexuschat/nexus-server/internal/store"
)

// Server accepts chat connections and bridges them to the core registries.
type Server struct {
	addr         string
	core         *core.Core
	log          *zerolog.Logger
	drainTimeout time.Duration

	ln    net.Listener
	mu    sync.Mutex
	conns map[*clientConn]struct{}
	wg    sync.WaitGroup
}

// NewServer builds a server bound to the given core. drainTimeout bounds how
// long Serve waits for handlers after shutdown; zero means wait forever.
func NewServer(addr string, c *core.Core, drainTimeout time.Duration, logger *zerolog.Logger) *Server {
	return &Server{
		addr:         addr,
		core:         c,
		log:          logger,
		drainTimeout: drainTimeout,
		conns:        make(map[*clientConn]struct{}),
	}
}

// Listen opens the listener. Serve must be called afterwards; the split
// lets callers learn the bound address before serving (":0" in tests).
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until ctx is canceled, then closes the
// listener and every live connection and waits for the handlers to finish.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("new connection")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}

	s.mu.Lock()
	for cc := range s.conns {
		cc.shutdown()
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	if s.drainTimeout <= 0 {
		<-drained
		return nil
	}
	select {
	case <-drained:
	case <-time.After(s.drainTimeout):
		s.log.Warn().Dur("timeout", s.drainTimeout).Msg("handlers still draining, abandoning wait")
	}
	return nil
}

func (s *Server) track(cc *clientConn) {
	s.mu.Lock()
	s.conns[cc] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(cc *clientConn) {
	s.mu.Lock()
	delete(s.conns, cc)
	s.mu.Unlock()
}

// handle runs one connection from auth to teardown.
func (s *Server) handle(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	codec := proto.NewCodec(conn)
	cc := newClientConn(conn, codec, s.log)
	defer cc.shutdown()

	username, err := s.authenticate(codec)
	if err != nil {
		// Negative ack, then close: the client must reconnect to retry.
		var derr *core.Error
		if errors.As(err, &derr) {
			_ = codec.Write(proto.AuthReply{Type: "auth", OK: false, Msg: derr.Message})
		} else if !errors.Is(err, io.EOF) {
			s.log.Warn().Err(err).Str("remote", remote).Msg("auth read failed")
		}
		return
	}

	sess, err := s.core.Sessions.Open(username, cc)
	if err != nil {
		var derr *core.Error
		if errors.As(err, &derr) {
			_ = codec.Write(proto.AuthReply{Type: "auth", OK: false, Msg: derr.Message})
		}
		return
	}

	s.track(cc)
	defer s.untrack(cc)
	cc.start()

	cc.Push(proto.AuthReply{
		Type:     "auth",
		OK:       true,
		Msg:      "Welcome to NEXUS CHAT, " + username + "!",
		Username: username,
		Rooms:    s.core.Rooms.List(),
		Online:   s.core.Sessions.ListOnline(),
	})

	// Fresh sessions have no room yet, so this join cannot fail.
	if err := s.core.Router.JoinRoom(username, store.DefaultRoom, false); err != nil {
		s.log.Error().Err(err).Str("user", username).Msg("default room join failed")
	}
	s.core.Router.AnnounceOnline(username)
	s.log.Info().Str("user", username).Str("remote", remote).Str("session", sess.ID).Msg("connected")

	s.loop(username, codec, cc)

	if _, err := s.core.Sessions.Close(username); err == nil {
		s.core.Router.AnnounceOffline(username)
	}
	s.log.Info().Str("user", username).Str("remote", remote).Msg("disconnected")
}

// authenticate reads the pre-session record and resolves it against the
// account registry.
func (s *Server) authenticate(codec *proto.Codec) (string, error) {
	auth, err := codec.ReadAuth()
	if err != nil {
		return "", err
	}
	switch auth.Action {
	case proto.ActionRegister:
		username, err := s.core.Accounts.Register(auth.Username, auth.Password)
		if err != nil {
			return "", err
		}
		s.log.Info().Str("user", username).Msg("new user registered")
		return username, nil
	default:
		return s.core.Accounts.Verify(auth.Username, auth.Password)
	}
}

// loop dispatches records until quit, disconnect, or a protocol error.
func (s *Server) loop(username string, codec *proto.Codec, cc *clientConn) {
	for {
		rec, err := codec.ReadRecord()
		if err != nil {
			if errors.Is(err, proto.ErrProtocol) {
				s.log.Warn().Err(err).Str("user", username).Msg("protocol error, dropping connection")
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(err).Str("user", username).Msg("read failed")
			}
			return
		}
		if _, quit := rec.(*proto.QuitData); quit {
			return
		}
		s.dispatch(username, rec, cc)
	}
}

// dispatch routes one record. Domain errors come back as system notices;
// the session stays up.
func (s *Server) dispatch(username string, rec proto.Record, cc *clientConn) {
	var err error
	switch r := rec.(type) {
	case *proto.MsgData:
		err = s.core.Router.SendRoomMessage(username, r.Text)
	case *proto.JoinData:
		err = s.core.Router.JoinRoom(username, r.Room, false)
	case *proto.CreateRoomData:
		err = s.core.Router.CreateRoom(username, r.Name, r.Topic)
	case *proto.DeleteRoomData:
		err = s.core.Router.DeleteRoom(username, r.Name)
	case *proto.DMData:
		err = s.core.Router.SendDirectMessage(username, r.To, r.Text)
	case *proto.DMHistoryData:
		cc.Push(s.core.Router.DMHistory(username, r.With))
	case *proto.HistoryData:
		var event proto.HistoryEvent
		if event, err = s.core.Router.RoomHistory(username, r.Room, r.Limit); err == nil {
			cc.Push(event)
		}
	case *proto.RoomsData:
		cc.Push(proto.RoomsEvent{Type: "rooms", Rooms: s.core.Rooms.List()})
	case *proto.OnlineData:
		cc.Push(proto.OnlineEvent{Type: "online", Users: s.core.Sessions.ListOnline()})
	case *proto.WhoisData:
		var event proto.WhoisEvent
		if event, err = s.core.Router.Whois(r.User); err == nil {
			cc.Push(event)
		}
	case *proto.SetBioData:
		if err = s.core.Accounts.SetBio(username, r.Bio); err == nil {
			cc.Push(proto.System("Bio updated."))
		}
	case *proto.PingData:
		cc.Push(proto.Pong())
	}

	if err != nil {
		var derr *core.Error
		if errors.As(err, &derr) {
			cc.Push(proto.System(derr.Message))
			return
		}
		s.log.Error().Err(err).Str("user", username).Msg("dispatch failed")
	}
}
