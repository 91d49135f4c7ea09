package tcp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexuschat/nexus-server/internal/proto"
)

const (
	// outboundBuffer bounds per-connection outgoing records. A stalled
	// peer loses records instead of stalling every sender behind it.
	outboundBuffer = 64

	// writeTimeout caps how long a single framed write may block on a
	// stalled peer before the connection is dropped.
	writeTimeout = 10 * time.Second
)

// clientConn adapts a socket to core.Conn: pushes are enqueued and a single
// writer goroutine frames them, preserving per-connection FIFO order.
type clientConn struct {
	raw     net.Conn
	codec   *proto.Codec
	out     chan any
	done    chan struct{}
	closed  chan struct{}
	started atomic.Bool
	once    sync.Once
	log     *zerolog.Logger
}

func newClientConn(raw net.Conn, codec *proto.Codec, logger *zerolog.Logger) *clientConn {
	return &clientConn{
		raw:    raw,
		codec:  codec,
		out:    make(chan any, outboundBuffer),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
		log:    logger,
	}
}

// Push enqueues one record, best-effort. Records pushed before start() are
// buffered and flushed once the writer runs.
func (c *clientConn) Push(v any) {
	select {
	case c.out <- v:
	case <-c.done:
	default:
		c.log.Warn().Str("remote", c.raw.RemoteAddr().String()).Msg("outbound buffer full, dropping record")
	}
}

// start launches the writer goroutine. After this, nothing but the writer
// may touch the codec's write side.
func (c *clientConn) start() {
	c.started.Store(true)
	go c.writeLoop()
}

func (c *clientConn) writeLoop() {
	defer close(c.closed)
	for {
		select {
		case v := <-c.out:
			if err := c.write(v); err != nil {
				c.log.Debug().Err(err).Str("remote", c.raw.RemoteAddr().String()).Msg("write failed")
				c.raw.Close()
				return
			}
		case <-c.done:
			// Drain what was already queued so a quit ack still goes out.
			for {
				select {
				case v := <-c.out:
					_ = c.write(v)
				default:
					c.raw.Close()
					return
				}
			}
		}
	}
}

func (c *clientConn) write(v any) error {
	_ = c.raw.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.codec.Write(v)
}

// shutdown stops the writer, lets it drain, and releases the socket on
// every path. Safe to call from any goroutine, any number of times.
func (c *clientConn) shutdown() {
	c.once.Do(func() {
		close(c.done)
	})
	if !c.started.Load() {
		c.raw.Close()
		return
	}
	select {
	case <-c.closed:
	case <-time.After(2 * writeTimeout):
		c.raw.Close()
	}
}
