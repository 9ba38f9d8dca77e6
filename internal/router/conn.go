package router

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gsemu-project/gsemu/internal/events"
	"github.com/gsemu-project/gsemu/internal/protocol"
)

// Conn is the protocol side of one router connection. It buffers partial
// reads, splits complete messages, dispatches them against its Session and
// returns the serialized responses. It never touches the socket.
type Conn struct {
	mu       sync.Mutex
	buf      []byte
	session  *Session
	handlers Handlers
	info     events.ConnectionPayload
	notify   func(events.Event)
	logger   zerolog.Logger
}

// NewConn creates a Conn with a fresh Session. notify receives the
// handshake, login and protocol error events; it may be nil.
func NewConn(handlers Handlers, listener, remote string, notify func(events.Event)) *Conn {
	s := NewSession()
	if notify == nil {
		notify = func(events.Event) {}
	}
	return &Conn{
		session:  s,
		handlers: handlers,
		info: events.ConnectionPayload{
			ConnID:   s.ID(),
			Remote:   remote,
			Listener: listener,
		},
		notify: notify,
		logger: log.With().
			Str("component", listener).
			Str("remote", remote).
			Str("conn_id", s.ID()).
			Logger(),
	}
}

// Session returns the connection's session.
func (c *Conn) Session() *Session {
	return c.session
}

// Info returns the identifying fields used in events.
func (c *Conn) Info() events.ConnectionPayload {
	return c.info
}

// Buffered returns the number of bytes held for an incomplete message.
func (c *Conn) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Feed appends data to the reassembly buffer and handles every complete
// message in it. An incomplete tail stays buffered for the next call.
//
// A message that fails to parse is reported and skipped by its declared
// size; the messages after it are still handled. Only an unusable header
// drops the whole buffer, since no later boundary can be found. The first
// corrupt-buffer error is returned together with all responses.
func (c *Conn) Feed(data []byte) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf, data...)

	var out [][]byte
	var corrupt error
	for len(c.buf) > 0 {
		inbound := c.session.Inbound()
		first, err := protocol.ParseMessage(c.buf, inbound)
		if err != nil {
			if errors.Is(err, protocol.ErrIncomplete) {
				break
			}
			c.reportError(first, err)
			if corrupt == nil && protocol.IsCorrupt(err) {
				corrupt = err
			}
			if int(first.Header.Size) < protocol.HeaderSize {
				c.logger.Debug().Int("dropped", len(c.buf)).Msg("discarding buffered bytes")
				c.buf = nil
				break
			}
			c.consume(int(first.Header.Size))
			continue
		}

		// A bundle error is reported when the loop reaches that message
		// again as the head of the buffer.
		msgs, _, _ := protocol.ParseBundle(first, c.buf[first.Header.Size:], inbound)
		for _, msg := range msgs {
			c.consume(int(msg.Header.Size))
			if resp := c.dispatch(msg); resp != nil {
				out = append(out, resp)
			}
			// New session keys invalidate the rest of the parsed bundle.
			if c.session.Inbound() != inbound {
				break
			}
		}
	}

	return out, corrupt
}

// consume drops n bytes from the front of the buffer without keeping the
// old backing array alive once it is empty.
func (c *Conn) consume(n int) {
	if n >= len(c.buf) {
		c.buf = nil
		return
	}
	c.buf = c.buf[n:]
}

func (c *Conn) dispatch(msg protocol.Message) []byte {
	c.logger.Debug().Stringer("msg", msg).Msg("->")

	before := c.session.State()
	resp, err := c.handlers.Dispatch(c.session, msg)
	if err != nil {
		c.reportError(msg, err)
		return nil
	}

	if after := c.session.State(); after != before {
		c.logger.Info().Str("state", after.String()).Msg("handshake progressed")
		c.notify(events.New(events.EventHandshakeProgress, c.info.Listener, events.HandshakePayload{
			ConnectionPayload: c.info,
			State:             after.String(),
		}))
	}
	if msg.Header.Type == protocol.MsgLogin {
		c.logger.Info().Str("username", c.session.Username()).Msg("client logged in")
		c.notify(events.New(events.EventClientLogin, c.info.Listener, events.LoginPayload{
			ConnectionPayload: c.info,
			Username:          c.session.Username(),
		}))
	}

	if resp == nil {
		return nil
	}

	buf, err := resp.Serialize(c.session.Outbound())
	if err != nil {
		c.reportError(msg, err)
		return nil
	}

	c.logger.Debug().Stringer("msg", resp).Msg("<-")
	return buf
}

// reportError logs err at the level its kind calls for and emits a
// protocol_error event for everything but unknown message types.
func (c *Conn) reportError(msg protocol.Message, err error) {
	kind := protocol.ErrorKind(err)

	var ev *zerolog.Event
	switch {
	case errors.Is(err, protocol.ErrUnknownMessageType):
		c.logger.Debug().Err(err).Uint8("type", uint8(msg.Header.Type)).Msg("no handler, message dropped")
		return
	case kind == "internal":
		ev = c.logger.Error()
	default:
		ev = c.logger.Warn()
	}
	ev.Err(err).Str("kind", kind).Str("type", msg.Header.Type.String()).Msg("message rejected")

	c.notify(events.New(events.EventProtocolError, c.info.Listener, events.ProtocolErrorPayload{
		ConnID:      c.info.ConnID,
		Remote:      c.info.Remote,
		Kind:        kind,
		MessageType: msg.Header.Type.String(),
		Detail:      err.Error(),
	}))
}

// Close wipes the session keys.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = nil
	c.session.Close()
}
