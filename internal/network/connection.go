// Package network implements the TCP router listeners, the UDP CD-key
// listener and the registry of live router connections.
package network

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gsemu-project/gsemu/internal/router"
)

// WriteTimeout bounds a single response write.
const WriteTimeout = 10 * time.Second

// Connection binds a client socket to its protocol state. The listener's
// per-connection goroutine is the only reader; writes are serialized.
type Connection struct {
	mu     sync.Mutex
	conn   net.Conn
	proto  *router.Conn
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity time.Time

	closed bool
}

// NewConnection wraps an accepted socket and its protocol state.
func NewConnection(conn net.Conn, proto *router.Conn) *Connection {
	now := time.Now()
	return &Connection{
		conn:         conn,
		proto:        proto,
		connectedAt:  now,
		lastActivity: now,
		logger: log.With().
			Str("component", "connection").
			Str("remote", conn.RemoteAddr().String()).
			Str("conn_id", proto.Session().ID()).
			Logger(),
	}
}

// ID returns the connection's session id.
func (c *Connection) ID() string {
	return c.proto.Session().ID()
}

// Protocol returns the connection's protocol state.
func (c *Connection) Protocol() *router.Conn {
	return c.proto
}

// Read reads the next chunk from the socket. A zero timeout disables the
// read deadline.
func (c *Connection) Read(buf []byte, timeout time.Duration) (int, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	n, err := c.conn.Read(buf)
	if n > 0 {
		c.touch()
	}
	return n, err
}

// Write sends one serialized message.
func (c *Connection) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	c.lastActivity = time.Now()
	return nil
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Close closes the socket and wipes the session keys. It is safe to call
// more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.proto.Close()
	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last read or write.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was accepted.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ConnectionInfo is the status view of a live connection.
type ConnectionInfo struct {
	ID           string       `json:"id"`
	Remote       string       `json:"remote"`
	Listener     string       `json:"listener"`
	State        router.State `json:"state"`
	Username     string       `json:"username,omitempty"`
	ConnectedAt  time.Time    `json:"connected_at"`
	LastActivity time.Time    `json:"last_activity"`
}

// Info returns a snapshot of the connection for status output.
func (c *Connection) Info() ConnectionInfo {
	s := c.proto.Session()
	return ConnectionInfo{
		ID:           s.ID(),
		Remote:       c.RemoteAddr().String(),
		Listener:     c.proto.Info().Listener,
		State:        s.State(),
		Username:     s.Username(),
		ConnectedAt:  c.connectedAt,
		LastActivity: c.LastActivity(),
	}
}

// ConnectionRegistry tracks live router connections by id.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*Connection),
	}
}

// Register adds a connection to the registry.
func (r *ConnectionRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
	log.Debug().Str("conn_id", conn.ID()).Msg("connection registered")
}

// Unregister removes a connection and closes it.
func (r *ConnectionRegistry) Unregister(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()

	if ok {
		conn.Close()
		log.Debug().Str("conn_id", id).Msg("connection unregistered")
	}
}

// Get returns the connection with the given id.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the status of every live connection, oldest first.
func (r *ConnectionRegistry) Snapshot() []ConnectionInfo {
	r.mu.RLock()
	out := make([]ConnectionInfo, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// CloseAll closes every connection. Their handler goroutines unregister
// them as their reads fail.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.conns {
		conn.Close()
	}
	if len(r.conns) > 0 {
		log.Info().Int("count", len(r.conns)).Msg("all connections closed")
	}
}

// CleanStale closes connections inactive for longer than timeout and
// returns how many were closed. The handler goroutine of each emits the
// disconnect event.
func (r *ConnectionRegistry) CleanStale(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleaned := 0
	cutoff := time.Now().Add(-timeout)

	for id, conn := range r.conns {
		last := conn.LastActivity()
		if last.Before(cutoff) {
			conn.Close()
			delete(r.conns, id)
			cleaned++
			log.Warn().
				Str("conn_id", id).
				Time("last_activity", last).
				Msg("closed idle connection")
		}
	}

	return cleaned
}
