package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gsemu-project/gsemu/internal/events"
	"github.com/gsemu-project/gsemu/internal/router"
	"github.com/gsemu-project/gsemu/internal/util"
)

const readBufferSize = 4096

// Disconnect reasons reported in client_disconnected events.
const (
	ReasonClosedByPeer = "closed_by_peer"
	ReasonIdleTimeout  = "idle_timeout"
	ReasonReadError    = "read_error"
	ReasonWriteError   = "write_error"
	ReasonShutdown     = "shutdown"
)

// RouterListener accepts router clients on one TCP address. The router and
// the wait module each run one, sharing the handler table and registry.
type RouterListener struct {
	name        string
	addr        string
	handlers    router.Handlers
	registry    *ConnectionRegistry
	emit        func(events.Event)
	idleTimeout time.Duration
	logger      zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// RouterListenerOptions configures a RouterListener.
type RouterListenerOptions struct {
	// Name identifies the listener in logs and events, for example
	// events.ServiceRouter.
	Name string
	// Addr is the host:port to bind.
	Addr     string
	Handlers router.Handlers
	Registry *ConnectionRegistry
	// Emit receives connection, handshake and error events. May be nil.
	Emit func(events.Event)
	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration
}

// NewRouterListener creates a listener. Call Listen then Serve, or Start.
func NewRouterListener(opts RouterListenerOptions) *RouterListener {
	emit := opts.Emit
	if emit == nil {
		emit = func(events.Event) {}
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewConnectionRegistry()
	}
	return &RouterListener{
		name:        opts.Name,
		addr:        opts.Addr,
		handlers:    opts.Handlers,
		registry:    registry,
		emit:        emit,
		idleTimeout: opts.IdleTimeout,
		logger:      util.ComponentLogger(opts.Name),
	}
}

// Start binds and serves until ctx is cancelled.
func (l *RouterListener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Listen binds the listening socket with SO_REUSEADDR.
func (l *RouterListener) Listen(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start %s listener on %s: %w", l.name, l.addr, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.logger.Info().Str("addr", ln.Addr().String()).Msg("TCP listener started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *RouterListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener's connections and waits for their goroutines.
func (l *RouterListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("%s listener: Serve called before Listen", l.name)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	defer l.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.logger.Info().Msg("TCP listener stopping")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection runs the read loop of one client: read, feed the
// reassembly buffer, write every response. Protocol errors never close the
// connection; only transport errors, idle timeout and shutdown do.
func (l *RouterListener) handleConnection(ctx context.Context, rawConn net.Conn) {
	remote := rawConn.RemoteAddr().String()
	proto := router.NewConn(l.handlers, l.name, remote, l.emit)
	conn := NewConnection(rawConn, proto)
	info := proto.Info()

	logger := l.logger.With().Str("remote", remote).Str("conn_id", info.ConnID).Logger()
	logger.Info().Msg("client connected")

	l.registry.Register(conn)
	l.emit(events.New(events.EventClientConnected, l.name, info))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	reason := l.readLoop(conn, logger)
	if ctx.Err() != nil {
		reason = ReasonShutdown
	}

	l.registry.Unregister(info.ConnID)
	duration := time.Since(conn.ConnectedAt())

	logger.Info().
		Str("reason", reason).
		Dur("duration", duration).
		Msg("client disconnected")
	l.emit(events.New(events.EventClientDisconnected, l.name, events.DisconnectPayload{
		ConnectionPayload: info,
		Reason:            reason,
		Duration:          duration.Seconds(),
	}))
}

func (l *RouterListener) readLoop(conn *Connection, logger zerolog.Logger) string {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf, l.idleTimeout)
		if n > 0 {
			responses, feedErr := conn.Protocol().Feed(buf[:n])
			if feedErr != nil {
				logger.Debug().Err(feedErr).Msg("corrupt message dropped")
			}
			for _, resp := range responses {
				if werr := conn.Write(resp); werr != nil {
					logger.Warn().Err(werr).Msg("failed to write response")
					return ReasonWriteError
				}
			}
		}
		if err != nil {
			return readErrorReason(conn, err, logger)
		}
	}
}

func readErrorReason(conn *Connection, err error, logger zerolog.Logger) string {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		return ReasonClosedByPeer
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Warn().Msg("connection idle, closing")
		return ReasonIdleTimeout
	case conn.IsClosed():
		// Closed locally by the stale sweep or shutdown.
		return ReasonIdleTimeout
	default:
		logger.Warn().Err(err).Msg("read error, closing connection")
		return ReasonReadError
	}
}

// Name returns the listener's service name.
func (l *RouterListener) Name() string {
	return l.name
}

// Registry returns the registry connections are tracked in.
func (l *RouterListener) Registry() *ConnectionRegistry {
	return l.registry
}

// Stop closes the listening socket.
func (l *RouterListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
