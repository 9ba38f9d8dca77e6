package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gsemu-project/gsemu/internal/events"
	"github.com/gsemu-project/gsemu/internal/util"
)

// MaxLineLength bounds one line read by a LineListener.
const MaxLineLength = 4096

// LineListener accepts TCP clients and logs every newline-terminated line
// they send without answering. The IRC and proxy services run one each:
// legacy clients only need the socket to accept and stay open.
type LineListener struct {
	name        string
	addr        string
	emit        func(events.Event)
	idleTimeout time.Duration
	logger      zerolog.Logger

	lines atomic.Uint64

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]net.Conn
	wg       sync.WaitGroup
}

// LineListenerOptions configures a LineListener.
type LineListenerOptions struct {
	// Name is the service name used in logs and events, for example
	// events.ServiceIRC.
	Name string
	Addr string
	// Emit receives connect and disconnect events. May be nil.
	Emit func(events.Event)
	// IdleTimeout closes a client that sends nothing for this long. Zero
	// disables it.
	IdleTimeout time.Duration
}

// NewLineListener creates a listener. Call Listen then Serve, or Start.
func NewLineListener(opts LineListenerOptions) *LineListener {
	emit := opts.Emit
	if emit == nil {
		emit = func(events.Event) {}
	}
	return &LineListener{
		name:        opts.Name,
		addr:        opts.Addr,
		emit:        emit,
		idleTimeout: opts.IdleTimeout,
		logger:      util.ComponentLogger(opts.Name),
		conns:       make(map[string]net.Conn),
	}
}

// Name returns the listener's service name.
func (l *LineListener) Name() string {
	return l.name
}

// Start binds and serves until ctx is cancelled.
func (l *LineListener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Listen binds the listening socket with SO_REUSEADDR.
func (l *LineListener) Listen(ctx context.Context) error {
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
func (l *LineListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Serve accepts clients until ctx is cancelled, then closes them and waits
// for their goroutines.
func (l *LineListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("%s listener: Serve called before Listen", l.name)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
		l.closeAll()
	}()

	defer l.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logger.Info().Msg("TCP listener stopping")
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

func (l *LineListener) handleConnection(ctx context.Context, conn net.Conn) {
	info := events.ConnectionPayload{
		ConnID:   uuid.NewString(),
		Remote:   conn.RemoteAddr().String(),
		Listener: l.name,
	}
	logger := l.logger.With().Str("remote", info.Remote).Str("conn_id", info.ConnID).Logger()

	l.mu.Lock()
	l.conns[info.ConnID] = conn
	l.mu.Unlock()
	if ctx.Err() != nil {
		// Accepted after the shutdown sweep.
		conn.Close()
	}

	connectedAt := time.Now()
	logger.Info().Msg("client connected")
	l.emit(events.New(events.EventClientConnected, l.name, info))

	reason := l.readLines(conn, logger)
	if ctx.Err() != nil {
		reason = ReasonShutdown
	}

	l.mu.Lock()
	delete(l.conns, info.ConnID)
	l.mu.Unlock()
	conn.Close()

	duration := time.Since(connectedAt)
	logger.Info().Str("reason", reason).Dur("duration", duration).Msg("client disconnected")
	l.emit(events.New(events.EventClientDisconnected, l.name, events.DisconnectPayload{
		ConnectionPayload: info,
		Reason:            reason,
		Duration:          duration.Seconds(),
	}))
}

func (l *LineListener) readLines(conn net.Conn, logger zerolog.Logger) string {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 512), MaxLineLength)

	for {
		if l.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(l.idleTimeout))
		}
		if !scanner.Scan() {
			break
		}
		l.lines.Add(1)
		logger.Debug().Str("line", strings.TrimRight(scanner.Text(), "\r")).Msg("->")
	}

	err := scanner.Err()
	var netErr net.Error
	switch {
	case err == nil:
		return ReasonClosedByPeer
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Warn().Msg("connection idle, closing")
		return ReasonIdleTimeout
	default:
		logger.Warn().Err(err).Msg("read error, closing connection")
		return ReasonReadError
	}
}

func (l *LineListener) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, conn := range l.conns {
		conn.Close()
	}
}

// Count returns the number of connected clients.
func (l *LineListener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Stats returns the client and line counters for the heartbeat.
func (l *LineListener) Stats() map[string]interface{} {
	return map[string]interface{}{
		l.name + "_connections": l.Count(),
		l.name + "_lines":       l.lines.Load(),
	}
}

// Stop closes the listening socket.
func (l *LineListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
