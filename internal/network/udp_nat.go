package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/gsemu-project/gsemu/internal/events"
	"github.com/gsemu-project/gsemu/internal/gsnat"
	"github.com/gsemu-project/gsemu/internal/protocol"
	"github.com/gsemu-project/gsemu/internal/util"
)

// NATListener answers NAT requests on one UDP address.
type NATListener struct {
	addr    string
	handler *gsnat.Handler
	emit    func(events.Event)
	logger  zerolog.Logger

	requests atomic.Uint64
	replies  atomic.Uint64

	mu   sync.Mutex
	conn net.PacketConn
}

// NewNATListener creates a listener on addr. emit may be nil.
func NewNATListener(addr string, handler *gsnat.Handler, emit func(events.Event)) *NATListener {
	if emit == nil {
		emit = func(events.Event) {}
	}
	return &NATListener{
		addr:    addr,
		handler: handler,
		emit:    emit,
		logger:  util.ComponentLogger(events.ServiceNAT),
	}
}

// Start binds and serves until ctx is cancelled.
func (l *NATListener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Listen binds the UDP socket with SO_REUSEADDR.
func (l *NATListener) Listen(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start NAT listener on %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.conn = pc
	l.mu.Unlock()

	l.logger.Info().Str("addr", pc.LocalAddr().String()).Msg("UDP listener started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *NATListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Serve reads and answers datagrams until ctx is cancelled.
func (l *NATListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	pc := l.conn
	l.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("NAT listener: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	buf := make([]byte, gsnat.MaxDatagramSize)
	for {
		n, remote, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logger.Info().Msg("UDP listener stopping")
				return nil
			}
			l.logger.Error().Err(err).Msg("UDP read error")
			continue
		}

		l.handle(pc, buf[:n], remote)
	}
}

func (l *NATListener) handle(pc net.PacketConn, datagram []byte, remote net.Addr) {
	res, err := l.handler.HandleDatagram(datagram)
	switch {
	case errors.Is(err, gsnat.ErrEmptyPacket):
		l.logger.Debug().Str("remote", remote.String()).Msg("empty datagram ignored")
		return
	case err != nil:
		l.logger.Warn().Err(err).Str("remote", remote.String()).Msg("dropping malformed datagram")
		l.emit(events.New(events.EventProtocolError, events.ServiceNAT, events.ProtocolErrorPayload{
			Remote: remote.String(),
			Kind:   protocol.ErrorKind(err),
			Detail: err.Error(),
		}))
		return
	}
	l.requests.Add(1)

	replied := false
	if res.Reply != nil {
		if _, err := pc.WriteTo(res.Reply, remote); err != nil {
			l.logger.Warn().Err(err).Str("remote", remote.String()).Msg("failed to send reply")
		} else {
			replied = true
			l.replies.Add(1)
		}
	}

	l.emit(events.New(events.EventNATRequest, events.ServiceNAT, events.NATRequestPayload{
		Remote:  remote.String(),
		Flags:   res.Request.Flags,
		Seg:     res.Request.Seg,
		Replied: replied,
	}))
}

// Stats returns the request and reply counters for the heartbeat.
func (l *NATListener) Stats() map[string]interface{} {
	return map[string]interface{}{
		"gsnat_requests": l.requests.Load(),
		"gsnat_replies":  l.replies.Load(),
	}
}

// Stop closes the UDP socket.
func (l *NATListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
