package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gsemu-project/gsemu/internal/cdkey"
	"github.com/gsemu-project/gsemu/internal/events"
	"github.com/gsemu-project/gsemu/internal/protocol"
	"github.com/gsemu-project/gsemu/internal/util"
)

// maxDatagramSize covers the largest legal CD-key datagram.
const maxDatagramSize = protocol.CDKeyHeaderSize + protocol.CDKeyMaxPayload

// CDKeyListener answers CD-key datagrams. Datagrams are handled inline in
// the read loop since the service keeps no per-client state.
type CDKeyListener struct {
	addr    string
	handler *cdkey.Handler
	emit    func(events.Event)
	logger  zerolog.Logger

	mu   sync.Mutex
	conn net.PacketConn
}

// NewCDKeyListener creates a listener on addr. emit may be nil.
func NewCDKeyListener(addr string, handler *cdkey.Handler, emit func(events.Event)) *CDKeyListener {
	if emit == nil {
		emit = func(events.Event) {}
	}
	return &CDKeyListener{
		addr:    addr,
		handler: handler,
		emit:    emit,
		logger:  util.ComponentLogger(events.ServiceCDKey),
	}
}

// Start binds and serves until ctx is cancelled.
func (l *CDKeyListener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Listen binds the UDP socket with SO_REUSEADDR.
func (l *CDKeyListener) Listen(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start CD-key listener on %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.conn = pc
	l.mu.Unlock()

	l.logger.Info().Str("addr", pc.LocalAddr().String()).Msg("UDP listener started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *CDKeyListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Serve reads and answers datagrams until ctx is cancelled.
func (l *CDKeyListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	pc := l.conn
	l.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("CD-key listener: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, remote, err := pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				l.logger.Info().Msg("UDP listener stopping")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Error().Err(err).Msg("UDP read error")
			continue
		}

		l.handle(pc, buf[:n], remote)
	}
}

func (l *CDKeyListener) handle(pc net.PacketConn, datagram []byte, remote net.Addr) {
	res, err := l.handler.HandleDatagram(datagram)
	if err != nil {
		l.emit(events.New(events.EventProtocolError, events.ServiceCDKey, events.ProtocolErrorPayload{
			Remote:      remote.String(),
			Kind:        protocol.ErrorKind(err),
			MessageType: res.Request.RequestType.String(),
			Detail:      err.Error(),
		}))
		return
	}

	replied := false
	if res.Reply != nil {
		if _, err := pc.WriteTo(res.Reply, remote); err != nil {
			l.logger.Warn().Err(err).Str("remote", remote.String()).Msg("failed to send reply")
		} else {
			replied = true
		}
	}

	l.emit(events.New(events.EventCDKeyRequest, events.ServiceCDKey, events.CDKeyRequestPayload{
		Remote:      remote.String(),
		MessageID:   res.Request.MessageID,
		RequestType: res.Request.RequestType.String(),
		Replied:     replied,
	}))
}

// Stop closes the UDP socket.
func (l *CDKeyListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
