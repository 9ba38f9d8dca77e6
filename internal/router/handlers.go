package router

import (
	"fmt"

	"github.com/gsemu-project/gsemu/internal/gscrypt"
	"github.com/gsemu-project/gsemu/internal/protocol"
)

// HandlerFunc handles one request and returns the response to send, or nil
// when nothing should be sent.
type HandlerFunc func(s *Session, msg protocol.Message) (*protocol.Message, error)

// Handlers maps message types to their handler. It is built once by
// NewHandlers and shared read-only by every connection.
type Handlers map[protocol.MessageType]HandlerFunc

// Options configures the handler table.
type Options struct {
	// WaitModuleHost and WaitModulePort are handed to clients that ask to
	// join the wait module.
	WaitModuleHost string
	WaitModulePort int

	KeyBits     int
	KeyExponent int
}

// DefaultOptions returns the options legacy clients expect.
func DefaultOptions() Options {
	return Options{
		WaitModuleHost: "127.0.0.1",
		WaitModulePort: 40001,
		KeyBits:        gscrypt.DefaultKeyBits,
		KeyExponent:    gscrypt.DefaultKeyExponent,
	}
}

// Player info placeholders following the username.
var playerInfoFields = []string{"findme2", "findme3", "findme4", "findme5", "findme6", "findme7"}

// NewHandlers builds the dispatch table.
func NewHandlers(opts Options) Handlers {
	return Handlers{
		protocol.MsgStillAlive:      stillAlive,
		protocol.MsgKeyExchange:     keyExchange(opts),
		protocol.MsgLogin:           login,
		protocol.MsgJoinWaitModule:  joinWaitModule(opts),
		protocol.MsgLoginWaitModule: loginWaitModule,
		protocol.MsgPlayerInfo:      playerInfo,
	}
}

// Dispatch runs the handler registered for msg's type.
func (h Handlers) Dispatch(s *Session, msg protocol.Message) (*protocol.Message, error) {
	fn, ok := h[msg.Header.Type]
	if !ok {
		return nil, fmt.Errorf("message type %s: %w", msg.Header.Type, protocol.ErrUnknownMessageType)
	}
	return fn(s, msg)
}

// success builds a GSSUCCESS reply to msg carrying payload.
func success(msg protocol.Message, payload protocol.List) *protocol.Message {
	h := msg.Header.Reply()
	h.Type = protocol.MsgGSSuccess
	h.Confidentiality = protocol.Obfuscated
	return &protocol.Message{Header: h, Payload: payload}
}

func stillAlive(_ *Session, msg protocol.Message) (*protocol.Message, error) {
	h := msg.Header.Reply()
	h.Confidentiality = protocol.Obfuscated
	return &protocol.Message{Header: h, Payload: msg.Payload}, nil
}

func keyExchange(opts Options) HandlerFunc {
	return func(s *Session, msg protocol.Message) (*protocol.Message, error) {
		id, err := msg.Payload.Text(0)
		if err != nil {
			return nil, fmt.Errorf("key exchange request id: %w", err)
		}

		var blob []byte
		switch id {
		case "1", "2":
			inner, err := msg.Payload.List(1)
			if err != nil {
				return nil, fmt.Errorf("key exchange %s data: %w", id, err)
			}
			var ok bool
			if blob, ok = inner.FirstBinary(); !ok {
				return nil, fmt.Errorf("key exchange %s carries no key: %w", id, protocol.ErrProtocolViolation)
			}
		case "3":
			return nil, fmt.Errorf("key exchange disconnect: %w", protocol.ErrNotSupported)
		default:
			return nil, fmt.Errorf("key exchange request id %q: %w", id, protocol.ErrProtocolViolation)
		}

		var out []byte
		if id == "1" {
			out, err = s.ExchangePublicKeys(blob, opts.KeyBits, opts.KeyExponent)
		} else {
			out, err = s.ExchangeSessionKeys(blob)
		}
		if err != nil {
			return nil, err
		}

		inner := protocol.NewListBuilder().Text("1").Int(len(out)).Binary(out).Build()
		payload := protocol.NewListBuilder().Text(id).List(inner).Build()
		return &protocol.Message{Header: msg.Header.Reply(), Payload: payload}, nil
	}
}

func login(s *Session, msg protocol.Message) (*protocol.Message, error) {
	if name, err := msg.Payload.Text(0); err == nil {
		s.setUsername(name)
	}
	return success(msg, protocol.NewListBuilder().Byte(byte(protocol.MsgLogin)).Build()), nil
}

func joinWaitModule(opts Options) HandlerFunc {
	return func(_ *Session, msg protocol.Message) (*protocol.Message, error) {
		addr := protocol.NewListBuilder().
			Text(opts.WaitModuleHost).
			Uint32LE(uint32(opts.WaitModulePort)).
			Build()
		payload := protocol.NewListBuilder().
			Byte(byte(protocol.MsgJoinWaitModule)).
			List(addr).
			Build()
		return success(msg, payload), nil
	}
}

func loginWaitModule(_ *Session, msg protocol.Message) (*protocol.Message, error) {
	return success(msg, protocol.NewListBuilder().Byte(byte(protocol.MsgLoginWaitModule)).Build()), nil
}

func playerInfo(s *Session, msg protocol.Message) (*protocol.Message, error) {
	name := s.Username()
	if name == "" {
		name = "findme1"
	}

	fields := protocol.NewListBuilder().Text(name)
	for _, f := range playerInfoFields {
		fields.Text(f)
	}

	payload := protocol.NewListBuilder().
		Byte(byte(protocol.MsgPlayerInfo)).
		List(fields.Build()).
		Build()
	return success(msg, payload), nil
}
