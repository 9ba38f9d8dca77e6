// Package cdkey implements the stateless CD-key service. Every datagram is
// decrypted with the static key, dispatched by request type and answered
// with at most one datagram.
package cdkey

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gsemu-project/gsemu/internal/gscrypt"
	"github.com/gsemu-project/gsemu/internal/protocol"
)

// DefaultStaticKey is the key every legacy client uses for CD-key traffic.
const DefaultStaticKey = "SKJDHF$0maoijfn4i8$aJdnv1jaldifar93-AS_dfo;hjhC4jhflasnF3fnd"

// ResultSuccess is the result code carried by every answered request.
var ResultSuccess = strconv.Itoa(int(protocol.MsgGSSuccess))

// Fixed response blobs. Clients only check their presence and length. Each
// is sent as an encoded binary value inside a binary element.
var (
	challengeHash = []byte{
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99,
		0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x01, 0x02, 0x03, 0x04,
	}
	activationID = bytes.Repeat([]byte{0x33}, 11)
	activationB  = bytes.Repeat([]byte{0x44}, 11)
	authID       = bytes.Repeat([]byte{0x55}, 15)
	validationB  = bytes.Repeat([]byte{0x66}, 11)
)

// HandlerFunc builds the result list for a request. A nil list means no
// reply is sent.
type HandlerFunc func(req protocol.CDKeyRequest) (protocol.List, error)

// Handlers maps request types to handlers.
type Handlers map[protocol.CDKeyRequestType]HandlerFunc

// NewHandlers builds the dispatch table.
func NewHandlers() Handlers {
	return Handlers{
		protocol.CDKeyChallenge:      challenge,
		protocol.CDKeyActivation:     activation,
		protocol.CDKeyAuth:           auth,
		protocol.CDKeyValidation:     validation,
		protocol.CDKeyPlayerStatus:   ignored,
		protocol.CDKeyDisconnectUser: ignored,
		protocol.CDKeyStillAlive:     ignored,
	}
}

func challenge(protocol.CDKeyRequest) (protocol.List, error) {
	return protocol.NewListBuilder().WrappedBinary(challengeHash).Build(), nil
}

func activation(protocol.CDKeyRequest) (protocol.List, error) {
	return protocol.NewListBuilder().WrappedBinary(activationID).WrappedBinary(activationB).Build(), nil
}

func auth(protocol.CDKeyRequest) (protocol.List, error) {
	return protocol.NewListBuilder().WrappedBinary(authID).Build(), nil
}

func validation(protocol.CDKeyRequest) (protocol.List, error) {
	return protocol.NewListBuilder().Int(protocol.PlayerStatusValid).WrappedBinary(validationB).Build(), nil
}

func ignored(protocol.CDKeyRequest) (protocol.List, error) {
	return nil, nil
}

// Result describes how one datagram was handled.
type Result struct {
	Request protocol.CDKeyRequest
	Reply   []byte
}

// Handler decodes, dispatches and answers CD-key datagrams. It keeps no
// per-client state and is safe for concurrent use.
type Handler struct {
	cipher   *gscrypt.SessionCipher
	handlers Handlers
	logger   zerolog.Logger
}

// NewHandler creates a Handler using staticKey for every datagram. An
// empty key selects DefaultStaticKey.
func NewHandler(staticKey string) (*Handler, error) {
	if staticKey == "" {
		staticKey = DefaultStaticKey
	}
	c, err := gscrypt.NewSessionCipher([]byte(staticKey))
	if err != nil {
		return nil, fmt.Errorf("cdkey static key: %w", err)
	}
	return &Handler{
		cipher:   c,
		handlers: NewHandlers(),
		logger:   log.With().Str("component", "cdkey").Logger(),
	}, nil
}

// Cipher returns the static-key cipher, for tooling that builds requests.
func (h *Handler) Cipher() protocol.PayloadCipher {
	return h.cipher
}

// HandleDatagram processes one datagram. Result.Reply is nil when nothing
// should be sent. The returned error is for the caller's bookkeeping; the
// handler has already logged it.
func (h *Handler) HandleDatagram(datagram []byte) (Result, error) {
	req, err := protocol.ParseCDKeyRequest(datagram, h.cipher)
	if err != nil {
		h.logger.Warn().Err(err).Int("bytes", len(datagram)).Msg("dropping malformed datagram")
		return Result{Request: req}, err
	}

	logger := h.logger.With().
		Str("msg_id", req.MessageID).
		Str("request", req.RequestType.String()).
		Logger()

	if req.Category != protocol.CDKeyMessageType {
		logger.Warn().Uint8("category", req.Category).Msg("unexpected datagram category")
	}

	fn, ok := h.handlers[req.RequestType]
	if !ok {
		logger.Warn().Msg("no handler for request type")
		return Result{Request: req}, fmt.Errorf("cdkey request %s: %w", req.RequestType, protocol.ErrUnknownMessageType)
	}

	result, err := fn(req)
	if err != nil {
		logger.Warn().Err(err).Msg("request rejected")
		return Result{Request: req}, err
	}
	if result == nil {
		logger.Debug().Msg("request needs no reply")
		return Result{Request: req}, nil
	}

	resp := protocol.NewCDKeyResponse(req)
	resp.Data = protocol.NewListBuilder().Text(ResultSuccess).List(result).Build()

	reply, err := resp.Serialize(h.cipher)
	if err != nil {
		logger.Error().Err(err).Msg("failed to serialize response")
		return Result{Request: req}, err
	}

	logger.Debug().Stringer("data", resp.Data).Msg("replying")
	return Result{Request: req, Reply: reply}, nil
}
