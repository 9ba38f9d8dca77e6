package gsnat

import (
	"github.com/rs/zerolog"

	"github.com/gsemu-project/gsemu/internal/util"
)

// Result describes how one datagram was handled.
type Result struct {
	Request Packet
	Reply   []byte
}

// Handler answers NAT requests. It keeps no per-client state.
type Handler struct {
	logger zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler() *Handler {
	return &Handler{logger: util.ComponentLogger("gsnat")}
}

// HandleDatagram processes one datagram. Only SYN segments are answered;
// Result.Reply is nil for everything else.
func (h *Handler) HandleDatagram(datagram []byte) (Result, error) {
	req, err := ParsePacket(datagram)
	if err != nil {
		return Result{Request: req}, err
	}

	h.logger.Debug().Stringer("packet", req).Msg("->")
	if !req.IsSYN() {
		return Result{Request: req}, nil
	}

	resp := Reply(req)
	h.logger.Debug().Stringer("packet", resp).Msg("<-")
	return Result{Request: req, Reply: resp.Bytes()}, nil
}
