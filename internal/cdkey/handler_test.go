package cdkey

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gsemu-project/gsemu/internal/protocol"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	h, err := NewHandler("")
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

func request(t *testing.T, h *Handler, rt protocol.CDKeyRequestType, data protocol.List) []byte {
	t.Helper()
	buf, err := protocol.CDKeyRequest{
		Category:    protocol.CDKeyMessageType,
		MessageID:   "42",
		RequestType: rt,
		Unknown:     "0",
		Data:        data,
	}.Serialize(h.Cipher())
	if err != nil {
		t.Fatalf("serialize request: %v", err)
	}
	return buf
}

// wrapped is data encoded as a binary value: tag, big-endian length, bytes.
func wrapped(data []byte) protocol.Binary {
	return append(protocol.Binary{'b', 0, 0, 0, byte(len(data))}, data...)
}

func TestChallengeScenario(t *testing.T) {
	h := newHandler(t)

	res, err := h.HandleDatagram(request(t, h, protocol.CDKeyChallenge, protocol.List{protocol.Text("SPLINTERCELL3PC")}))
	if err != nil {
		t.Fatalf("HandleDatagram: %v", err)
	}
	if res.Reply == nil {
		t.Fatalf("no reply to challenge")
	}
	if res.Reply[0] != protocol.CDKeyMessageType {
		t.Fatalf("reply category %d", res.Reply[0])
	}

	resp, err := protocol.ParseCDKeyRequest(res.Reply, h.Cipher())
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if resp.MessageID != "42" || resp.RequestType != protocol.CDKeyChallenge || resp.Unknown != "0" {
		t.Fatalf("reply fields %+v", resp)
	}

	want := protocol.List{
		protocol.Text("38"),
		protocol.List{wrapped(challengeHash)},
	}
	if !protocol.Equal(resp.Data, want) {
		t.Fatalf("reply data %s, want %s", resp.Data, want)
	}
}

func TestResultPayloads(t *testing.T) {
	h := newHandler(t)

	tests := []struct {
		rt   protocol.CDKeyRequestType
		want protocol.List
	}{
		{protocol.CDKeyActivation, protocol.List{wrapped(bytes.Repeat([]byte{0x33}, 11)), wrapped(bytes.Repeat([]byte{0x44}, 11))}},
		{protocol.CDKeyAuth, protocol.List{wrapped(bytes.Repeat([]byte{0x55}, 15))}},
		{protocol.CDKeyValidation, protocol.List{protocol.Text("2"), wrapped(bytes.Repeat([]byte{0x66}, 11))}},
	}

	for _, tt := range tests {
		t.Run(tt.rt.String(), func(t *testing.T) {
			res, err := h.HandleDatagram(request(t, h, tt.rt, protocol.List{}))
			if err != nil {
				t.Fatalf("HandleDatagram: %v", err)
			}
			resp, err := protocol.ParseCDKeyRequest(res.Reply, h.Cipher())
			if err != nil {
				t.Fatalf("parse reply: %v", err)
			}
			code, _ := resp.Data.Text(0)
			result, err := resp.Data.List(1)
			if code != ResultSuccess || err != nil {
				t.Fatalf("reply data %s", resp.Data)
			}
			if !protocol.Equal(result, tt.want) {
				t.Fatalf("result %s, want %s", result, tt.want)
			}
		})
	}
}

func TestNoReplyRequests(t *testing.T) {
	h := newHandler(t)

	for _, rt := range []protocol.CDKeyRequestType{protocol.CDKeyStillAlive, protocol.CDKeyPlayerStatus, protocol.CDKeyDisconnectUser} {
		res, err := h.HandleDatagram(request(t, h, rt, protocol.List{}))
		if err != nil {
			t.Fatalf("%s: %v", rt, err)
		}
		if res.Reply != nil {
			t.Fatalf("%s: unexpected reply", rt)
		}
		if res.Request.RequestType != rt {
			t.Fatalf("%s: request type %s", rt, res.Request.RequestType)
		}
	}
}

func TestUnknownRequestType(t *testing.T) {
	h := newHandler(t)
	res, err := h.HandleDatagram(request(t, h, protocol.CDKeyRequestType(99), protocol.List{}))
	if !errors.Is(err, protocol.ErrUnknownMessageType) {
		t.Fatalf("got %v, want ErrUnknownMessageType", err)
	}
	if res.Reply != nil {
		t.Fatalf("reply to unknown request type")
	}
}

func TestMalformedDatagram(t *testing.T) {
	h := newHandler(t)
	res, err := h.HandleDatagram([]byte{211, 0, 0, 0, 3, 1, 2, 3})
	if !errors.Is(err, protocol.ErrCorruptBuffer) {
		t.Fatalf("got %v, want ErrCorruptBuffer", err)
	}
	if res.Reply != nil {
		t.Fatalf("reply to malformed datagram")
	}
}
