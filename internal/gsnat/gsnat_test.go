package gsnat

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/gsemu-project/gsemu/internal/protocol"
)

func synRequest() Packet {
	return Packet{
		Checksum:  0xBEEF,
		Signature: 7,
		DataSize:  WindowSize,
		Flags:     FlagSYN,
		Seg:       5,
		Window: Window{
			Tail:              3,
			SenderSignature:   0x1234,
			ChecksumInitValue: 0x0F0F,
			BufferSize:        1024,
		},
	}
}

func TestPacketRoundTrip(t *testing.T) {
	want := synRequest()
	got, err := ParsePacket(want.Bytes())
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
	if n := len(want.Bytes()); n != PacketSize {
		t.Fatalf("encoded %d bytes, want %d", n, PacketSize)
	}
}

func TestParsePacketIgnoresTrailingPadding(t *testing.T) {
	buf := append(synRequest().Bytes(), make([]byte, 100)...)
	if _, err := ParsePacket(buf); err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
}

func TestParsePacketErrors(t *testing.T) {
	full := synRequest().Bytes()
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"nothing", nil, ErrShortPacket},
		{"header cut", full[:HeaderSize-1], ErrShortPacket},
		{"window cut", full[:HeaderSize+3], ErrShortPacket},
		{"zero padding", make([]byte, MaxDatagramSize), ErrEmptyPacket},
		{"zero data size", append([]byte{1, 0, 0, 0, 0, 0}, make([]byte, 14)...), ErrEmptyPacket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePacket(tt.data); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	if !protocol.IsCorrupt(ErrShortPacket) {
		t.Fatalf("short packet not reported as corrupt")
	}
	if protocol.IsCorrupt(ErrEmptyPacket) {
		t.Fatalf("padding reported as corrupt")
	}
}

func TestReply(t *testing.T) {
	resp := Reply(synRequest())

	if resp.Signature != 0x1234 || resp.Seg != 6 || resp.Ack != 5 {
		t.Fatalf("reply %s", resp)
	}
	if resp.Flags != FlagSRPID|FlagSYN|FlagACK || resp.DataSize != WindowSize {
		t.Fatalf("reply flags %s", resp)
	}
	if resp.Window != (Window{Tail: 10, SenderSignature: 2, BufferSize: 536}) {
		t.Fatalf("reply window %+v", resp.Window)
	}

	want, _ := hex.DecodeString("3fac341208004630060005000a00020000001802")
	if got := resp.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("reply bytes %x, want %x", got, want)
	}
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		data []byte
		want uint16
	}{
		{nil, 0xFFFF},
		{[]byte{0x01, 0x00}, 0xFFFE},
		{[]byte{1, 2, 3}, 0xFCFC},
		// Carries fold back into the low word.
		{[]byte{0xFF, 0xFF, 0x02, 0x00}, 0xFFFD},
	}
	for _, tt := range tests {
		if got := Checksum(tt.data); got != tt.want {
			t.Errorf("Checksum(%x) = %#04x, want %#04x", tt.data, got, tt.want)
		}
	}
}

func TestHandleDatagram(t *testing.T) {
	h := NewHandler()

	res, err := h.HandleDatagram(synRequest().Bytes())
	if err != nil {
		t.Fatalf("HandleDatagram: %v", err)
	}
	if res.Reply == nil {
		t.Fatalf("SYN not answered")
	}
	reply, err := ParsePacket(res.Reply)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if reply.Ack != 5 {
		t.Fatalf("reply %s", reply)
	}

	ack := synRequest()
	ack.Flags = FlagACK
	res, err = h.HandleDatagram(ack.Bytes())
	if err != nil || res.Reply != nil {
		t.Fatalf("ACK answered: %v %x", err, res.Reply)
	}

	if _, err := h.HandleDatagram([]byte{1, 2}); !errors.Is(err, ErrShortPacket) {
		t.Fatalf("got %v, want ErrShortPacket", err)
	}
}
