// Package gsnat implements the NAT negotiation service. Clients contact it
// with SRP segments over UDP; every SYN is acknowledged with a SYN|ACK
// carrying a fresh window, which is all legacy clients need to conclude
// their NAT is traversable.
package gsnat

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gsemu-project/gsemu/internal/protocol"
)

const (
	// HeaderSize is the fixed SRP header length.
	HeaderSize = 12
	// WindowSize is the length of the window block after the header.
	WindowSize = 8
	// PacketSize is a header plus its window.
	PacketSize = HeaderSize + WindowSize
	// MaxDatagramSize is the largest datagram read from the socket.
	MaxDatagramSize = 1024
)

// SRP header flags.
const (
	FlagFIN uint16 = 1 << iota
	FlagSYN
	FlagACK
	FlagURG

	// FlagSRPID marks segments sent by the service.
	FlagSRPID uint16 = 0x3040
)

// Window values every reply announces.
const (
	replyTail       = 10
	replySignature  = 2
	replyBufferSize = 536
)

var (
	// ErrShortPacket is returned for datagrams that end inside the header
	// or window.
	ErrShortPacket = fmt.Errorf("gsnat: short packet: %w", protocol.ErrCorruptBuffer)
	// ErrEmptyPacket is returned for zero-padded datagrams with no segment.
	ErrEmptyPacket = errors.New("gsnat: empty packet")
)

// Window is the flow control block that follows the SRP header.
type Window struct {
	Tail              uint16
	SenderSignature   uint16
	ChecksumInitValue uint16
	BufferSize        uint16
}

// Packet is one SRP segment. All fields are little-endian on the wire.
type Packet struct {
	Checksum  uint16
	Signature uint16
	DataSize  uint16
	Flags     uint16
	Seg       uint16
	Ack       uint16
	Window    Window
}

// ParsePacket decodes the segment at the front of datagram. A zero
// checksum or data size means the client sent padding only.
func ParsePacket(datagram []byte) (Packet, error) {
	if len(datagram) < HeaderSize {
		return Packet{}, fmt.Errorf("%d bytes: %w", len(datagram), ErrShortPacket)
	}

	le := binary.LittleEndian
	p := Packet{
		Checksum:  le.Uint16(datagram[0:]),
		Signature: le.Uint16(datagram[2:]),
		DataSize:  le.Uint16(datagram[4:]),
		Flags:     le.Uint16(datagram[6:]),
		Seg:       le.Uint16(datagram[8:]),
		Ack:       le.Uint16(datagram[10:]),
	}
	if p.Checksum == 0 || p.DataSize == 0 {
		return p, ErrEmptyPacket
	}

	if len(datagram) < PacketSize {
		return p, fmt.Errorf("window needs %d bytes, have %d: %w", WindowSize, len(datagram)-HeaderSize, ErrShortPacket)
	}
	w := datagram[HeaderSize:]
	p.Window = Window{
		Tail:              le.Uint16(w[0:]),
		SenderSignature:   le.Uint16(w[2:]),
		ChecksumInitValue: le.Uint16(w[4:]),
		BufferSize:        le.Uint16(w[6:]),
	}
	return p, nil
}

// Bytes encodes the packet.
func (p Packet) Bytes() []byte {
	out := make([]byte, 0, PacketSize)
	for _, v := range []uint16{
		p.Checksum, p.Signature, p.DataSize, p.Flags, p.Seg, p.Ack,
		p.Window.Tail, p.Window.SenderSignature, p.Window.ChecksumInitValue, p.Window.BufferSize,
	} {
		out = binary.LittleEndian.AppendUint16(out, v)
	}
	return out
}

// String returns a compact representation for logs.
func (p Packet) String() string {
	return fmt.Sprintf("srp(sum=%#04x sig=%d size=%d flags=%#04x seg=%d ack=%d wnd=%d/%d/%d/%d)",
		p.Checksum, p.Signature, p.DataSize, p.Flags, p.Seg, p.Ack,
		p.Window.Tail, p.Window.SenderSignature, p.Window.ChecksumInitValue, p.Window.BufferSize)
}

// IsSYN reports whether the packet opens a connection.
func (p Packet) IsSYN() bool {
	return p.Flags&FlagSYN != 0
}

// Reply builds the SYN|ACK answering req. The checksum is computed over the
// encoded reply with the checksum field seeded from req's window.
func Reply(req Packet) Packet {
	p := Packet{
		Checksum:  req.Window.ChecksumInitValue,
		Signature: req.Window.SenderSignature,
		DataSize:  WindowSize,
		Flags:     FlagSRPID | FlagSYN | FlagACK,
		Seg:       req.Seg + 1,
		Ack:       req.Seg,
		Window: Window{
			Tail:            replyTail,
			SenderSignature: replySignature,
			BufferSize:      replyBufferSize,
		},
	}
	p.Checksum = Checksum(p.Bytes())
	return p
}

// Checksum is the ones' complement sum of data read as little-endian
// 16-bit words. An odd leading byte is added on its own first.
func Checksum(data []byte) uint16 {
	var sum uint32
	if len(data)%2 == 1 {
		sum += uint32(data[0])
		data = data[1:]
	}
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.LittleEndian.Uint16(data[i:]))
	}

	c := sum&0xFFFF + sum>>16
	c += c >> 16
	return ^uint16(c)
}
