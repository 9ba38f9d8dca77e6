package protocol

import "fmt"

// Header is the fixed 6-byte prefix of every router message.
//
//	byte 0..2  size, 24-bit big-endian, header included
//	byte 3     confidentiality (top 2 bits) | priority (low 6 bits)
//	byte 4     message type
//	byte 5     sender (high nibble) | receiver (low nibble)
type Header struct {
	Size            uint32
	Confidentiality Confidentiality
	Priority        uint8
	Type            MessageType
	Sender          Target
	Receiver        Target
}

// priorityWireMask is the only priority bit the encoder writes. Legacy
// clients produce and expect exactly this, so decode(encode(h)) keeps bit 5
// of Priority and clears the rest.
const priorityWireMask = 0x20

// DecodeHeader parses the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("header needs %d bytes, have %d: %w", HeaderSize, len(buf), ErrIncomplete)
	}

	h := Header{
		Size:            uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2]),
		Confidentiality: Confidentiality(buf[3] >> 6),
		Priority:        buf[3] & 0x3F,
		Type:            MessageType(buf[4]),
		Sender:          Target(buf[5] >> 4),
		Receiver:        Target(buf[5] & 0x0F),
	}

	if h.Size < HeaderSize {
		return h, fmt.Errorf("declared size %d below header size: %w", h.Size, ErrCorruptBuffer)
	}
	if h.Size > MaxMessageSize {
		return h, fmt.Errorf("declared size %d exceeds maximum %d: %w", h.Size, MaxMessageSize, ErrCorruptBuffer)
	}

	return h, nil
}

// Bytes encodes the header.
func (h Header) Bytes() []byte {
	out := make([]byte, HeaderSize)
	out[0] = byte(h.Size >> 16)
	out[1] = byte(h.Size >> 8)
	out[2] = byte(h.Size)
	out[3] = byte(h.Confidentiality)<<6 | h.Priority&priorityWireMask
	out[4] = byte(h.Type)
	out[5] = byte(h.Sender)<<4 | byte(h.Receiver)&0x0F
	return out
}

// Reply returns a copy of h addressed back to the sender.
func (h Header) Reply() Header {
	h.Sender, h.Receiver = h.Receiver, h.Sender
	return h
}

// PayloadLen returns the number of payload bytes the header announces.
func (h Header) PayloadLen() int {
	return int(h.Size) - HeaderSize
}
