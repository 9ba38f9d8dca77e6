package protocol

import (
	"errors"
	"fmt"

	"github.com/gsemu-project/gsemu/internal/gscrypt"
)

// PayloadCipher is a symmetric transform over whole payloads. The session
// ciphers in gscrypt satisfy it.
type PayloadCipher interface {
	Encrypt(plain []byte) []byte
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Message is a router message: header plus optional payload.
type Message struct {
	Header  Header
	Payload List
}

// ParseMessage parses one message from the front of buf. inbound decrypts
// SessionEncrypted payloads and may be nil before the handshake completes.
//
// ErrIncomplete means buf holds only part of the message. On any other error
// with a usable header, the returned message still carries that header so the
// caller can skip Header.Size bytes and continue.
func ParseMessage(buf []byte, inbound PayloadCipher) (Message, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Message{}, err
	}
	if len(buf) < int(h.Size) {
		return Message{}, fmt.Errorf("message needs %d bytes, have %d: %w", h.Size, len(buf), ErrIncomplete)
	}

	msg := Message{Header: h}
	if h.Size == HeaderSize {
		return msg, nil
	}

	body := buf[HeaderSize:h.Size]

	var plain []byte
	switch h.Confidentiality {
	case Raw:
		plain = body
	case Obfuscated:
		plain = gscrypt.Decrypt(body)
	case SessionEncrypted:
		if inbound == nil {
			return msg, fmt.Errorf("session-encrypted %s before key exchange: %w", h.Type, ErrProtocolViolation)
		}
		plain, err = inbound.Decrypt(body)
		if err != nil {
			return msg, fmt.Errorf("%w: %w", ErrCorruptBuffer, err)
		}
	default:
		return msg, fmt.Errorf("reserved confidentiality code %d: %w", h.Confidentiality, ErrCorruptBuffer)
	}

	payload, err := DecodeList(plain, false)
	if err != nil {
		return msg, fmt.Errorf("%s payload: %w", h.Type, err)
	}
	msg.Payload = payload

	return msg, nil
}

// ParseBundle parses the messages that follow first in the same read. It
// stops at the first incomplete message and returns the unconsumed bytes so
// the caller can retain them for the next read; that is not an error.
func ParseBundle(first Message, rest []byte, inbound PayloadCipher) ([]Message, []byte, error) {
	msgs := []Message{first}

	for len(rest) > 0 {
		msg, err := ParseMessage(rest, inbound)
		if err != nil {
			if errors.Is(err, ErrIncomplete) {
				return msgs, rest, nil
			}
			return msgs, rest, err
		}
		msgs = append(msgs, msg)
		rest = rest[msg.Header.Size:]
	}

	return msgs, nil, nil
}

// Serialize encodes the message, applies its confidentiality transform and
// recomputes Header.Size. outbound is required only for SessionEncrypted.
func (m Message) Serialize(outbound PayloadCipher) ([]byte, error) {
	h := m.Header

	if m.Payload == nil {
		h.Size = HeaderSize
		return h.Bytes(), nil
	}

	body, err := EncodeBare(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", h.Type, err)
	}

	switch h.Confidentiality {
	case Raw:
	case Obfuscated:
		body = gscrypt.Encrypt(body)
	case SessionEncrypted:
		if outbound == nil {
			return nil, fmt.Errorf("session-encrypted %s without outbound key: %w", h.Type, ErrNotSupported)
		}
		body = outbound.Encrypt(body)
	default:
		return nil, fmt.Errorf("reserved confidentiality code %d: %w", h.Confidentiality, ErrNotSupported)
	}

	size := HeaderSize + len(body)
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%s message of %d bytes exceeds maximum %d: %w", h.Type, size, MaxMessageSize, ErrCorruptBuffer)
	}
	h.Size = uint32(size)

	out := make([]byte, 0, size)
	out = append(out, h.Bytes()...)
	return append(out, body...), nil
}

// String renders the message for debug logs.
func (m Message) String() string {
	payload := "none"
	if m.Payload != nil {
		payload = m.Payload.String()
	}
	return fmt.Sprintf("%s{size=%d conf=%s prio=%d %d->%d payload=%s}",
		m.Header.Type, m.Header.Size, m.Header.Confidentiality, m.Header.Priority,
		m.Header.Sender, m.Header.Receiver, payload)
}
