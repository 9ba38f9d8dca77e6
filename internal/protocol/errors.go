package protocol

import "errors"

// Error kinds surfaced by the codecs and the session handlers. Callers pick a
// policy per kind with errors.Is; none of them is fatal to a connection.
var (
	// ErrCorruptBuffer reports a malformed tag, a truncated field or a length
	// that runs past the end of the buffer.
	ErrCorruptBuffer = errors.New("protocol: corrupt buffer")

	// ErrUnsupportedType reports a value tag that is defined but has no
	// serialization (Long).
	ErrUnsupportedType = errors.New("protocol: unsupported value type")

	// ErrIncomplete means the buffer holds only part of a message.
	ErrIncomplete = errors.New("protocol: incomplete message")

	// ErrProtocolViolation reports a message that is well formed but not
	// acceptable in the current session state.
	ErrProtocolViolation = errors.New("protocol: violation")

	// ErrNotSupported reports a request the server deliberately does not
	// implement.
	ErrNotSupported = errors.New("protocol: not supported")

	// ErrUnknownMessageType reports a message or request type with no handler.
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
)

// IsCorrupt reports whether err should be handled as a corrupt buffer.
// Unsupported value types fall in the same bucket.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptBuffer) || errors.Is(err, ErrUnsupportedType)
}

// ErrorKind returns a short stable name for the kind of err, used as a log
// field and in protocol_error events.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIncomplete):
		return "incomplete"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrCorruptBuffer):
		return "corrupt_buffer"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, ErrNotSupported):
		return "not_supported"
	case errors.Is(err, ErrUnknownMessageType):
		return "unknown_message_type"
	default:
		return "internal"
	}
}
