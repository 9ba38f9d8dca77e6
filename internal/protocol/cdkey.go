package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// CDKeyRequest is one decoded CD-key datagram.
type CDKeyRequest struct {
	Category    byte
	MessageID   string
	RequestType CDKeyRequestType
	Unknown     string
	Data        List
}

// ParseCDKeyRequest decodes a datagram: category byte, 4-byte big-endian
// payload length, then the payload encrypted with the static key. The
// still-alive request carries only [messageId, requestType].
func ParseCDKeyRequest(datagram []byte, cipher PayloadCipher) (CDKeyRequest, error) {
	if len(datagram) < CDKeyHeaderSize {
		return CDKeyRequest{}, fmt.Errorf("datagram of %d bytes shorter than header: %w", len(datagram), ErrCorruptBuffer)
	}

	size := binary.BigEndian.Uint32(datagram[1:CDKeyHeaderSize])
	if size > CDKeyMaxPayload {
		return CDKeyRequest{}, fmt.Errorf("declared payload %d exceeds %d: %w", size, CDKeyMaxPayload, ErrCorruptBuffer)
	}
	if int(size) > len(datagram)-CDKeyHeaderSize {
		return CDKeyRequest{}, fmt.Errorf("declared payload %d, datagram carries %d: %w", size, len(datagram)-CDKeyHeaderSize, ErrCorruptBuffer)
	}

	plain, err := cipher.Decrypt(datagram[CDKeyHeaderSize : CDKeyHeaderSize+int(size)])
	if err != nil {
		return CDKeyRequest{}, fmt.Errorf("%w: %w", ErrCorruptBuffer, err)
	}

	fields, err := DecodeList(plain, false)
	if err != nil {
		return CDKeyRequest{}, fmt.Errorf("cdkey payload: %w", err)
	}

	req := CDKeyRequest{Category: datagram[0]}

	if req.MessageID, err = fields.Text(0); err != nil {
		return req, fmt.Errorf("message id: %w", err)
	}

	rt, err := fields.Text(1)
	if err != nil {
		return req, fmt.Errorf("request type: %w", err)
	}
	n, err := strconv.Atoi(rt)
	if err != nil {
		return req, fmt.Errorf("request type %q: %w", rt, ErrProtocolViolation)
	}
	req.RequestType = CDKeyRequestType(n)

	if req.RequestType == CDKeyStillAlive {
		req.Data = List{}
		return req, nil
	}

	if req.Unknown, err = fields.Text(2); err != nil {
		return req, fmt.Errorf("unknown field: %w", err)
	}
	if req.Data, err = fields.List(3); err != nil {
		return req, fmt.Errorf("inner data: %w", err)
	}

	return req, nil
}

// CDKeyResponse echoes the identifying fields of a request with a new inner
// list of [resultCode, result].
type CDKeyResponse struct {
	Category    byte
	MessageID   string
	RequestType CDKeyRequestType
	Unknown     string
	Data        List
}

// NewCDKeyResponse starts a response to req with an empty inner list.
func NewCDKeyResponse(req CDKeyRequest) CDKeyResponse {
	unknown := req.Unknown
	if unknown == "" {
		unknown = "0"
	}
	return CDKeyResponse{
		Category:    req.Category,
		MessageID:   req.MessageID,
		RequestType: req.RequestType,
		Unknown:     unknown,
		Data:        List{},
	}
}

// Fields returns the bare payload list of the response.
func (r CDKeyResponse) Fields() List {
	return List{
		Text(r.MessageID),
		Text(strconv.Itoa(int(r.RequestType))),
		Text(r.Unknown),
		r.Data,
	}
}

// Serialize encodes the payload without outer brackets, encrypts it with
// the static key and prepends the category byte and payload length.
func (r CDKeyResponse) Serialize(cipher PayloadCipher) ([]byte, error) {
	body, err := EncodeBare(r.Fields())
	if err != nil {
		return nil, fmt.Errorf("encode cdkey %s response: %w", r.RequestType, err)
	}

	enc := cipher.Encrypt(body)

	out := make([]byte, 0, CDKeyHeaderSize+len(enc))
	out = append(out, r.Category)
	out = binary.BigEndian.AppendUint32(out, uint32(len(enc)))
	return append(out, enc...), nil
}

// Fields returns the bare payload list of the request, the inverse of
// ParseCDKeyRequest's decoding step.
func (r CDKeyRequest) Fields() List {
	if r.RequestType == CDKeyStillAlive {
		return List{Text(r.MessageID), Text(strconv.Itoa(int(r.RequestType)))}
	}
	data := r.Data
	if data == nil {
		data = List{}
	}
	return List{
		Text(r.MessageID),
		Text(strconv.Itoa(int(r.RequestType))),
		Text(r.Unknown),
		data,
	}
}

// Serialize frames the request the way a client does. Used by tooling and
// tests.
func (r CDKeyRequest) Serialize(cipher PayloadCipher) ([]byte, error) {
	body, err := EncodeBare(r.Fields())
	if err != nil {
		return nil, fmt.Errorf("encode cdkey %s request: %w", r.RequestType, err)
	}

	enc := cipher.Encrypt(body)

	out := make([]byte, 0, CDKeyHeaderSize+len(enc))
	out = append(out, r.Category)
	out = binary.BigEndian.AppendUint32(out, uint32(len(enc)))
	return append(out, enc...), nil
}
