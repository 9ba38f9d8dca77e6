package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Value tags on the wire.
const (
	tagText      byte = 's'
	tagBinary    byte = 'b'
	tagListOpen  byte = '['
	tagListClose byte = ']'
	tagLong      byte = 'L'
)

// Value is one node of the tagged value tree. The concrete types are Text,
// Binary, List and Long.
type Value interface {
	isValue()
}

// Text is a NUL-terminated string value.
type Text string

// Binary is a length-prefixed byte string value.
type Binary []byte

// List is an ordered sequence of values.
type List []Value

// Long is a wide integer. It has a tag but no serialization.
type Long int64

func (Text) isValue()   {}
func (Binary) isValue() {}
func (List) isValue()   {}
func (Long) isValue()   {}

// Encode serializes v, including the brackets of a List.
func Encode(v Value) ([]byte, error) {
	return appendValue(nil, v)
}

// EncodeBare serializes the elements of l without the enclosing brackets.
// This is the form carried in router and CD-key payloads.
func EncodeBare(l List) ([]byte, error) {
	var out []byte
	for i, item := range l {
		var err error
		if out, err = appendValue(out, item); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return out, nil
}

func appendValue(dst []byte, v Value) ([]byte, error) {
	switch v := v.(type) {
	case Text:
		dst = append(dst, tagText)
		dst = append(dst, v...)
		return append(dst, 0), nil
	case Binary:
		dst = append(dst, tagBinary)
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v)))
		return append(dst, v...), nil
	case List:
		dst = append(dst, tagListOpen)
		for _, item := range v {
			var err error
			if dst, err = appendValue(dst, item); err != nil {
				return nil, err
			}
		}
		return append(dst, tagListClose), nil
	case Long:
		return nil, fmt.Errorf("long value %d: %w", int64(v), ErrUnsupportedType)
	default:
		return nil, fmt.Errorf("value of type %T: %w", v, ErrUnsupportedType)
	}
}

// DecodeList decodes a top-level list. With bracketed set the buffer must
// start with '[' and the matching ']' ends the list; otherwise the buffer is
// the bare element sequence. Trailing NUL bytes are accepted in both forms
// since block-cipher padding leaves them behind.
func DecodeList(buf []byte, bracketed bool) (List, error) {
	d := decoder{buf: buf}

	if bracketed {
		if len(buf) == 0 || buf[0] != tagListOpen {
			return nil, fmt.Errorf("missing list opener: %w", ErrCorruptBuffer)
		}
		d.pos++
		list, err := d.list()
		if err != nil {
			return nil, err
		}
		if !d.onlyPadding() {
			return nil, fmt.Errorf("%d trailing bytes after list: %w", len(buf)-d.pos, ErrCorruptBuffer)
		}
		return list, nil
	}

	list := List{}
	for d.pos < len(buf) {
		if buf[d.pos] == 0 && d.onlyPadding() {
			break
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) value() (Value, error) {
	if d.pos >= len(d.buf) {
		return nil, fmt.Errorf("missing tag at offset %d: %w", d.pos, ErrCorruptBuffer)
	}

	tag := d.buf[d.pos]
	d.pos++

	switch tag {
	case tagText:
		end := bytes.IndexByte(d.buf[d.pos:], 0)
		if end < 0 {
			return nil, fmt.Errorf("unterminated text at offset %d: %w", d.pos-1, ErrCorruptBuffer)
		}
		s := Text(d.buf[d.pos : d.pos+end])
		d.pos += end + 1
		return s, nil

	case tagBinary:
		if len(d.buf)-d.pos < 4 {
			return nil, fmt.Errorf("truncated binary length at offset %d: %w", d.pos-1, ErrCorruptBuffer)
		}
		n := binary.BigEndian.Uint32(d.buf[d.pos:])
		d.pos += 4
		if uint64(n) > uint64(len(d.buf)-d.pos) {
			return nil, fmt.Errorf("binary length %d exceeds %d remaining bytes: %w", n, len(d.buf)-d.pos, ErrCorruptBuffer)
		}
		b := make(Binary, n)
		copy(b, d.buf[d.pos:])
		d.pos += int(n)
		return b, nil

	case tagListOpen:
		return d.list()

	case tagLong:
		return nil, fmt.Errorf("long value at offset %d: %w", d.pos-1, ErrUnsupportedType)

	default:
		return nil, fmt.Errorf("unknown tag 0x%02X at offset %d: %w", tag, d.pos-1, ErrCorruptBuffer)
	}
}

// list reads elements up to and including the closing bracket. The opening
// bracket has already been consumed.
func (d *decoder) list() (List, error) {
	list := List{}
	for {
		if d.pos >= len(d.buf) {
			return nil, fmt.Errorf("unterminated list: %w", ErrCorruptBuffer)
		}
		if d.buf[d.pos] == tagListClose {
			d.pos++
			return list, nil
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
}

func (d *decoder) onlyPadding() bool {
	for _, b := range d.buf[d.pos:] {
		if b != 0 {
			return false
		}
	}
	return true
}

// Text returns element i as a string.
func (l List) Text(i int) (string, error) {
	if i < 0 || i >= len(l) {
		return "", fmt.Errorf("element %d of %d: %w", i, len(l), ErrProtocolViolation)
	}
	t, ok := l[i].(Text)
	if !ok {
		return "", fmt.Errorf("element %d is %s, want text: %w", i, kindOf(l[i]), ErrProtocolViolation)
	}
	return string(t), nil
}

// Binary returns element i as raw bytes.
func (l List) Binary(i int) ([]byte, error) {
	if i < 0 || i >= len(l) {
		return nil, fmt.Errorf("element %d of %d: %w", i, len(l), ErrProtocolViolation)
	}
	b, ok := l[i].(Binary)
	if !ok {
		return nil, fmt.Errorf("element %d is %s, want binary: %w", i, kindOf(l[i]), ErrProtocolViolation)
	}
	return []byte(b), nil
}

// List returns element i as a nested list.
func (l List) List(i int) (List, error) {
	if i < 0 || i >= len(l) {
		return nil, fmt.Errorf("element %d of %d: %w", i, len(l), ErrProtocolViolation)
	}
	sub, ok := l[i].(List)
	if !ok {
		return nil, fmt.Errorf("element %d is %s, want list: %w", i, kindOf(l[i]), ErrProtocolViolation)
	}
	return sub, nil
}

// FirstBinary returns the first Binary element of l.
func (l List) FirstBinary() ([]byte, bool) {
	for _, v := range l {
		if b, ok := v.(Binary); ok {
			return []byte(b), true
		}
	}
	return nil, false
}

// String renders the list for logs.
func (l List) String() string {
	var sb strings.Builder
	writeValue(&sb, l)
	return sb.String()
}

func writeValue(sb *strings.Builder, v Value) {
	switch v := v.(type) {
	case Text:
		sb.WriteString(strconv.Quote(string(v)))
	case Binary:
		fmt.Fprintf(sb, "b'%x'", []byte(v))
	case List:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, item)
		}
		sb.WriteByte(']')
	case Long:
		fmt.Fprintf(sb, "%dL", int64(v))
	}
}

// Equal reports whether two value trees are identical.
func Equal(a, b Value) bool {
	switch a := a.(type) {
	case Text:
		bt, ok := b.(Text)
		return ok && a == bt
	case Binary:
		bb, ok := b.(Binary)
		return ok && bytes.Equal(a, bb)
	case List:
		bl, ok := b.(List)
		if !ok || len(a) != len(bl) {
			return false
		}
		for i := range a {
			if !Equal(a[i], bl[i]) {
				return false
			}
		}
		return true
	case Long:
		bl, ok := b.(Long)
		return ok && a == bl
	default:
		return false
	}
}

func kindOf(v Value) string {
	switch v.(type) {
	case Text:
		return "text"
	case Binary:
		return "binary"
	case List:
		return "list"
	case Long:
		return "long"
	default:
		return "unknown"
	}
}
