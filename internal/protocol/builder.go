package protocol

import (
	"encoding/binary"
	"strconv"
)

// ListBuilder constructs value-tree payloads for responses.
type ListBuilder struct {
	items List
}

// NewListBuilder creates an empty ListBuilder.
func NewListBuilder() *ListBuilder {
	return &ListBuilder{items: List{}}
}

// Text appends a text element.
func (b *ListBuilder) Text(s string) *ListBuilder {
	b.items = append(b.items, Text(s))
	return b
}

// Int appends an integer as a decimal text element, the way numbers travel
// in this protocol.
func (b *ListBuilder) Int(n int) *ListBuilder {
	return b.Text(strconv.Itoa(n))
}

// Binary appends a copy of data as a binary element.
func (b *ListBuilder) Binary(data []byte) *ListBuilder {
	cp := make(Binary, len(data))
	copy(cp, data)
	b.items = append(b.items, cp)
	return b
}

// WrappedBinary appends a binary element whose content is the encoded
// binary value of data. CD-key result blobs nest this way.
func (b *ListBuilder) WrappedBinary(data []byte) *ListBuilder {
	enc, _ := appendValue(nil, Binary(data))
	b.items = append(b.items, Binary(enc))
	return b
}

// Byte appends a one-byte binary element.
func (b *ListBuilder) Byte(v byte) *ListBuilder {
	b.items = append(b.items, Binary{v})
	return b
}

// Uint32LE appends v as a 4-byte little-endian binary element.
func (b *ListBuilder) Uint32LE(v uint32) *ListBuilder {
	b.items = append(b.items, Binary(binary.LittleEndian.AppendUint32(nil, v)))
	return b
}

// List appends a nested list.
func (b *ListBuilder) List(l List) *ListBuilder {
	b.items = append(b.items, l)
	return b
}

// Build returns the constructed list.
func (b *ListBuilder) Build() List {
	out := make(List, len(b.items))
	copy(out, b.items)
	return out
}
