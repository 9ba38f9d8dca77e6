package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeValues(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want []byte
	}{
		{"text", Text("1"), []byte{'s', '1', 0}},
		{"empty text", Text(""), []byte{'s', 0}},
		{"binary", Binary{0xAA, 0xBB}, []byte{'b', 0, 0, 0, 2, 0xAA, 0xBB}},
		{"empty list", List{}, []byte{'[', ']'}},
		{"nested", List{Text("a"), List{Binary{1}}}, []byte{'[', 's', 'a', 0, '[', 'b', 0, 0, 0, 1, 1, ']', ']'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeBareOmitsBrackets(t *testing.T) {
	got, err := EncodeBare(List{Text("1"), List{Text("x")}})
	if err != nil {
		t.Fatalf("EncodeBare: %v", err)
	}
	want := []byte{'s', '1', 0, '[', 's', 'x', 0, ']'}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	tree := List{
		Text("PLAYERINFO"),
		Binary(bytes.Repeat([]byte{0x5A}, 300)),
		List{},
		List{Text(""), List{Binary{}, Text("deep")}},
	}

	bare, err := EncodeBare(tree)
	if err != nil {
		t.Fatalf("EncodeBare: %v", err)
	}
	got, err := DecodeList(bare, false)
	if err != nil {
		t.Fatalf("DecodeList bare: %v", err)
	}
	if !Equal(got, tree) {
		t.Fatalf("bare round trip: got %s, want %s", got, tree)
	}

	wrapped, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err = DecodeList(wrapped, true)
	if err != nil {
		t.Fatalf("DecodeList bracketed: %v", err)
	}
	if !Equal(got, tree) {
		t.Fatalf("bracketed round trip: got %s, want %s", got, tree)
	}
}

func TestDecodeAcceptsZeroPadding(t *testing.T) {
	buf := append([]byte{'s', 'o', 'k', 0}, make([]byte, 5)...)
	got, err := DecodeList(buf, false)
	if err != nil {
		t.Fatalf("DecodeList: %v", err)
	}
	if !Equal(got, List{Text("ok")}) {
		t.Fatalf("got %s", got)
	}

	buf = append([]byte{'[', ']'}, 0, 0, 0)
	if _, err := DecodeList(buf, true); err != nil {
		t.Fatalf("bracketed with padding: %v", err)
	}
}

func TestDecodeEmptyBare(t *testing.T) {
	got, err := DecodeList(nil, false)
	if err != nil {
		t.Fatalf("DecodeList: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %s, want empty list", got)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	tests := []struct {
		name      string
		buf       []byte
		bracketed bool
		want      error
	}{
		{"unknown tag", []byte{'x'}, false, ErrCorruptBuffer},
		{"unterminated text", []byte{'s', 'a', 'b'}, false, ErrCorruptBuffer},
		{"short binary length", []byte{'b', 0, 0}, false, ErrCorruptBuffer},
		{"binary overrun", []byte{'b', 0, 0, 0, 9, 1, 2}, false, ErrCorruptBuffer},
		{"unterminated list", []byte{'[', 's', 'a', 0}, false, ErrCorruptBuffer},
		{"missing opener", []byte{'s', 'a', 0}, true, ErrCorruptBuffer},
		{"trailing garbage", []byte{'[', ']', 's'}, true, ErrCorruptBuffer},
		{"long", []byte{'L', 0, 0, 0, 0}, false, ErrUnsupportedType},
		{"nested long", []byte{'[', 'L', ']'}, false, ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeList(tt.buf, tt.bracketed)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncodeLongUnsupported(t *testing.T) {
	if _, err := Encode(Long(5)); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("got %v, want ErrUnsupportedType", err)
	}
	if _, err := EncodeBare(List{Text("a"), List{Long(1)}}); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("nested: got %v, want ErrUnsupportedType", err)
	}
}

func TestListAccessors(t *testing.T) {
	l := List{Text("1"), Binary{7}, List{Text("x")}}

	if s, err := l.Text(0); err != nil || s != "1" {
		t.Errorf("Text(0) = %q, %v", s, err)
	}
	if b, err := l.Binary(1); err != nil || !bytes.Equal(b, []byte{7}) {
		t.Errorf("Binary(1) = %x, %v", b, err)
	}
	if sub, err := l.List(2); err != nil || len(sub) != 1 {
		t.Errorf("List(2) = %s, %v", sub, err)
	}

	if _, err := l.Text(1); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("Text(1) on binary: %v", err)
	}
	if _, err := l.List(5); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("List(5) out of range: %v", err)
	}

	if b, ok := (List{Text("a"), Binary{9}, Binary{8}}).FirstBinary(); !ok || b[0] != 9 {
		t.Errorf("FirstBinary = %x, %v", b, ok)
	}
	if _, ok := (List{Text("a")}).FirstBinary(); ok {
		t.Errorf("FirstBinary found a binary in a text-only list")
	}
}

func TestListBuilder(t *testing.T) {
	b := NewListBuilder()
	got := b.Byte(93).
		List(NewListBuilder().Text("127.0.0.1").Uint32LE(40001).Build()).
		Build()

	want := List{Binary{93}, List{Text("127.0.0.1"), Binary{0x41, 0x9C, 0, 0}}}
	if !Equal(got, want) {
		t.Fatalf("got %s, want %s", got, want)
	}

	// Build returns a copy, so appending afterwards leaves got alone.
	b.Int(38)
	if len(got) != 2 {
		t.Fatalf("built list grew to %d", len(got))
	}
	if !Equal(b.Build(), List{Binary{93}, List{Text("127.0.0.1"), Binary{0x41, 0x9C, 0, 0}}, Text("38")}) {
		t.Fatalf("got %s", b.Build())
	}
}

func TestListBuilderWrappedBinary(t *testing.T) {
	got := NewListBuilder().WrappedBinary([]byte{0xAA, 0xBB}).Build()
	want := List{Binary{'b', 0, 0, 0, 2, 0xAA, 0xBB}}
	if !Equal(got, want) {
		t.Fatalf("got %s, want %s", got, want)
	}

	inner, err := DecodeList(got[0].(Binary), false)
	if err != nil {
		t.Fatalf("decode inner: %v", err)
	}
	if !Equal(inner, List{Binary{0xAA, 0xBB}}) {
		t.Fatalf("inner %s", inner)
	}
}

func TestListBuilderCopiesBinary(t *testing.T) {
	data := []byte{1, 2, 3}
	l := NewListBuilder().Binary(data).Build()
	data[0] = 0xFF
	if b, _ := l.Binary(0); b[0] != 1 {
		t.Fatalf("builder aliased caller slice")
	}
}
