package gscrypt

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

// sentinelEncrypt is the legacy formulation of the transform, which marks
// empty grid cells with 0xFF and skips them on gather.
func sentinelEncrypt(input []byte) []byte {
	size := len(input)
	result := make([]byte, size)
	for i := range input {
		result[i] = input[i] ^ byte(i-maskOffset)
	}
	side := gridSide(size)
	buf := bytes.Repeat([]byte{0xFF}, 2*side*side)
	a, b := 0, 0
	for i := 0; i < size; i++ {
		if a < side {
			if b < 0 {
				b = a
				a = 0
			}
		} else {
			a = b + 2
			b = side - 1
		}
		buf[a+side*b] = result[i]
		a++
		b--
	}
	idx := 0
	for j := 0; j < side; j++ {
		for k := 0; k < side; k++ {
			if v := buf[k+side*j]; v != 0xFF {
				result[idx] = v
				idx++
			}
		}
	}
	return result
}

func randomBytes(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestGSTransformRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for n := 0; n <= 320; n++ {
		in := randomBytes(r, n)
		enc := Encrypt(in)
		if len(enc) != n {
			t.Fatalf("len %d: encrypted length %d", n, len(enc))
		}
		if got := Decrypt(enc); !bytes.Equal(got, in) {
			t.Fatalf("len %d: round trip mismatch\n in: %x\nout: %x", n, in, got)
		}
	}
}

func TestGSTransformKeepsMaskedFF(t *testing.T) {
	// Every byte masks to 0xFF, which the sentinel formulation would drop.
	for _, n := range []int{1, 2, 5, 16, 17, 100} {
		in := make([]byte, n)
		for i := range in {
			in[i] = 0xFF ^ byte(i-maskOffset)
		}
		if got := Decrypt(Encrypt(in)); !bytes.Equal(got, in) {
			t.Fatalf("len %d: round trip mismatch", n)
		}
	}
}

func TestGSTransformMatchesLegacyLayout(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for n := 1; n <= 200; n++ {
		in := randomBytes(r, n)
		for i := range in {
			if in[i]^byte(i-maskOffset) == 0xFF {
				in[i] ^= 0x01
			}
		}
		if got, want := Encrypt(in), sentinelEncrypt(in); !bytes.Equal(got, want) {
			t.Fatalf("len %d: got %x want %x", n, got, want)
		}
	}
}

func TestGSTransformDeterministic(t *testing.T) {
	in := []byte("sLOGIN\x00b\x00\x00\x00\x03abc")
	a := Encrypt(in)
	b := Encrypt(in)
	if !bytes.Equal(a, b) {
		t.Fatalf("encrypt not deterministic: %x vs %x", a, b)
	}
	if bytes.Equal(a, in) {
		t.Fatalf("encrypt returned its input unchanged")
	}
}

func TestGSTransformSingleByte(t *testing.T) {
	// One byte: no transposition, mask is (0-119) mod 256 = 0x89.
	if got := Encrypt([]byte{0x00}); !bytes.Equal(got, []byte{0x89}) {
		t.Fatalf("got %x, want 89", got)
	}
}

func TestGridSide(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 2: 2, 4: 2, 5: 3, 9: 3, 10: 4, 289: 17, 290: 18}
	for n, want := range cases {
		if got := gridSide(n); got != want {
			t.Errorf("gridSide(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestSessionCipherRoundTrip(t *testing.T) {
	key, err := GenerateKey(SessionKeySize)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if len(key) != SessionKeySize {
		t.Fatalf("key length %d", len(key))
	}

	c, err := NewSessionCipher(key)
	if err != nil {
		t.Fatalf("NewSessionCipher: %v", err)
	}

	for _, n := range []int{0, 1, 7, 8, 9, 63, 64, 100} {
		plain := bytes.Repeat([]byte{0xA5}, n)
		enc := c.Encrypt(plain)
		if len(enc)%8 != 0 || len(enc) < n {
			t.Fatalf("len %d: ciphertext length %d", n, len(enc))
		}
		dec, err := c.Decrypt(enc)
		if err != nil {
			t.Fatalf("len %d: Decrypt: %v", n, err)
		}
		if !bytes.Equal(dec[:n], plain) {
			t.Fatalf("len %d: plaintext mismatch", n)
		}
		for _, b := range dec[n:] {
			if b != 0 {
				t.Fatalf("len %d: non-zero padding %x", n, dec[n:])
			}
		}
	}
}

func TestSessionCipherRejectsPartialBlock(t *testing.T) {
	c, err := NewSessionCipher([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewSessionCipher: %v", err)
	}
	if _, err := c.Decrypt(make([]byte, 12)); !errors.Is(err, ErrBlockSize) {
		t.Fatalf("got %v, want ErrBlockSize", err)
	}
}

func TestSessionCipherTruncatesLongKey(t *testing.T) {
	long := []byte("SKJDHF$0maoijfn4i8$aJdnv1jaldifar93-AS_dfo;hjhC4jhflasnF3fnd")
	a, err := NewSessionCipher(long)
	if err != nil {
		t.Fatalf("NewSessionCipher(long): %v", err)
	}
	b, err := NewSessionCipher(long[:MaxKeySize])
	if err != nil {
		t.Fatalf("NewSessionCipher(56): %v", err)
	}
	plain := []byte("challenge")
	if !bytes.Equal(a.Encrypt(plain), b.Encrypt(plain)) {
		t.Fatalf("truncated key produced different ciphertext")
	}
}

func TestSessionCipherWipe(t *testing.T) {
	c, err := NewSessionCipher([]byte("secretkey"))
	if err != nil {
		t.Fatalf("NewSessionCipher: %v", err)
	}
	c.Wipe()
	if !bytes.Equal(c.Key(), make([]byte, 9)) {
		t.Fatalf("key not wiped: %x", c.Key())
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	if _, err := NewSessionCipher(nil); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestPublicKeyCodec(t *testing.T) {
	priv, err := GenerateKeyPair(DefaultKeyBits, DefaultKeyExponent)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if priv.E != DefaultKeyExponent {
		t.Fatalf("exponent %d", priv.E)
	}
	if priv.N.BitLen() != DefaultKeyBits {
		t.Fatalf("modulus bits %d", priv.N.BitLen())
	}

	wire := EncodePublicKey(&priv.PublicKey)
	if len(wire) != PublicKeyWireSize {
		t.Fatalf("wire size %d", len(wire))
	}
	if wire[0] != 0x00 || wire[1] != 0x02 || wire[2] != 0 || wire[3] != 0 {
		t.Fatalf("bit length prefix %x, want 00020000", wire[:4])
	}

	pub, err := DecodePublicKey(wire)
	if err != nil {
		t.Fatalf("DecodePublicKey: %v", err)
	}
	if pub.N.Cmp(priv.N) != 0 || pub.E != priv.E {
		t.Fatalf("decoded key differs")
	}
	if again := EncodePublicKey(pub); !bytes.Equal(again, wire) {
		t.Fatalf("re-encoded key differs")
	}
}

func TestDecodePublicKeyErrors(t *testing.T) {
	if _, err := DecodePublicKey(make([]byte, 10)); !errors.Is(err, ErrPublicKey) {
		t.Fatalf("short: got %v", err)
	}
	if _, err := DecodePublicKey(make([]byte, PublicKeyWireSize)); !errors.Is(err, ErrPublicKey) {
		t.Fatalf("zero modulus: got %v", err)
	}
}

func TestRSAEncryptDecrypt(t *testing.T) {
	priv, err := GenerateKeyPair(DefaultKeyBits, DefaultKeyExponent)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	key, err := GenerateKey(SessionKeySize)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	enc, err := EncryptPKCS1(key, &priv.PublicKey)
	if err != nil {
		t.Fatalf("EncryptPKCS1: %v", err)
	}
	if len(enc) != DefaultKeyBits/8 {
		t.Fatalf("ciphertext length %d", len(enc))
	}

	dec, err := DecryptPKCS1(enc, priv)
	if err != nil {
		t.Fatalf("DecryptPKCS1: %v", err)
	}
	if !bytes.Equal(dec, key) {
		t.Fatalf("decrypted key mismatch")
	}
}

func TestGenerateKeyPairRejectsBadParams(t *testing.T) {
	if _, err := GenerateKeyPair(511, 3); err == nil {
		t.Errorf("odd bit size accepted")
	}
	if _, err := GenerateKeyPair(512, 4); err == nil {
		t.Errorf("even exponent accepted")
	}
}
