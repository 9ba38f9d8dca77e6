package gscrypt

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/blowfish"
)

// SessionKeySize is the length of the Blowfish keys exchanged during the
// router handshake.
const SessionKeySize = 16

// MaxKeySize is the longest key Blowfish accepts.
const MaxKeySize = 56

// ErrBlockSize is returned when ciphertext is not a whole number of blocks.
var ErrBlockSize = errors.New("gscrypt: ciphertext is not a multiple of the block size")

// SessionCipher encrypts whole buffers with Blowfish in ECB mode, zero
// padding the plaintext to the block size.
type SessionCipher struct {
	block *blowfish.Cipher
	key   []byte
}

// NewSessionCipher creates a cipher for key. Keys longer than MaxKeySize are
// truncated.
func NewSessionCipher(key []byte) (*SessionCipher, error) {
	if len(key) > MaxKeySize {
		key = key[:MaxKeySize]
	}
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("blowfish key of %d bytes: %w", len(key), err)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &SessionCipher{block: block, key: k}, nil
}

// Encrypt pads plain with zeros to a multiple of the block size and
// encrypts it block by block.
func (c *SessionCipher) Encrypt(plain []byte) []byte {
	n := len(plain)
	if rem := n % blowfish.BlockSize; rem != 0 {
		n += blowfish.BlockSize - rem
	}

	out := make([]byte, n)
	copy(out, plain)
	for i := 0; i < n; i += blowfish.BlockSize {
		c.block.Encrypt(out[i:i+blowfish.BlockSize], out[i:i+blowfish.BlockSize])
	}
	return out
}

// Decrypt decrypts ciphertext block by block. Padding is left in place; the
// value decoder ignores trailing zeros.
func (c *SessionCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%blowfish.BlockSize != 0 {
		return nil, fmt.Errorf("%d bytes: %w", len(ciphertext), ErrBlockSize)
	}

	out := make([]byte, len(ciphertext))
	for i := 0; i < len(out); i += blowfish.BlockSize {
		c.block.Decrypt(out[i:i+blowfish.BlockSize], ciphertext[i:i+blowfish.BlockSize])
	}
	return out, nil
}

// Key returns a copy of the key the cipher was built from.
func (c *SessionCipher) Key() []byte {
	k := make([]byte, len(c.key))
	copy(k, c.key)
	return k
}

// Wipe zeroes the retained key copy.
func (c *SessionCipher) Wipe() {
	for i := range c.key {
		c.key[i] = 0
	}
}

// GenerateKey returns n random bytes from crypto/rand.
func GenerateKey(n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate %d-byte key: %w", n, err)
	}
	return key, nil
}
