package gscrypt

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

const (
	// ModulusWidth is the fixed byte width of the modulus and exponent in
	// the public-key wire form.
	ModulusWidth = 128
	// PublicKeyWireSize is the encoded size of a public key.
	PublicKeyWireSize = 4 + 2*ModulusWidth
	// DefaultKeyBits is the key size legacy clients expect.
	DefaultKeyBits = 512
	// DefaultKeyExponent is the public exponent legacy clients use.
	DefaultKeyExponent = 3
)

// ErrPublicKey is returned for a public-key blob that cannot be decoded.
var ErrPublicKey = errors.New("gscrypt: malformed public key")

// EncodePublicKey serializes pub as a 4-byte little-endian bit length
// followed by the modulus and exponent, each big-endian and left-padded to
// ModulusWidth bytes. Larger values keep their low-order bytes.
func EncodePublicKey(pub *rsa.PublicKey) []byte {
	out := make([]byte, PublicKeyWireSize)
	binary.LittleEndian.PutUint32(out[0:4], uint32(pub.N.BitLen()))
	putFixed(out[4:4+ModulusWidth], pub.N)
	putFixed(out[4+ModulusWidth:], big.NewInt(int64(pub.E)))
	return out
}

// DecodePublicKey parses the wire form written by EncodePublicKey.
func DecodePublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) < PublicKeyWireSize {
		return nil, fmt.Errorf("%d bytes, want %d: %w", len(data), PublicKeyWireSize, ErrPublicKey)
	}

	n := new(big.Int).SetBytes(data[4 : 4+ModulusWidth])
	e := new(big.Int).SetBytes(data[4+ModulusWidth : PublicKeyWireSize])

	if n.Sign() == 0 {
		return nil, fmt.Errorf("zero modulus: %w", ErrPublicKey)
	}
	if !e.IsInt64() || e.Int64() < 2 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("exponent %s out of range: %w", e, ErrPublicKey)
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func putFixed(dst []byte, v *big.Int) {
	b := v.Bytes()
	if len(b) > len(dst) {
		b = b[len(b)-len(dst):]
	}
	copy(dst[len(dst)-len(b):], b)
}

// EncryptPKCS1 encrypts plain for pub with PKCS #1 v1.5 padding.
func EncryptPKCS1(plain []byte, pub *rsa.PublicKey) ([]byte, error) {
	out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plain)
	if err != nil {
		return nil, fmt.Errorf("rsa encrypt: %w", err)
	}
	return out, nil
}

// DecryptPKCS1 reverses EncryptPKCS1.
func DecryptPKCS1(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	out, err := rsa.DecryptPKCS1v15(nil, priv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("rsa decrypt: %w", err)
	}
	return out, nil
}

// GenerateKeyPair creates an RSA key with the given modulus size and public
// exponent. crypto/rsa always picks 65537, so the primes are drawn here.
func GenerateKeyPair(bits, exponent int) (*rsa.PrivateKey, error) {
	if bits < 128 || bits%2 != 0 {
		return nil, fmt.Errorf("gscrypt: unsupported key size %d", bits)
	}
	if exponent < 3 || exponent%2 == 0 {
		return nil, fmt.Errorf("gscrypt: unsupported public exponent %d", exponent)
	}

	e := big.NewInt(int64(exponent))
	one := big.NewInt(1)

	for attempt := 0; attempt < 100; attempt++ {
		p, err := rand.Prime(rand.Reader, bits/2)
		if err != nil {
			return nil, fmt.Errorf("generate prime: %w", err)
		}
		q, err := rand.Prime(rand.Reader, bits/2)
		if err != nil {
			return nil, fmt.Errorf("generate prime: %w", err)
		}
		if p.Cmp(q) == 0 {
			continue
		}

		n := new(big.Int).Mul(p, q)
		if n.BitLen() != bits {
			continue
		}

		pm1 := new(big.Int).Sub(p, one)
		qm1 := new(big.Int).Sub(q, one)
		phi := new(big.Int).Mul(pm1, qm1)

		d := new(big.Int).ModInverse(e, phi)
		if d == nil {
			continue
		}

		key := &rsa.PrivateKey{
			PublicKey: rsa.PublicKey{N: n, E: exponent},
			D:         d,
			Primes:    []*big.Int{p, q},
		}
		key.Precompute()
		if err := key.Validate(); err != nil {
			continue
		}
		return key, nil
	}

	return nil, fmt.Errorf("gscrypt: no %d-bit key with exponent %d after 100 attempts", bits, exponent)
}
