// Package router implements the router service: the per-connection handshake
// session, the message dispatch table and the reassembly buffer that turns
// TCP reads into responses.
package router

import (
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gsemu-project/gsemu/internal/gscrypt"
	"github.com/gsemu-project/gsemu/internal/protocol"
)

// State is the handshake progress of a session.
type State int

const (
	AwaitingHandshake State = iota
	KeyExchanged
	SessionEstablished
)

var stateStrings = map[State]string{
	AwaitingHandshake:  "awaiting_handshake",
	KeyExchanged:       "key_exchanged",
	SessionEstablished: "session_established",
}

// String returns the lowercase state name used in logs and the status API.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes State as a JSON string.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Session holds the key material negotiated on one router connection.
//
// The server key pair is set once by step 1 of the key exchange, the
// inbound key by step 2 and the outbound key when the step 2 response is
// built. Nothing is ever replaced afterwards.
type Session struct {
	mu sync.RWMutex

	id        string
	createdAt time.Time
	state     State
	username  string

	gamePublicKey *rsa.PublicKey
	serverKey     *rsa.PrivateKey
	inbound       *gscrypt.SessionCipher
	outbound      *gscrypt.SessionCipher
}

// NewSession creates a session awaiting the key exchange.
func NewSession() *Session {
	return &Session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		state:     AwaitingHandshake,
	}
}

// ID returns the connection id.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// State returns the handshake state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Username returns the name recorded at login, if any.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) setUsername(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = name
}

// Inbound returns the cipher for SessionEncrypted payloads sent by the
// client, or nil before step 2.
func (s *Session) Inbound() protocol.PayloadCipher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.inbound == nil {
		return nil
	}
	return s.inbound
}

// Outbound returns the cipher for SessionEncrypted payloads sent to the
// client, or nil before step 2.
func (s *Session) Outbound() protocol.PayloadCipher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.outbound == nil {
		return nil
	}
	return s.outbound
}

// ExchangePublicKeys performs step 1: it stores the client's public key,
// generates the server key pair and returns the server public key in wire
// form.
func (s *Session) ExchangePublicKeys(gameKey []byte, bits, exponent int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != AwaitingHandshake {
		return nil, fmt.Errorf("public key exchange in state %s: %w", s.state, protocol.ErrProtocolViolation)
	}

	pub, err := gscrypt.DecodePublicKey(gameKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrProtocolViolation, err)
	}

	priv, err := gscrypt.GenerateKeyPair(bits, exponent)
	if err != nil {
		return nil, fmt.Errorf("generate server key pair: %w", err)
	}

	s.gamePublicKey = pub
	s.serverKey = priv
	s.state = KeyExchanged

	return gscrypt.EncodePublicKey(&priv.PublicKey), nil
}

// ExchangeSessionKeys performs step 2: it decrypts the client's Blowfish key
// with the server private key, generates the server's own key and returns
// it encrypted for the client.
func (s *Session) ExchangeSessionKeys(encryptedGameKey []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != KeyExchanged {
		return nil, fmt.Errorf("session key exchange in state %s: %w", s.state, protocol.ErrProtocolViolation)
	}

	gameKey, err := gscrypt.DecryptPKCS1(encryptedGameKey, s.serverKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrProtocolViolation, err)
	}
	inbound, err := gscrypt.NewSessionCipher(gameKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrProtocolViolation, err)
	}

	serverKey, err := gscrypt.GenerateKey(gscrypt.SessionKeySize)
	if err != nil {
		return nil, err
	}
	outbound, err := gscrypt.NewSessionCipher(serverKey)
	if err != nil {
		return nil, err
	}
	encrypted, err := gscrypt.EncryptPKCS1(serverKey, s.gamePublicKey)
	if err != nil {
		return nil, err
	}

	s.inbound = inbound
	s.outbound = outbound
	s.state = SessionEstablished

	return encrypted, nil
}

// Close zeroes the symmetric keys and drops the RSA material.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inbound != nil {
		s.inbound.Wipe()
	}
	if s.outbound != nil {
		s.outbound.Wipe()
	}
	s.inbound = nil
	s.outbound = nil
	s.serverKey = nil
	s.gamePublicKey = nil
}
