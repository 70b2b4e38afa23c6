package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"math"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrKeyExchange    = errors.New("key exchange failed")
	ErrAuth           = errors.New("authentication failed")
	ErrSessionExpired = errors.New("session nonce space exhausted")
	ErrNotEstablished = errors.New("session keys not established")
)

// Role selects which derived key a peer encrypts with. Client and server
// streams use distinct keys so the two directions never share a nonce
// space.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// HKDF info labels for the two directional keys.
const (
	labelClientToServer = "tickwire c2s v1"
	labelServerToClient = "tickwire s2c v1"
)

// Session performs the X25519 key exchange for one connection and
// protects every subsequent packet payload with AES-256-GCM. Each
// direction has its own key; the sender's nonce is a monotonically
// increasing counter transmitted with the packet. A nonce value is never
// reused under the same key: the counter expires the session before it
// can wrap.
type Session struct {
	role Role

	localPrivate [32]byte
	localPublic  [32]byte

	sendAEAD cipher.AEAD
	recvAEAD cipher.AEAD

	nextNonce   uint64
	established bool
}

// NewSession creates a session with a fresh ephemeral key pair.
func NewSession(role Role) (*Session, error) {
	s := &Session{role: role}
	if _, err := rand.Read(s.localPrivate[:]); err != nil {
		return nil, err
	}

	public, err := curve25519.X25519(s.localPrivate[:], curve25519.Basepoint)
	if err != nil {
		return nil, ErrKeyExchange
	}
	copy(s.localPublic[:], public)

	return s, nil
}

// BeginExchange returns the local ephemeral public key to send to the
// remote peer.
func (s *Session) BeginExchange() [32]byte {
	return s.localPublic
}

// CompleteExchange derives the shared secret from the remote public key
// and keys both directions. A low-order remote key yields ErrKeyExchange
// and the session stays unusable.
func (s *Session) CompleteExchange(remotePublic [32]byte) error {
	shared, err := curve25519.X25519(s.localPrivate[:], remotePublic[:])
	if err != nil {
		return ErrKeyExchange
	}

	c2s, err := deriveKey(shared, labelClientToServer)
	if err != nil {
		return ErrKeyExchange
	}
	s2c, err := deriveKey(shared, labelServerToClient)
	if err != nil {
		return ErrKeyExchange
	}

	// key material lives only as long as the session
	for i := range shared {
		shared[i] = 0
	}

	sendKey, recvKey := c2s, s2c
	if s.role == RoleServer {
		sendKey, recvKey = s2c, c2s
	}

	if s.sendAEAD, err = newGCM(sendKey); err != nil {
		return ErrKeyExchange
	}
	if s.recvAEAD, err = newGCM(recvKey); err != nil {
		return ErrKeyExchange
	}

	s.established = true
	return nil
}

// Established reports whether both directional keys have been derived.
func (s *Session) Established() bool {
	return s.established
}

// Encrypt seals plaintext under the send key, binding aad (the packet
// header bytes) to the ciphertext. It returns the nonce counter the
// receiver must present to Decrypt. Once the counter would wrap the
// session is expired and every further call fails.
func (s *Session) Encrypt(plaintext, aad []byte) (uint64, []byte, error) {
	if !s.established {
		return 0, nil, ErrNotEstablished
	}
	if s.nextNonce == math.MaxUint64 {
		return 0, nil, ErrSessionExpired
	}

	nonce := s.nextNonce
	s.nextNonce++

	return nonce, s.sendAEAD.Seal(nil, nonceBytes(nonce), plaintext, aad), nil
}

// Decrypt opens ciphertext under the receive key. Any authentication
// failure is reported as ErrAuth and nothing is returned to higher
// layers.
func (s *Session) Decrypt(nonce uint64, ciphertext, aad []byte) ([]byte, error) {
	if !s.established {
		return nil, ErrNotEstablished
	}

	plaintext, err := s.recvAEAD.Open(nil, nonceBytes(nonce), ciphertext, aad)
	if err != nil {
		return nil, ErrAuth
	}
	return plaintext, nil
}

// Close wipes the private key material. The derived AEADs become
// unreachable with the session itself.
func (s *Session) Close() {
	for i := range s.localPrivate {
		s.localPrivate[i] = 0
	}
	s.established = false
	s.sendAEAD = nil
	s.recvAEAD = nil
}

func deriveKey(secret []byte, label string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, secret, nil, []byte(label))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func nonceBytes(counter uint64) []byte {
	nonce := make([]byte, 12)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}
