// Package security derives per-direction AEAD keys from a handshake
// shared secret, encrypts/decrypts media payloads, and issues/validates
// UDP registration tokens (spec §4.2). AEAD itself stays on stdlib
// crypto/aes+crypto/cipher, the teacher's own choice in
// moonlight-common-go/crypto/crypto.go — no pack example swaps in a
// third-party AEAD implementation in place of stdlib crypto/cipher, see
// DESIGN.md. Key derivation uses golang.org/x/crypto/hkdf, grounded on
// other_examples/a80bc055_xendarboh-katzenpost (same derive-then-seal
// pattern from a shared secret).
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrDecryptionFailed = errors.New("security: decryption failed")
	ErrInvalidToken      = errors.New("security: invalid registration token")
)

// Direction selects which of the two per-connection AEAD keys to use.
type Direction uint8

const (
	DirHostToClient Direction = iota
	DirClientToHost
)

// KeyLength is the AES-256 key size used for both directions.
const KeyLength = 32

// AuthTagLength is the AES-GCM authentication tag size appended after
// ciphertext (spec §4.2 "authTagLength").
const AuthTagLength = 16

// NonceLength is the AES-GCM nonce size.
const NonceLength = 12

// Context holds the per-client AEAD key material for each direction plus
// the UDP registration token, i.e. spec §3 "MediaSecurityContext". It is
// derived once at hello acceptance and invalid after disconnect.
type Context struct {
	hostToClient cipher.AEAD
	clientToHost cipher.AEAD
	token        []byte
}

// Derive computes both per-direction AEAD keys and a registration token
// from a handshake shared secret and nonce, per spec §4.2.
func Derive(sharedSecret, nonce []byte, deviceID uuid.UUID, streamID uint32) (*Context, error) {
	h2c, err := deriveKey(sharedSecret, nonce, []byte("mirage-h2c"))
	if err != nil {
		return nil, err
	}
	c2h, err := deriveKey(sharedSecret, nonce, []byte("mirage-c2h"))
	if err != nil {
		return nil, err
	}

	h2cAEAD, err := newGCM(h2c)
	if err != nil {
		return nil, err
	}
	c2hAEAD, err := newGCM(c2h)
	if err != nil {
		return nil, err
	}

	token := issueToken(sharedSecret, deviceID, streamID)

	return &Context{hostToClient: h2cAEAD, clientToHost: c2hAEAD, token: token}, nil
}

func deriveKey(secret, salt, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
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

// Nonce constructs the per-packet AEAD nonce. Spec §4.2/§8 requires it be
// unique per (streamID, frameNumber, sequenceNumber, direction) within a
// session; hashing those four fields into a fixed 12-byte value gives
// that uniqueness without needing a separate counter to persist.
func Nonce(streamID, frameNumber, sequenceNumber uint32, dir Direction) [NonceLength]byte {
	var buf [13]byte
	binary.LittleEndian.PutUint32(buf[0:4], streamID)
	binary.LittleEndian.PutUint32(buf[4:8], frameNumber)
	binary.LittleEndian.PutUint32(buf[8:12], sequenceNumber)
	buf[12] = byte(dir)

	sum := sha256.Sum256(buf[:])
	var nonce [NonceLength]byte
	copy(nonce[:], sum[:NonceLength])
	return nonce
}

// Seal encrypts plaintext, authenticating header as associated data, and
// returns ciphertext||tag (spec §4.2 "Append a fixed-size tag ... after
// the ciphertext").
func (c *Context) Seal(dir Direction, nonce [NonceLength]byte, header, plaintext []byte) []byte {
	aead := c.aeadFor(dir)
	return aead.Seal(nil, nonce[:], plaintext, header)
}

// Open decrypts ciphertext||tag, authenticating header, returning the
// plaintext or ErrDecryptionFailed.
func (c *Context) Open(dir Direction, nonce [NonceLength]byte, header, ciphertextAndTag []byte) ([]byte, error) {
	aead := c.aeadFor(dir)
	pt, err := aead.Open(nil, nonce[:], ciphertextAndTag, header)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

func (c *Context) aeadFor(dir Direction) cipher.AEAD {
	if dir == DirHostToClient {
		return c.hostToClient
	}
	return c.clientToHost
}

// Token returns the opaque UDP registration token bound to this context.
func (c *Context) Token() []byte { return c.token }

func issueToken(secret []byte, deviceID uuid.UUID, streamID uint32) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(deviceID[:])
	var sb [4]byte
	binary.LittleEndian.PutUint32(sb[:], streamID)
	mac.Write(sb[:])
	return mac.Sum(nil)
}

// ValidateToken recomputes the expected registration token for
// (deviceID, streamID) against the provided secret and compares it in
// constant time to the token presented on the wire.
func ValidateToken(secret []byte, deviceID uuid.UUID, streamID uint32, presented []byte) error {
	want := issueToken(secret, deviceID, streamID)
	if !hmac.Equal(want, presented) {
		return ErrInvalidToken
	}
	return nil
}
