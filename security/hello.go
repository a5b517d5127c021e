package security

import (
	"crypto/ed25519"
	"errors"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ErrUnauthorizedIdentity is returned when a hello signature fails
// verification.
var ErrUnauthorizedIdentity = errors.New("security: unauthorized identity")

// HelloEnvelope is the signed identity handshake payload (spec §4.2):
// "Hello signatures cover: device identifiers, declared protocol
// version, declared capabilities, negotiation, iCloud/user-scope
// identifier, key ID, public key, timestamp, nonce."
//
// Signing uses stdlib crypto/ed25519 — no pack example substitutes a
// third-party signature library where Go's stdlib Ed25519 already
// covers the need, see DESIGN.md.
type HelloEnvelope struct {
	DeviceID            uuid.UUID `cbor:"device_id"`
	ProtocolVersion     uint32    `cbor:"protocol_version"`
	DeclaredCapabilities []byte   `cbor:"declared_capabilities"`
	Negotiation         []byte    `cbor:"negotiation"`
	UserScopeID         string    `cbor:"user_scope_id"`
	KeyID               string    `cbor:"key_id"`
	PublicKey           []byte    `cbor:"public_key"`
	TimestampMs         int64     `cbor:"timestamp_ms"`
	Nonce               []byte    `cbor:"nonce"`
}

// signingPayload returns the canonical bytes the signature is computed
// over: the envelope with its own Signature field necessarily excluded
// by construction (HelloEnvelope carries no signature field itself; the
// signature travels alongside it, see SignedHello).
func (h HelloEnvelope) signingPayload() ([]byte, error) {
	return cbor.Marshal(h)
}

// SignedHello pairs a HelloEnvelope with its detached signature.
type SignedHello struct {
	Envelope  HelloEnvelope
	Signature []byte
}

// Sign produces a SignedHello using priv, an Ed25519 private key whose
// public half must equal h.PublicKey.
func Sign(h HelloEnvelope, priv ed25519.PrivateKey) (SignedHello, error) {
	payload, err := h.signingPayload()
	if err != nil {
		return SignedHello{}, err
	}
	sig := ed25519.Sign(priv, payload)
	return SignedHello{Envelope: h, Signature: sig}, nil
}

// Verify checks sh's signature against the public key embedded in its
// own envelope, then runs replay protection. Both failures map to
// ErrUnauthorizedIdentity / ErrReplayDetected per spec §4.2.
func Verify(sh SignedHello, protector *ReplayProtector) error {
	if len(sh.Envelope.PublicKey) != ed25519.PublicKeySize {
		return ErrUnauthorizedIdentity
	}
	payload, err := sh.Envelope.signingPayload()
	if err != nil {
		return ErrUnauthorizedIdentity
	}
	if !ed25519.Verify(ed25519.PublicKey(sh.Envelope.PublicKey), payload, sh.Signature) {
		return ErrUnauthorizedIdentity
	}
	if protector != nil {
		if err := protector.Check(sh.Envelope.KeyID, sh.Envelope.TimestampMs, string(sh.Envelope.Nonce)); err != nil {
			return err
		}
	}
	return nil
}
