package security

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDeriveAndSealOpenRoundTrip(t *testing.T) {
	secret := []byte("a shared secret established during handshake")
	nonceSeed := []byte("hello-nonce")
	deviceID := uuid.New()

	ctx, err := Derive(secret, nonceSeed, deviceID, 1)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	header := []byte("associated-data-header")
	plaintext := []byte("encoded frame bytes")
	nonce := Nonce(1, 7, 99, DirHostToClient)

	sealed := ctx.Seal(DirHostToClient, nonce, header, plaintext)
	got, err := ctx.Open(DirHostToClient, nonce, header, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestOpenFailsOnTamperedAAD(t *testing.T) {
	secret := []byte("shared secret")
	ctx, err := Derive(secret, []byte("n"), uuid.New(), 1)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	nonce := Nonce(1, 1, 1, DirHostToClient)
	sealed := ctx.Seal(DirHostToClient, nonce, []byte("header"), []byte("plain"))
	if _, err := ctx.Open(DirHostToClient, nonce, []byte("tampered"), sealed); err != ErrDecryptionFailed {
		t.Fatalf("got %v, want ErrDecryptionFailed", err)
	}
}

func TestNonceUniquePerSequence(t *testing.T) {
	n1 := Nonce(1, 1, 1, DirHostToClient)
	n2 := Nonce(1, 1, 2, DirHostToClient)
	n3 := Nonce(1, 1, 1, DirClientToHost)
	if n1 == n2 {
		t.Fatalf("nonces for different sequence numbers collided")
	}
	if n1 == n3 {
		t.Fatalf("nonces for different directions collided")
	}
}

func TestTokenValidation(t *testing.T) {
	secret := []byte("secret")
	deviceID := uuid.New()
	ctx, err := Derive(secret, []byte("n"), deviceID, 5)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if err := ValidateToken(secret, deviceID, 5, ctx.Token()); err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if err := ValidateToken(secret, deviceID, 6, ctx.Token()); err != ErrInvalidToken {
		t.Fatalf("got %v, want ErrInvalidToken for wrong streamID", err)
	}
}

func TestReplayProtectorRejectsDuplicate(t *testing.T) {
	p := NewReplayProtector(time.Minute)
	if err := p.Check("key1", 100, "nonce1"); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if err := p.Check("key1", 100, "nonce1"); err != ErrReplayDetected {
		t.Fatalf("got %v, want ErrReplayDetected", err)
	}
	if err := p.Check("key1", 101, "nonce2"); err != nil {
		t.Fatalf("distinct tuple should pass: %v", err)
	}
}

func TestHelloSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	env := HelloEnvelope{
		DeviceID:        uuid.New(),
		ProtocolVersion: 2,
		UserScopeID:     "user-scope",
		KeyID:           "key-1",
		PublicKey:       pub,
		TimestampMs:     1000,
		Nonce:           []byte("n1"),
	}
	signed, err := Sign(env, priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	protector := NewReplayProtector(time.Minute)
	if err := Verify(signed, protector); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify(signed, protector); err != ErrReplayDetected {
		t.Fatalf("got %v, want ErrReplayDetected on resend", err)
	}
}

func TestHelloVerifyRejectsTamperedSignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	env := HelloEnvelope{DeviceID: uuid.New(), PublicKey: pub, KeyID: "k", Nonce: []byte("n")}
	signed, err := Sign(env, priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	signed.Envelope.ProtocolVersion = 99 // tamper after signing
	if err := Verify(signed, nil); err != ErrUnauthorizedIdentity {
		t.Fatalf("got %v, want ErrUnauthorizedIdentity", err)
	}
}
