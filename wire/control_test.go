package wire

import (
	"bytes"
	"testing"
)

type pingBody struct {
	Nonce uint64 `cbor:"nonce"`
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := EncodeEnvelope(MsgPing, pingBody{Nonce: 42})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}

	var buf bytes.Buffer
	if _, err := env.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if got.Type != MsgPing {
		t.Fatalf("type = %v, want MsgPing", got.Type)
	}

	var body pingBody
	if err := got.Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Nonce != 42 {
		t.Fatalf("nonce = %d, want 42", body.Nonce)
	}
}

func TestReadEnvelopeUnknownTypeNotError(t *testing.T) {
	env := Envelope{Type: MessageType(250), Body: []byte{0xa0}} // unused future type
	var buf bytes.Buffer
	if _, err := env.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	got, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatalf("ReadEnvelope should not fail on unknown type: %v", err)
	}
	if KnownMessageType(got.Type) {
		t.Fatalf("type 250 should not be a known message type")
	}
}

func TestReadEnvelopeRejectsOversizedLength(t *testing.T) {
	hdr := []byte{byte(MsgPing), 0xff, 0xff, 0xff, 0xff}
	if _, err := ReadEnvelope(bytes.NewReader(hdr)); err == nil {
		t.Fatalf("expected error for oversized declared length")
	}
}

func TestHostCapabilitiesRoundTrip(t *testing.T) {
	c := HostCapabilities{
		MaxStreams:      4,
		SupportsHEVC:    true,
		MaxFrameRate:    120,
		ProtocolVersion: 2,
		Hardware:        HardwareClass{Family: "mac", IconHint: "laptop", ModelID: "x1", Color: "silver"},
	}
	body, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeHostCapabilities(body)
	if err != nil {
		t.Fatalf("DecodeHostCapabilities: %v", err)
	}
	if got != c {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
	}
}
