package wire

import (
	"testing"

	"github.com/google/uuid"
)

func TestRegistrationRoundTripVideo(t *testing.T) {
	r := Registration{
		Magic:    MagicVideo,
		StreamID: 99,
		DeviceID: uuid.New(),
		Token:    []byte{1, 2, 3, 4, 5},
	}
	got, err := ParseRegistration(r.Marshal())
	if err != nil {
		t.Fatalf("ParseRegistration: %v", err)
	}
	if got.Magic != r.Magic || got.StreamID != r.StreamID || got.DeviceID != r.DeviceID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
	if string(got.Token) != string(r.Token) {
		t.Fatalf("token mismatch: got %v want %v", got.Token, r.Token)
	}
}

func TestRegistrationQualityTestOmitsStreamID(t *testing.T) {
	r := Registration{Magic: MagicQualityTest, DeviceID: uuid.New(), Token: []byte("tok")}
	b := r.Marshal()
	if len(b) != 4+16+len("tok") {
		t.Fatalf("quality-test registration should omit streamID, got len %d", len(b))
	}
	got, err := ParseRegistration(b)
	if err != nil {
		t.Fatalf("ParseRegistration: %v", err)
	}
	if got.StreamID != 0 {
		t.Fatalf("expected zero StreamID, got %d", got.StreamID)
	}
}

func TestRegistrationUnknownMagic(t *testing.T) {
	b := []byte("XXXX")
	b = append(b, make([]byte, 16)...)
	if _, err := ParseRegistration(b); err != ErrUnknownMagic {
		t.Fatalf("got %v, want ErrUnknownMagic", err)
	}
}

func TestQualityTestHeaderRoundTrip(t *testing.T) {
	h := QualityTestPacketHeader{
		Magic:         MagicQualityTest,
		TestID:        uuid.New(),
		StageID:       2,
		SequenceNum:   17,
		PayloadLength: 1200,
		SentAtNs:      123456789,
	}
	got, err := ParseQualityTestHeader(h.Marshal())
	if err != nil {
		t.Fatalf("ParseQualityTestHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}
