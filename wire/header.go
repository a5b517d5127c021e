// Package wire serializes and parses the UDP fragment header, the
// registration datagram, the quality-test packet header, and the
// length-prefixed control envelope. It mirrors the layout decisions the
// teacher makes in moonlight-common-go/protocol/packets.go, generalized
// to the fragmented/FEC'd/encrypted datagram this spec defines instead
// of Moonlight's RTP framing.
package wire

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Errors returned by header parsing, matching spec §4.1 / §7 ErrorKind
// names.
var (
	ErrInvalidHeader    = errors.New("wire: invalid header")
	ErrLengthMismatch   = errors.New("wire: length mismatch")
	ErrChecksumMismatch = errors.New("wire: checksum mismatch")
)

// FrameFlags is the bitfield carried in every FrameHeader (spec §3).
type FrameFlags uint8

const (
	FlagKeyframe FrameFlags = 1 << iota
	FlagEndOfFrame
	FlagDiscontinuity
	FlagParameterSet
	FlagFECParity
	FlagEncryptedPayload
)

func (f FrameFlags) Has(bit FrameFlags) bool { return f&bit != 0 }

// HeaderSize is the fixed wire size of FrameHeader, H in spec §4.1.
const HeaderSize = 50

// ContentRect is the encoder-output pixel rect a fragment's frame
// covers.
type ContentRect struct {
	X, Y, W, H uint16
}

// FrameHeader precedes every UDP media fragment (spec §3).
type FrameHeader struct {
	Flags           FrameFlags
	StreamID        uint32
	SequenceNumber  uint32
	TimestampNs     uint64
	FrameNumber     uint32
	FragmentIndex   uint16
	FragmentCount   uint16
	PayloadLength   uint16
	FrameByteCount  uint32
	CRC32           uint32
	Rect            ContentRect
	DimensionToken  uint16
	Epoch           uint16
}

// Marshal encodes h into a HeaderSize-byte buffer in little-endian order.
func (h FrameHeader) Marshal() []byte {
	b := make([]byte, HeaderSize)
	b[0] = byte(h.Flags)
	// b[1..3] reserved for alignment
	binary.LittleEndian.PutUint32(b[4:8], h.StreamID)
	binary.LittleEndian.PutUint32(b[8:12], h.SequenceNumber)
	binary.LittleEndian.PutUint64(b[12:20], h.TimestampNs)
	binary.LittleEndian.PutUint32(b[20:24], h.FrameNumber)
	binary.LittleEndian.PutUint16(b[24:26], h.FragmentIndex)
	binary.LittleEndian.PutUint16(b[26:28], h.FragmentCount)
	binary.LittleEndian.PutUint16(b[28:30], h.PayloadLength)
	binary.LittleEndian.PutUint32(b[30:34], h.FrameByteCount)
	binary.LittleEndian.PutUint32(b[34:38], h.CRC32)
	binary.LittleEndian.PutUint16(b[38:40], h.Rect.X)
	binary.LittleEndian.PutUint16(b[40:42], h.Rect.Y)
	binary.LittleEndian.PutUint16(b[42:44], h.Rect.W)
	binary.LittleEndian.PutUint16(b[44:46], h.Rect.H)
	binary.LittleEndian.PutUint16(b[46:48], h.DimensionToken)
	binary.LittleEndian.PutUint16(b[48:50], h.Epoch)
	return b
}

// Parse decodes a HeaderSize-byte buffer into a FrameHeader.
func Parse(b []byte) (FrameHeader, error) {
	if len(b) < HeaderSize {
		return FrameHeader{}, ErrInvalidHeader
	}
	h := FrameHeader{
		Flags:          FrameFlags(b[0]),
		StreamID:       binary.LittleEndian.Uint32(b[4:8]),
		SequenceNumber: binary.LittleEndian.Uint32(b[8:12]),
		TimestampNs:    binary.LittleEndian.Uint64(b[12:20]),
		FrameNumber:    binary.LittleEndian.Uint32(b[20:24]),
		FragmentIndex:  binary.LittleEndian.Uint16(b[24:26]),
		FragmentCount:  binary.LittleEndian.Uint16(b[26:28]),
		PayloadLength:  binary.LittleEndian.Uint16(b[28:30]),
		FrameByteCount: binary.LittleEndian.Uint32(b[30:34]),
		CRC32:          binary.LittleEndian.Uint32(b[34:38]),
		DimensionToken: binary.LittleEndian.Uint16(b[46:48]),
		Epoch:          binary.LittleEndian.Uint16(b[48:50]),
	}
	h.Rect.X = binary.LittleEndian.Uint16(b[38:40])
	h.Rect.Y = binary.LittleEndian.Uint16(b[40:42])
	h.Rect.W = binary.LittleEndian.Uint16(b[42:44])
	h.Rect.H = binary.LittleEndian.Uint16(b[44:46])
	if h.FragmentIndex >= h.FragmentCount {
		return FrameHeader{}, ErrInvalidHeader
	}
	return h, nil
}

// CRC32Of computes the CRC32 (IEEE) of plaintext, matching spec §4.1:
// "CRC32 is computed over the plaintext payload before optional AEAD
// encryption".
func CRC32Of(plaintext []byte) uint32 {
	return crc32.ChecksumIEEE(plaintext)
}

// VerifyCRC32 validates plaintext against the CRC32 carried in the
// header.
func VerifyCRC32(h FrameHeader, plaintext []byte) error {
	if CRC32Of(plaintext) != h.CRC32 {
		return ErrChecksumMismatch
	}
	return nil
}

// VerifyWireLength checks a received datagram's observed length against
// the header's declared payload length, accounting for an AEAD tag when
// the payload is encrypted.
func VerifyWireLength(h FrameHeader, observedPayloadLen, authTagLength int) error {
	want := int(h.PayloadLength)
	if h.Flags.Has(FlagEncryptedPayload) {
		want += authTagLength
	}
	if observedPayloadLen != want {
		return ErrLengthMismatch
	}
	return nil
}
