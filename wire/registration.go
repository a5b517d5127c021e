package wire

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

// Registration magics (spec §6), sent in network byte order.
var (
	MagicVideo       = [4]byte{'M', 'I', 'R', 'G'}
	MagicAudio       = [4]byte{'M', 'I', 'R', 'A'}
	MagicQualityTest = [4]byte{'M', 'I', 'R', 'Q'}
)

var ErrUnknownMagic = errors.New("wire: unknown registration magic")

// Registration is the first datagram a participant sends on a new UDP
// socket, binding it to a previously negotiated stream and proving it
// negotiated the session on the control channel (spec §3, §6).
type Registration struct {
	Magic    [4]byte
	StreamID uint32 // absent (zero-length on wire) for quality-test registrations
	DeviceID uuid.UUID
	Token    []byte // opaque UDP registration token
}

// Marshal encodes a registration datagram. StreamID is omitted from the
// wire form for quality-test registrations per spec §4.1/§6.
func (r Registration) Marshal() []byte {
	hasStreamID := r.Magic != MagicQualityTest
	size := 4 + 16 + len(r.Token)
	if hasStreamID {
		size += 4
	}
	b := make([]byte, size)
	copy(b[0:4], r.Magic[:])
	off := 4
	if hasStreamID {
		binary.LittleEndian.PutUint32(b[off:off+4], r.StreamID)
		off += 4
	}
	copy(b[off:off+16], r.DeviceID[:])
	off += 16
	copy(b[off:], r.Token)
	return b
}

// ParseRegistration decodes a registration datagram.
func ParseRegistration(b []byte) (Registration, error) {
	if len(b) < 4 {
		return Registration{}, ErrInvalidHeader
	}
	var magic [4]byte
	copy(magic[:], b[0:4])

	hasStreamID := magic != MagicQualityTest
	off := 4
	var streamID uint32
	if hasStreamID {
		if len(b) < off+4 {
			return Registration{}, ErrInvalidHeader
		}
		streamID = binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
	}
	if len(b) < off+16 {
		return Registration{}, ErrInvalidHeader
	}
	var deviceID uuid.UUID
	copy(deviceID[:], b[off:off+16])
	off += 16

	token := append([]byte(nil), b[off:]...)

	switch magic {
	case MagicVideo, MagicAudio, MagicQualityTest:
	default:
		return Registration{}, ErrUnknownMagic
	}

	return Registration{Magic: magic, StreamID: streamID, DeviceID: deviceID, Token: token}, nil
}

// QualityTestHeaderSize is the fixed size of QualityTestPacketHeader,
// excluding the trailing payload bytes.
const QualityTestHeaderSize = 4 + 16 + 4 + 4 + 4 + 8

// QualityTestPacketHeader precedes each quality-probe payload (spec §6).
type QualityTestPacketHeader struct {
	Magic         [4]byte
	TestID        uuid.UUID
	StageID       uint32
	SequenceNum   uint32
	PayloadLength uint32
	SentAtNs      uint64
}

func (h QualityTestPacketHeader) Marshal() []byte {
	b := make([]byte, QualityTestHeaderSize)
	copy(b[0:4], h.Magic[:])
	copy(b[4:20], h.TestID[:])
	binary.LittleEndian.PutUint32(b[20:24], h.StageID)
	binary.LittleEndian.PutUint32(b[24:28], h.SequenceNum)
	binary.LittleEndian.PutUint32(b[28:32], h.PayloadLength)
	binary.LittleEndian.PutUint64(b[32:40], h.SentAtNs)
	return b
}

func ParseQualityTestHeader(b []byte) (QualityTestPacketHeader, error) {
	if len(b) < QualityTestHeaderSize {
		return QualityTestPacketHeader{}, ErrInvalidHeader
	}
	var h QualityTestPacketHeader
	copy(h.Magic[:], b[0:4])
	copy(h.TestID[:], b[4:20])
	h.StageID = binary.LittleEndian.Uint32(b[20:24])
	h.SequenceNum = binary.LittleEndian.Uint32(b[24:28])
	h.PayloadLength = binary.LittleEndian.Uint32(b[28:32])
	h.SentAtNs = binary.LittleEndian.Uint64(b[32:40])
	if h.Magic != MagicQualityTest {
		return QualityTestPacketHeader{}, ErrUnknownMagic
	}
	return h, nil
}
