package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MessageType is the stable, version-independent identifier of a
// control-channel message (spec §6). IDs must never be reused or
// renumbered; unknown IDs are logged and ignored, never treated as a
// protocol error (spec §4.1).
type MessageType uint8

const (
	MsgHello MessageType = iota + 1
	MsgHelloResponse
	MsgWindowList
	MsgWindowUpdate
	MsgStartStream
	MsgStopStream
	MsgStreamStarted
	MsgStreamStopped
	MsgStreamMetricsUpdate
	MsgStreamPaused
	MsgStreamResumed
	MsgKeyframeRequest
	MsgDisplayResolutionChange
	MsgStreamScaleChange
	MsgStreamRefreshRateChange
	MsgStreamEncoderSettingsChange
	MsgContentBoundsUpdate
	MsgSessionStateUpdate
	MsgUnlockRequest
	MsgUnlockResponse
	MsgLoginDisplayReady
	MsgLoginDisplayStopped
	MsgDesktopStreamStarted
	MsgDesktopStreamStopped
	MsgAppList
	MsgAppListRequest
	MsgSelectApp
	MsgAppStreamStarted
	MsgWindowAddedToStream
	MsgWindowCooldownStarted
	MsgWindowCooldownCancelled
	MsgReturnToAppSelection
	MsgAppTerminated
	MsgMenuBarUpdate
	MsgMenuActionRequest
	MsgMenuActionResult
	MsgPing
	MsgPong
	MsgQualityTestRequest
	MsgQualityTestResult
	MsgQualityProbeRequest
	MsgQualityProbeResult
	MsgAudioStreamStarted
	MsgAudioStreamStopped
	MsgInputEvent
	MsgDisconnect
	MsgError
	MsgCursorUpdate
	MsgCursorPositionUpdate
)

// maxBodyLength bounds a single control message body to guard against a
// corrupt or hostile length prefix causing an unbounded allocation.
const maxBodyLength = 16 << 20

// Envelope is one length-prefixed control-channel message:
// {type:u8, length:u32-LE, body:bytes}. The body is CBOR-encoded,
// grounded on other_examples/a80bc055_xendarboh-katzenpost (cbor.Marshal
// of a typed frame struct) — CBOR keeps the self-describing property
// spec §4.1 requires while being far more compact than JSON for the
// input-event/metrics traffic that dominates control volume.
type Envelope struct {
	Type MessageType
	Body []byte
}

// EncodeEnvelope marshals v as CBOR and wraps it in an Envelope.
func EncodeEnvelope(t MessageType, v any) (Envelope, error) {
	body, err := cbor.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: encode %v body: %w", t, err)
	}
	return Envelope{Type: t, Body: body}, nil
}

// Decode unmarshals the envelope's CBOR body into v.
func (e Envelope) Decode(v any) error {
	return cbor.Unmarshal(e.Body, v)
}

// WriteTo serializes the envelope onto w in wire order.
func (e Envelope) WriteTo(w io.Writer) (int64, error) {
	if len(e.Body) > maxBodyLength {
		return 0, fmt.Errorf("wire: body too large: %d", len(e.Body))
	}
	hdr := make([]byte, 5)
	hdr[0] = byte(e.Type)
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(e.Body)))
	n1, err := w.Write(hdr)
	if err != nil {
		return int64(n1), err
	}
	n2, err := w.Write(e.Body)
	return int64(n1 + n2), err
}

// ReadEnvelope reads one length-prefixed message from r. Unknown types
// are still returned (not an error) so the caller can log-and-ignore per
// spec §4.1; only framing failures are errors.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Envelope{}, err
	}
	t := MessageType(hdr[0])
	length := binary.LittleEndian.Uint32(hdr[1:5])
	if length > maxBodyLength {
		return Envelope{}, fmt.Errorf("wire: declared length %d exceeds max", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Body: body}, nil
}

// KnownMessageType reports whether t is one of the stable IDs defined
// above, for logging decisions at the call site.
func KnownMessageType(t MessageType) bool {
	return t >= MsgHello && t <= MsgCursorPositionUpdate
}
