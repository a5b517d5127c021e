package wire

import "github.com/google/uuid"

// HardwareClass carries the advertised icon/model/color hint fields of
// spec §3 "MirageHostCapabilities".
type HardwareClass struct {
	Family   string `cbor:"family"`
	IconHint string `cbor:"icon_hint"`
	ModelID  string `cbor:"model_id"`
	Color    string `cbor:"color"`
}

// HostCapabilities is the advertised capability set (spec §3, §6). It is
// CBOR-encoded so the same codec serves both the control-channel hello
// exchange and any out-of-band discovery payload that embeds it.
type HostCapabilities struct {
	MaxStreams          int           `cbor:"max_streams"`
	SupportsHEVC        bool          `cbor:"supports_hevc"`
	SupportsP3ColorSpace bool         `cbor:"supports_p3_color_space"`
	MaxFrameRate        int           `cbor:"max_frame_rate"`
	ProtocolVersion     uint32        `cbor:"protocol_version"`
	DeviceID            uuid.UUID     `cbor:"device_id"`
	IdentityKeyID       string        `cbor:"identity_key_id"`
	Hardware            HardwareClass `cbor:"hardware"`
}

// Encode/Decode round-trip HostCapabilities through the shared control
// CBOR codec (spec §8 "Serialize → Parse → equal").
func (c HostCapabilities) Encode() ([]byte, error) {
	env, err := EncodeEnvelope(0, c)
	if err != nil {
		return nil, err
	}
	return env.Body, nil
}

func DecodeHostCapabilities(body []byte) (HostCapabilities, error) {
	env := Envelope{Body: body}
	var c HostCapabilities
	err := env.Decode(&c)
	return c, err
}
