package toa

import (
	"encoding/binary"

	"golang.org/x/crypto/cryptobyte"

	"github.com/tile-protocol/tile-go/pkg/tilecrypto"
	"github.com/tile-protocol/tile-go/pkg/tileerr"
)

// Frame layout constants. The byte layout is fixed by the Tile hardware:
// opcode (1) ‖ payload ‖ counter (4, big-endian) ‖ HMAC tag (32).
const (
	// CounterSize is the size of the sequence counter in bytes.
	CounterSize = 4

	// MinFrameSize is the smallest valid frame (empty payload).
	MinFrameSize = 1 + CounterSize + tilecrypto.TagSize

	// MaxPayloadSize bounds the payload so frames fit in a single
	// characteristic write on common BLE stacks.
	MaxPayloadSize = 128
)

// Frame is a decoded TOA frame. The tag covers opcode ‖ payload ‖ counter.
type Frame struct {
	Opcode  Opcode
	Payload []byte
	Counter uint32
	Tag     []byte
}

// signedBytes returns the byte string covered by the HMAC tag.
func signedBytes(opcode Opcode, payload []byte, counter uint32) []byte {
	buf := make([]byte, 0, 1+len(payload)+CounterSize)
	buf = append(buf, byte(opcode))
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint32(buf, counter)
	return buf
}

// EncodeFrame builds and signs a frame for transmission.
func EncodeFrame(key *tilecrypto.SessionKey, opcode Opcode, payload []byte, counter uint32) ([]byte, error) {
	if !key.Valid() {
		return nil, tileerr.New(tileerr.KindNotAuthenticated, "no session key")
	}
	if len(payload) > MaxPayloadSize {
		return nil, tileerr.New(tileerr.KindInvalidParameter,
			"payload %d bytes exceeds %d", len(payload), MaxPayloadSize)
	}

	signed := signedBytes(opcode, payload, counter)
	tag := key.Sign(signed)

	frame := make([]byte, 0, len(signed)+tilecrypto.TagSize)
	frame = append(frame, signed...)
	frame = append(frame, tag...)
	return frame, nil
}

// ParseFrame decodes a received frame without verifying its tag.
// Use VerifyFrame for authenticated parsing.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < MinFrameSize {
		return nil, tileerr.New(tileerr.KindProtocolViolation,
			"frame %d bytes, want at least %d", len(data), MinFrameSize)
	}

	payloadLen := len(data) - MinFrameSize

	s := cryptobyte.String(data)
	var opcode uint8
	var payload, tag []byte
	var counter uint32
	if !s.ReadUint8(&opcode) ||
		!s.ReadBytes(&payload, payloadLen) ||
		!s.ReadUint32(&counter) ||
		!s.ReadBytes(&tag, tilecrypto.TagSize) ||
		!s.Empty() {
		return nil, tileerr.New(tileerr.KindProtocolViolation, "malformed frame")
	}

	return &Frame{
		Opcode:  Opcode(opcode),
		Payload: payload,
		Counter: counter,
		Tag:     tag,
	}, nil
}

// VerifyFrame decodes a received frame and verifies its tag against the
// session key. A tag mismatch is fatal to the session: the peer is either
// corrupted or hostile, and the caller must force a re-handshake.
func VerifyFrame(key *tilecrypto.SessionKey, data []byte) (*Frame, error) {
	frame, err := ParseFrame(data)
	if err != nil {
		return nil, err
	}

	if !key.Verify(signedBytes(frame.Opcode, frame.Payload, frame.Counter), frame.Tag) {
		return nil, tileerr.New(tileerr.KindTagMismatch,
			"bad tag on %s frame (counter %d)", frame.Opcode, frame.Counter)
	}
	return frame, nil
}

// Ack is a decoded acknowledgement payload: the opcode being acknowledged
// and the tile's status for it.
type Ack struct {
	Acked  Opcode
	Status Status
}

// ParseAck decodes an ACK frame payload.
func ParseAck(frame *Frame) (*Ack, error) {
	if frame.Opcode != OpAck {
		return nil, tileerr.New(tileerr.KindProtocolViolation,
			"expected ACK frame, got %s", frame.Opcode)
	}

	s := cryptobyte.String(frame.Payload)
	var acked, status uint8
	if !s.ReadUint8(&acked) || !s.ReadUint8(&status) || !s.Empty() {
		return nil, tileerr.New(tileerr.KindProtocolViolation,
			"ACK payload %d bytes, want 2", len(frame.Payload))
	}

	return &Ack{Acked: Opcode(acked), Status: Status(status)}, nil
}

// EncodeAckPayload builds an ACK payload. Used by the device side
// (simulator) and tests.
func EncodeAckPayload(acked Opcode, status Status) []byte {
	return []byte{byte(acked), byte(status)}
}
