package toa

// Opcode identifies a TOA frame type.
type Opcode uint8

// TOA opcodes fixed by the Tile hardware protocol.
const (
	// OpAck acknowledges a command frame. Payload: acked opcode + status.
	OpAck Opcode = 0x01

	// OpRing starts the tile's sounder. Payload: volume + duration and an
	// optional song ID.
	OpRing Opcode = 0x05

	// OpSetVolume changes the sounder volume. Payload: volume.
	OpSetVolume Opcode = 0x06

	// OpStop silences the sounder. Empty payload.
	OpStop Opcode = 0x07

	// OpOpenChannel requests the signed channel after nonce exchange.
	// Empty payload, counter 0, signed with the freshly derived key.
	OpOpenChannel Opcode = 0x12

	// OpReady is the tile's signed answer to a successful channel open.
	OpReady Opcode = 0x13

	// OpError reports a protocol error from the tile. Payload: status.
	OpError Opcode = 0xFF
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpAck:
		return "ACK"
	case OpRing:
		return "RING"
	case OpSetVolume:
		return "SET_VOLUME"
	case OpStop:
		return "STOP"
	case OpOpenChannel:
		return "OPEN_CHANNEL"
	case OpReady:
		return "READY"
	case OpError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Status is a response status code carried in ACK and ERROR payloads.
type Status uint8

const (
	// StatusSuccess indicates the command was accepted.
	StatusSuccess Status = 0

	// StatusInvalidCommand indicates the tile does not know the opcode.
	StatusInvalidCommand Status = 1

	// StatusNotAuthorized indicates the tile rejected the channel open.
	StatusNotAuthorized Status = 2

	// StatusBusy indicates the tile cannot process the command right now.
	StatusBusy Status = 3
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidCommand:
		return "INVALID_COMMAND"
	case StatusNotAuthorized:
		return "NOT_AUTHORIZED"
	case StatusBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess reports whether the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}
