package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID uniquely identifies the session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates data flow relative to this host.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// TileID is the tile identifier, when known.
	TileID string `cbor:"6,keyasint,omitempty"`

	// Address is the tile's physical address, when resolved.
	Address string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"8,keyasint,omitempty"`  // characteristic I/O
	StateChange *StateChangeEvent `cbor:"9,keyasint,omitempty"`  // handshake/session state
	Error       *ErrorEventData   `cbor:"10,keyasint,omitempty"` // errors at any layer
}

// Direction indicates the direction of data flow.
type Direction uint8

const (
	// DirectionIn indicates data received from the tile.
	DirectionIn Direction = 0
	// DirectionOut indicates data sent to the tile.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the GATT characteristic layer (raw bytes).
	LayerTransport Layer = 0
	// LayerProtocol is the handshake and signed-frame layer.
	LayerProtocol Layer = 1
	// LayerSession is the orchestration layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerProtocol:
		return "PROTOCOL"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates characteristic I/O (read/write/notification).
	CategoryFrame Category = 0
	// CategoryState indicates a handshake or session state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MaxLogFrameDataSize is the maximum frame data size to include in events.
// Larger values are truncated to avoid excessive memory usage.
const MaxLogFrameDataSize = 512

// FrameEvent captures raw characteristic I/O at the transport layer.
type FrameEvent struct {
	// Characteristic is the GATT characteristic UUID.
	Characteristic string `cbor:"1,keyasint"`

	// Size is the value size in bytes.
	Size int `cbor:"2,keyasint"`

	// Data is the raw bytes (may be truncated for large values).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// NewFrameEvent builds a FrameEvent, truncating oversized data.
func NewFrameEvent(characteristic string, data []byte) *FrameEvent {
	ev := &FrameEvent{
		Characteristic: characteristic,
		Size:           len(data),
		Data:           data,
	}
	if len(data) > MaxLogFrameDataSize {
		ev.Data = data[:MaxLogFrameDataSize]
		ev.Truncated = true
	}
	return ev
}

// StateChangeEvent captures handshake and session lifecycle transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a transport connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityHandshake indicates a handshake phase transition.
	StateEntityHandshake StateEntity = 1
	// StateEntitySession indicates a session lifecycle change.
	StateEntitySession StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityHandshake:
		return "HANDSHAKE"
	case StateEntitySession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Kind is the classified error kind name.
	Kind string `cbor:"2,keyasint,omitempty"`

	// Message is the error message.
	Message string `cbor:"3,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
