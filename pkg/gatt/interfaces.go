package gatt

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Connection is an open BLE link to a single tile. Implementations are
// supplied by the host integration's Bluetooth stack; this core only drives
// an already-open connection. All blocking operations honor the context.
type Connection interface {
	// ReadCharacteristic reads the current value of a characteristic.
	ReadCharacteristic(ctx context.Context, char string) ([]byte, error)

	// WriteCharacteristic writes a value to a characteristic and waits
	// for the link-layer acknowledgement.
	WriteCharacteristic(ctx context.Context, char string, data []byte) error

	// Subscribe enables notifications on a characteristic. The returned
	// channel is closed when the connection closes.
	Subscribe(ctx context.Context, char string) (<-chan []byte, error)

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Connector opens connections to discovered addresses.
type Connector interface {
	// Connect opens a connection to the tile at the given physical
	// address, bounded by the context deadline.
	Connect(ctx context.Context, address string) (Connection, error)
}

// Advertisement is one discovered tile from a BLE scan.
type Advertisement struct {
	// TileUUID identifies the tile across sessions.
	TileUUID uuid.UUID

	// Address is the physical (MAC) address observed in this scan.
	Address string

	// RSSI is the received signal strength in dBm.
	RSSI int
}

// Scanner executes BLE scans. Scan execution and advertisement delivery
// belong to the host platform; this core invokes it only on a discovery
// cache miss.
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration) ([]Advertisement, error)
}

// SecretStore supplies each tile's long-term authentication secret,
// sourced from prior cloud synchronization.
type SecretStore interface {
	// DeviceSecret returns the long-term secret for the tile. Absence is
	// a NO_SECRET error for that device.
	DeviceSecret(tileUUID uuid.UUID) ([]byte, error)
}
