// Package gatt defines the transport adapter boundary between the tile-go
// protocol stack and the host platform's Bluetooth subsystem, together with
// the GATT characteristic UUIDs fixed by the Tile hardware.
//
// The protocol stack never scans or pairs on its own: the host supplies a
// Scanner for discovery and a Connector for opened links, and tile-go
// drives reads, writes, and notifications over them. Tests use the
// in-memory implementations from internal/simulator.
package gatt
