// Package toa implements the Tile Over-the-Air wire layer: signed command
// frames, the TDI device-info layout, and ring command parameters.
//
// # Frame format
//
// Every post-handshake frame is:
//
//	opcode (1) ‖ payload ‖ counter (4, big-endian) ‖ tag (32)
//
// The tag is HMAC-SHA256 over opcode ‖ payload ‖ counter under the derived
// session key. The counter is monotonic per session and prevents replay;
// frames are never persisted.
//
// Byte layouts here are fixed by the physical device and must match
// exactly. They are parsed with cryptobyte so truncated or trailing bytes
// are rejected rather than silently ignored.
package toa
