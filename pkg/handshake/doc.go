// Package handshake implements the four-phase Tile authentication
// handshake over an open BLE connection.
//
// # Phases
//
//  1. Idle -> InfoRetrieved: read and parse the TDI characteristic.
//  2. InfoRetrieved -> NonceExchanged: write RandA, await RandT.
//  3. NonceExchanged -> ChannelOpen: derive the session key from the
//     long-term secret and both nonces, send a signed channel-open.
//  4. ChannelOpen -> Authenticated: the session is ready for commands.
//
// Transitions are strictly forward. Any failure lands in the terminal
// FAILED phase, scrubs all key material, and requires a fresh session:
// nonces are single-use, so a retried handshake never reuses RandA or
// RandT. The derived session key exists if and only if the phase reached
// channel open.
//
// An unacknowledged channel open is reported as AUTH_REJECTED rather than
// an I/O failure: it is the signature of a stale long-term secret, and the
// host integration should prompt for a credential re-sync instead of
// retrying.
package handshake
