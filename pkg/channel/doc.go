// Package channel implements the signed command channel of an
// authenticated tile session.
//
// A Channel wraps the GATT connection and session key produced by a
// completed handshake and exposes the tile's commands (ring, set volume,
// stop). Every outgoing frame is signed with the session key and carries a
// monotonically increasing sequence counter; every incoming frame's tag is
// verified before the payload is looked at.
//
// The counter increments when a command is sent, not when it is
// acknowledged. A lost acknowledgement is handled by re-sending the
// identical frame with the identical counter a bounded number of times,
// which the tile treats as idempotent. A tag mismatch on any incoming
// frame permanently invalidates the channel; the caller must run a fresh
// handshake to continue.
package channel
