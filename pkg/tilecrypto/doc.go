// Package tilecrypto provides the cryptographic primitives for the Tile
// authentication protocol: nonce generation, HMAC-SHA256 tagging, and
// per-session key derivation.
//
// The session key is derived as HMAC-SHA256(device_secret, rand_a ‖ rand_t).
// This follows the vendor's reverse-engineered scheme bit-exactly; it is not
// interchangeable with a standard KDF. A fresh key per session protects
// against cross-session replay. Forward secrecy is not claimed: compromise
// of the long-term secret compromises past sessions.
//
// SessionKey holds its material in an owned buffer and is scrubbed with
// Zero at session end to limit the exposure window of key material.
package tilecrypto
