// Package tileerr defines the closed set of error kinds used across the
// tile-go protocol stack.
//
// Each failure is classified by a Kind whose retryability is a property of
// the kind itself: the session orchestrator's retry loop consults
// Kind.Retryable rather than inspecting individual call sites. Transient
// I/O failures (HANDSHAKE_IO, TIMEOUT) are retryable; AUTH_REJECTED and
// TAG_MISMATCH are surfaced immediately because retrying a wrong secret or
// a corrupted peer cannot succeed.
//
// CACHE_MISS is mostly an internal signal between the discovery cache and
// the orchestrator; it reaches the host integration only when a tile cannot
// be found even by a fresh scan.
package tileerr
