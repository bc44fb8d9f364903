// Package session orchestrates complete tile sessions: discovery through
// the address cache, connection, the authentication handshake, the signed
// command, and teardown.
//
// All radio work is serialized through a single-slot gate because BLE
// radios handle one scan or connection at a time; callers queue on the
// gate with their contexts. Retryable failures (transport I/O, timeouts)
// are reattempted a bounded number of times with jittered exponential
// backoff, each attempt restarting the handshake from scratch because
// nonces are single-use. Rejected authentication and tag mismatches are
// never retried. Repeated failures against one tile open that tile's
// circuit breaker so host polling cannot hammer the radio.
package session
