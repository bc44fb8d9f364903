package tileerr

import (
	"errors"
	"fmt"
)

// Kind classifies a protocol failure. Retryability is a property of the
// kind itself so retry loops need no per-call-site special casing.
type Kind uint8

const (
	// KindUnknown marks an error that carries no classification.
	KindUnknown Kind = iota

	// KindCryptoUnavailable indicates a crypto primitive failed (e.g. the
	// system RNG is unavailable). Fatal for the current session.
	KindCryptoUnavailable

	// KindNoSecret indicates no long-term secret is known for the tile.
	// The host must re-sync credentials before another attempt.
	KindNoSecret

	// KindHandshakeIO indicates a transport-level failure during the
	// handshake (read/write timeout, dropped notification).
	KindHandshakeIO

	// KindProtocolViolation indicates malformed peer data (wrong nonce
	// length, unparseable device info).
	KindProtocolViolation

	// KindAuthRejected indicates the tile refused the channel open,
	// typically because the long-term secret is stale.
	KindAuthRejected

	// KindTagMismatch indicates an HMAC verification failure on an
	// incoming frame. Integrity failure; the session must be torn down.
	KindTagMismatch

	// KindNotAuthenticated indicates a command was issued before the
	// handshake reached the authenticated phase. Caller ordering bug.
	KindNotAuthenticated

	// KindInvalidParameter indicates caller input was rejected before any
	// transport I/O occurred.
	KindInvalidParameter

	// KindCacheMiss indicates a cache entry is absent or expired. Mostly
	// an internal signal; it surfaces only when a tile cannot be found
	// even by a fresh scan.
	KindCacheMiss

	// KindTimeout indicates a bounded operation exceeded its deadline.
	KindTimeout
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCryptoUnavailable:
		return "CRYPTO_UNAVAILABLE"
	case KindNoSecret:
		return "NO_SECRET"
	case KindHandshakeIO:
		return "HANDSHAKE_IO"
	case KindProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case KindAuthRejected:
		return "AUTH_REJECTED"
	case KindTagMismatch:
		return "TAG_MISMATCH"
	case KindNotAuthenticated:
		return "NOT_AUTHENTICATED"
	case KindInvalidParameter:
		return "INVALID_PARAMETER"
	case KindCacheMiss:
		return "CACHE_MISS"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether a session attempt failing with this kind may be
// retried automatically. AuthRejected and TagMismatch are never retried:
// they indicate a wrong secret or a corrupted/hostile peer.
func (k Kind) Retryable() bool {
	switch k {
	case KindHandshakeIO, KindTimeout:
		return true
	default:
		return false
	}
}

// Error is a classified protocol error. It carries the kind, a
// human-readable detail message, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. This makes
// errors.Is(err, &Error{Kind: k}) usable for kind matching.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a classified error with a formatted detail message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain. Returns KindUnknown if the
// chain contains no *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the error chain permits an automatic retry.
// Errors without a kind are treated as non-retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.Retryable()
	}
	return false
}
