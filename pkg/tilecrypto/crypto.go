package tilecrypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/tile-protocol/tile-go/pkg/tileerr"
)

// Protocol constants.
const (
	// NonceSize is the size of RandA and RandT in bytes.
	NonceSize = 16

	// TagSize is the size of an HMAC-SHA256 tag in bytes.
	TagSize = 32

	// SessionKeySize is the size of a derived session key in bytes.
	SessionKeySize = 32
)

// RandomBytes returns n cryptographically strong random bytes.
// Failure is fatal for the current session (CRYPTO_UNAVAILABLE).
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, tileerr.Wrap(tileerr.KindCryptoUnavailable, err, "random source unavailable")
	}
	return buf, nil
}

// NewNonce returns a fresh random nonce of NonceSize bytes.
func NewNonce() ([]byte, error) {
	return RandomBytes(NonceSize)
}

// HMACSHA256 computes the HMAC-SHA256 tag of message under key.
func HMACSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// VerifyHMAC reports whether tag is the correct HMAC-SHA256 tag for message
// under key, in constant time.
func VerifyHMAC(key, message, tag []byte) bool {
	return hmac.Equal(HMACSHA256(key, message), tag)
}

// DeriveSessionKey derives the per-session key from the tile's long-term
// secret and both handshake nonces:
//
//	session_key = HMAC-SHA256(device_secret, rand_a ‖ rand_t)
//
// The derivation order matches the vendor scheme exactly; changing it
// breaks interoperability with real hardware. The caller owns the returned
// key and must call Zero when the session ends.
func DeriveSessionKey(deviceSecret, randA, randT []byte) (*SessionKey, error) {
	if len(deviceSecret) == 0 {
		return nil, tileerr.New(tileerr.KindNoSecret, "empty device secret")
	}
	if len(randA) != NonceSize || len(randT) != NonceSize {
		return nil, tileerr.New(tileerr.KindProtocolViolation,
			"nonce length %d/%d, want %d", len(randA), len(randT), NonceSize)
	}

	mac := hmac.New(sha256.New, deviceSecret)
	mac.Write(randA)
	mac.Write(randT)

	return &SessionKey{key: mac.Sum(nil)}, nil
}

// SessionKey is an ephemeral per-session signing key held in an owned
// buffer so it can be scrubbed at session end rather than waiting for the
// garbage collector.
type SessionKey struct {
	key []byte
}

// Sign computes the HMAC-SHA256 tag of message under the session key.
// Returns nil after Zero has been called.
func (k *SessionKey) Sign(message []byte) []byte {
	if len(k.key) == 0 {
		return nil
	}
	return HMACSHA256(k.key, message)
}

// Verify reports whether tag is valid for message under the session key.
// Always false after Zero has been called.
func (k *SessionKey) Verify(message, tag []byte) bool {
	if len(k.key) == 0 {
		return false
	}
	return VerifyHMAC(k.key, message, tag)
}

// Valid reports whether the key still holds usable material.
func (k *SessionKey) Valid() bool {
	return k != nil && len(k.key) > 0
}

// Zero overwrites the key material and invalidates the key. Safe to call
// more than once.
func (k *SessionKey) Zero() {
	for i := range k.key {
		k.key[i] = 0
	}
	k.key = nil
}
