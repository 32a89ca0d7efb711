package utils

import (
	"crypto/rand" // secure random number generation
	"encoding/hex"
)

// NewSessionToken returns the opaque credential issued at session
// creation: 32 bytes of cryptographically secure random data encoded as
// a 64 character hex string.  The token is the sole proof of session
// ownership for pause, resume and restore.
func NewSessionToken() (string, error) {
	return randomHex(32)
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
