package realtime

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRandomHex returns 2*nBytes hex chars read from crypto/rand (16 bytes when nBytes <= 0).
// Long-poll session tokens are built from it: they are capabilities and must not be guessable.
func NewRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	// crypto/rand.Read does not fail on supported platforms (Go >= 1.24).
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
