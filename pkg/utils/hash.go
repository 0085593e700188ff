package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashText returns the SHA-256 of the text truncated to 16 hex characters,
// the fingerprint format used for scene and index content throughout.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}
