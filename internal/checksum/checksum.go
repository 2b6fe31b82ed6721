// Package checksum computes the content digests used for change detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// String is Sum for note bodies held as strings.
func String(s string) string {
	return Sum([]byte(s))
}

// Short truncates a digest for log output.
func Short(sum string) string {
	if len(sum) <= 8 {
		return sum
	}
	return sum[:8]
}
