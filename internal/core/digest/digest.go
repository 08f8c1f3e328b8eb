// Package digest computes content fingerprints for deployment descriptors.
// This is part of the Functional Core - Bytes is pure; File does a single read.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
)

// Bytes returns the SHA-256 hex digest of the given content.
// Identical bytes always produce the same digest.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// File returns the SHA-256 hex digest of the file at path.
// If the file cannot be read it returns the empty sentinel digest;
// callers must treat the sentinel as "change detected" so a missing
// descriptor always forces an update rather than silently matching.
func File(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return Bytes(b)
}

// Short returns the first 8 characters of a digest for log output.
func Short(d string) string {
	if len(d) <= 8 {
		return d
	}
	return d[:8]
}
