// Package util holds small shared helpers.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 32-char hex identifier, optionally prefixed
// ("file_..", "usr_.."). Prefixes make log lines and foreign keys legible.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
