// Package util carries the cross-cutting HTTP and logging helpers shared by
// the storefront packages.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random URL-safe hex identifier, used for build ids and
// request correlation.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
