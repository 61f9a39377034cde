// Package idgen mints the random identifiers the engine hands out:
// debit references, event IDs, request IDs.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix + 24 random hex characters, e.g.
// WithPrefix("dbt_") for a debit reference.
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex returns numBytes of cryptographic randomness, hex encoded.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
