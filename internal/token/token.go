// Package token generates the confirmation and unsubscribe tokens embedded
// in subscriber-facing links. Tokens are the only credential for those
// flows, so they carry 128 bits of entropy and are safe in a URL path
// segment. Uniqueness is enforced by the store's unique indexes, not here.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

const tokenBytes = 16

var tokenPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// New returns a fresh random token: 32 lowercase hex characters.
func New() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the platform entropy source is broken;
		// nothing sensible to return.
		panic("token: entropy source unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Valid reports whether s has the shape of a token issued by New.
// Used to reject junk path segments before touching the store.
func Valid(s string) bool {
	return tokenPattern.MatchString(s)
}
