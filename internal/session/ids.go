package session

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// NewID returns a fresh 8-hex session id.
func NewID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// ValidID reports whether s is a well-formed session id.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// ShortID returns the first 7 characters of an id, matching the short form
// used in message headers.
func ShortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
