// Package idgen generates component and upload identifiers.
package idgen

import (
	"crypto/rand"
	"regexp"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs (time sortable).
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// NanoID returns a Generator of base-36 ids of the given length.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i, b := range buf {
			buf[i] = alphabet[int(b)%len(alphabet)]
		}
		return string(buf)
	}
}

// Prefixed prepends prefix to every id gen produces.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Component is the default generator for component ids.
var Component Generator = Prefixed("cmp_", UUIDv7())

// Upload names stored upload files.
var Upload Generator = NanoID(24)

// Trace tags HTTP requests.
var Trace Generator = NanoID(16)

var validID = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// Valid reports whether id is acceptable as a component id: 1 to 128
// characters from letters, digits and "_.:-".
func Valid(id string) bool {
	return validID.MatchString(id)
}
