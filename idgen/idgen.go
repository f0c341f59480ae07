// Package idgen generates identifiers for build runs and preview requests.
// Callers take a Generator so tests can pin the sequence.
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator of base-36 IDs of the given length. Short and
// URL-safe; used for request IDs that never leave one process.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs. They sort by
// creation time, so build runs list in order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed prefix ("bld_", "req_") to every ID of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a deterministic Generator yielding prefix1, prefix2, ...
// It is not safe for concurrent use and exists for tests.
func Sequence(prefix string) Generator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

// Default generates build IDs.
var Default Generator = Prefixed("bld_", UUIDv7())

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// ParseBuildID validates an ID produced by Default and returns its canonical
// form.
func ParseBuildID(s string) (string, error) {
	rest, ok := strings.CutPrefix(s, "bld_")
	if !ok {
		return "", fmt.Errorf("invalid build ID %q: missing bld_ prefix", s)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return "", fmt.Errorf("invalid build ID %q: %w", s, err)
	}
	return "bld_" + u.String(), nil
}
