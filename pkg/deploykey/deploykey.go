package deploykey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Suffix is appended to every generated key so the public locator doubles
// as a script filename for executor clients.
const Suffix = ".lua"

const randomBytes = 16

var keyPattern = regexp.MustCompile(`^[0-9a-f]{32}\.lua$`)

// New returns a fresh deploy key: 128 bits from crypto/rand, hex-encoded,
// plus Suffix. Uniqueness relies on the randomness alone; the deploy_key
// unique index is the backstop for the collision that never happens.
func New() (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("deploykey: read random: %w", err)
	}
	return hex.EncodeToString(buf) + Suffix, nil
}

// Valid reports whether s has the shape of a generated deploy key.
func Valid(s string) bool {
	return keyPattern.MatchString(s)
}

// StoragePath derives the owner-partitioned object key for a deploy key.
// The first 8 characters of the owner ID spread owners across prefixes
// without leaking the full identifier in public URLs.
func StoragePath(ownerID, key string) string {
	owner := ownerID
	if len(owner) > 8 {
		owner = owner[:8]
	}
	return fmt.Sprintf("deployments/%s/%s", owner, key)
}
