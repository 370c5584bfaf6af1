package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// hashSecret digests a token secret for at-rest storage. Only the hash is
// persisted and authentication compares hashes, so a database leak never
// exposes a usable token. Whitespace is stripped first so a secret pasted
// with a trailing newline still authenticates.
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	return hex.EncodeToString(sum[:])
}
