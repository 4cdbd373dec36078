package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SanitizeText strips invalid UTF-8 and NUL bytes so the value is safe for
// Postgres text columns and tsquery input.
func SanitizeText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// ContentHash returns a stable hex digest of the concatenated parts,
// used as a cache key.
func ContentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
