package publish

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
)

// NormalizeField strips every whitespace rune from v.
func NormalizeField(v string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, v)
}

// Fingerprint derives the dedup identity of a listing from its district, room/floor
// triple and phone. Incidental whitespace does not change the result. Each field is
// length-prefixed so no two field splits hash the same key.
func Fingerprint(kvartil, xet, tell string) string {
	var key strings.Builder
	for _, field := range []string{kvartil, xet, tell} {
		v := NormalizeField(field)
		key.WriteString(strconv.Itoa(len(v)))
		key.WriteByte(':')
		key.WriteString(v)
	}
	sum := sha256.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:])
}
