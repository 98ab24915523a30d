package reference

import (
	"encoding/base32"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const DefaultPrefix = "PAY"

var (
	prefixPattern = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)
	encoding      = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// Generate mints PREFIX-XXXXXXXXXXXXXXXXXXXXXXXXXX, the suffix being the
// 16 bytes of a random v4 UUID in unpadded RFC 4648 base32 (26 chars).
// Uniqueness is enforced by the ledger's constraint, not here.
func Generate(prefix string) string {
	id := uuid.New()
	return NormalizePrefix(prefix) + "-" + encoding.EncodeToString(id[:])
}

// NormalizePrefix upper-cases prefix and falls back to DefaultPrefix when the
// result is not 1-10 ASCII letters or digits.
func NormalizePrefix(prefix string) string {
	p := strings.ToUpper(strings.TrimSpace(prefix))
	if !prefixPattern.MatchString(p) {
		return DefaultPrefix
	}
	return p
}

// ValidPrefix reports whether prefix is usable as given (after upper-casing).
func ValidPrefix(prefix string) bool {
	return prefix == "" || prefixPattern.MatchString(strings.ToUpper(strings.TrimSpace(prefix)))
}
