// Package privacy derives stable pseudonyms for identifiers that must not
// appear in logs or audit trails in the clear.
package privacy

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Hasher produces keyed BLAKE2b-256 digests. The key keeps digests of
// low-entropy identifiers (document numbers) from being reversed by
// enumeration.
type Hasher struct {
	key []byte
}

// NewHasher truncates keys longer than blake2b.Size.
func NewHasher(key []byte) *Hasher {
	if len(key) > blake2b.Size {
		key = key[:blake2b.Size]
	}
	return &Hasher{key: append([]byte(nil), key...)}
}

// HashIdentifier returns the hex digest of the normalized value, or "" for
// an empty value.
func (h *Hasher) HashIdentifier(value string) string {
	value = normalize(value)
	if value == "" {
		return ""
	}
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// Only reachable with an oversized key, which NewHasher prevents.
		return ""
	}
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func normalize(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	return strings.Join(strings.FieldsFunc(v, func(r rune) bool {
		return r == ' ' || r == '-'
	}), "")
}

// Mask keeps the last four characters of an identifier for display.
func Mask(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}
