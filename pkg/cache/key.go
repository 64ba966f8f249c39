package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Key addresses a cached answer: the normalized prompt plus a fingerprint
// of the context window it was generated against.
type Key struct {
	Prompt      string
	Fingerprint string
}

// NewKey normalizes prompt and fingerprints the context parts. The same
// question asked against a different window yields a different key.
func NewKey(prompt string, context ...string) Key {
	return Key{
		Prompt:      Normalize(prompt),
		Fingerprint: Fingerprint(context...),
	}
}

func (k Key) String() string {
	return k.Fingerprint + ":" + k.Prompt
}

// Normalize folds case, drops punctuation and symbols, and collapses runs
// of whitespace so that trivially different phrasings share a key.
func Normalize(prompt string) string {
	var sb strings.Builder
	sb.Grow(len(prompt))

	space := false
	for _, r := range prompt {
		switch {
		case unicode.IsSpace(r):
			space = sb.Len() > 0
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		default:
			if space {
				sb.WriteByte(' ')
				space = false
			}
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	return sb.String()
}

// Fingerprint hashes the ordered context parts. An empty context has a
// stable fingerprint of its own.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
