package crypto

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

const (
	fallbackPrefix = "fb1:"
	fallbackSep    = "\x1f"
)

// encodeFallback is the development-only reversible encoding. It stores the
// secret next to the plaintext and offers no confidentiality.
func encodeFallback(plaintext, secret, ivHex string) string {
	joined := plaintext + fallbackSep + secret + fallbackSep + ivHex
	return fallbackPrefix + base64.StdEncoding.EncodeToString([]byte(joined))
}

func decodeFallback(payload, secret, ivHex string) (string, bool) {
	encoded, ok := strings.CutPrefix(payload, fallbackPrefix)
	if !ok {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	parts := strings.Split(string(raw), fallbackSep)
	if len(parts) != 3 {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(secret)) != 1 || parts[2] != ivHex {
		return "", false
	}
	return parts[0], true
}
