package security

import (
	"crypto/rand"
	"encoding/hex"
)

// tokenBytes gives 256 bits of entropy per token.
const tokenBytes = 32

// RandomToken returns a hex-encoded token suitable for one-shot email
// verification and password-reset links.
func RandomToken() (string, error) {
	b := make([]byte, tokenBytes)

	_, err := rand.Read(b)

	if err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
