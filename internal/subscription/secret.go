package subscription

import (
	"crypto/rand"
	"encoding/base64"
)

const secretBytes = 32 // 256-bit

// NewSecret generates a signing secret from a cryptographically secure
// random source.
func NewSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// MaskSecret returns the display form of a secret: the first 8 characters
// followed by an ellipsis. The full value is only ever shown at creation
// or rotation.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return secret
	}
	return secret[:8] + "..."
}
