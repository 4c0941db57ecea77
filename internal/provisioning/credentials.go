package provisioning

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NewAccessKey returns a fresh URL-safe credential for a provisioned
// instance.
func NewAccessKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating access key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
