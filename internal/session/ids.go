package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// randomHex returns a random hex string encoding n random bytes.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generating random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
