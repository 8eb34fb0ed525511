package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const tokenRandomBytes = 32

// GenerateToken produces an unguessable attendance token bound to a
// session. The value is opaque to every caller: validation is a plain
// equality check against the token stored on the session row, so nothing
// ever decodes it back.
func GenerateToken(sessionID string) (string, error) {
	buf := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return fmt.Sprintf("attendance://%s/%s", sessionID, base64.RawURLEncoding.EncodeToString(buf)), nil
}
