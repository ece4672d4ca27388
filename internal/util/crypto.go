package util

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
)

const (
	idBytes    = 16
	tokenBytes = 32
)

// NewID returns a random 128-bit identifier as lowercase hex. Used for portal
// ids and per-session job (correlation) ids.
func NewID() string {
	bytes := make([]byte, idBytes)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)
}

// GenerateToken returns a 256-bit secret for authenticating portal clients.
func GenerateToken() (string, error) {
	bytes := make([]byte, tokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
