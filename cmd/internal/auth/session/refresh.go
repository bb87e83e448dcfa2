package session

import (
	"crypto/rand"
	"encoding/base64"
)

// ValueGenerator produces candidate refresh values.
type ValueGenerator interface {
	NewValue() (string, error)
}

// ValueGeneratorFunc adapts a function to ValueGenerator.
type ValueGeneratorFunc func() (string, error)

// NewValue returns f().
func (f ValueGeneratorFunc) NewValue() (string, error) { return f() }

// RandomValues returns a generator of opaque values backed by nBytes of crypto/rand entropy.
func RandomValues(nBytes int) ValueGenerator {
	return ValueGeneratorFunc(func() (string, error) {
		return newOpaqueRefreshToken(nBytes)
	})
}

func newOpaqueRefreshToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// URL-safe, no padding.
	return base64.RawURLEncoding.EncodeToString(b), nil
}
