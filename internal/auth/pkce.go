package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PkceChallenge carries the verifier/challenge pair for one authorization
// attempt. The verifier is secret until the token exchange; only the
// challenge appears in the authorization URL.
type PkceChallenge struct {
	Verifier  string
	Challenge string
	Method    string
}

// GeneratePkce returns a fresh S256 verifier/challenge pair. 32 random
// bytes encode to a 43-character verifier, the RFC 7636 minimum.
func GeneratePkce() (*PkceChallenge, error) {
	verifier, err := secureRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate pkce verifier: %w", err)
	}
	return &PkceChallenge{
		Verifier:  verifier,
		Challenge: pkceChallenge(verifier),
		Method:    "S256",
	}, nil
}

func secureRandomString(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
