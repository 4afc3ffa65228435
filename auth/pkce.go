package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ChallengeMethodS256 is the only code_challenge_method the suite uses.
const ChallengeMethodS256 = "S256"

const verifierEntropyBytes = 32

// GenerateVerifier returns a fresh PKCE code verifier: 32 bytes of
// cryptographic randomness, base64url-encoded without padding. The verifier
// never leaves the client; only its challenge is sent to the IdP.
func GenerateVerifier() (string, error) {
	return randomToken()
}

// GenerateState returns a fresh state value for CSRF binding between login
// initiation and the callback. Same construction as the verifier, but an
// independent value.
func GenerateState() (string, error) {
	return randomToken()
}

// GenerateChallenge derives the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)), unpadded. Deterministic for a given
// verifier.
func GenerateChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomToken() (string, error) {
	buf := make([]byte, verifierEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		// No fallback: weak randomness here would defeat PKCE entirely.
		return "", fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
