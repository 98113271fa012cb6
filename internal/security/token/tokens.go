package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
// nBytes >= 16 garantiza los 128 bits de entropía que exigen los tokens efímeros.
func GenerateOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateVerifier genera un code_verifier PKCE (43 chars base64url).
func GenerateVerifier() (string, error) {
	return GenerateOpaqueToken(32)
}

// S256Challenge calcula el code_challenge S256 de un verifier:
// base64url(SHA-256(verifier)) sin padding.
func S256Challenge(verifier string) string {
	return SHA256Base64URL(verifier)
}

// VerifyS256 compara el challenge almacenado contra S256(verifier).
// Ambos son strings opacos; la comparación exacta alcanza (el code ya es single-use).
func VerifyS256(verifier, challenge string) bool {
	return S256Challenge(verifier) == challenge
}

// SHA256Base64URL devuelve sha256(input) en base64url sin padding (para guardar en DB/cache).
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SHA256Hex devuelve sha256(input) en hexadecimal.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}
