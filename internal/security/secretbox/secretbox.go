// Package secretbox cifra credenciales de proveedores at-rest con AES-256-GCM.
//
// Es el único esquema de cifrado del broker: la clave se inyecta por valor
// (nada de estado global de proceso) y una sola derivación documentada cubre
// passphrases que no sean una clave de 32 bytes.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	nonceSizeGCM      = 12  // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)

	// Derivación PBKDF2 para passphrases. Salt fijo y documentado: la clave
	// maestra es un secreto de deployment, no una password de usuario.
	kdfIterations = 100_000
	kdfSalt       = "toolgate/credential-box/v1"
)

var ErrCiphertextFormat = errors.New("secretbox: invalid ciphertext format")

// Box cifra y descifra strings con una clave AES-256 fija.
type Box struct {
	key []byte
}

// New construye un Box desde el material de clave configurado. Acepta, en orden:
// base64 estándar, base64 sin padding, hex (64 chars) o los 32 bytes crudos.
// Cualquier otro input se trata como passphrase y se deriva con PBKDF2-SHA256.
func New(keyMaterial string) (*Box, error) {
	keyMaterial = strings.TrimSpace(keyMaterial)
	if keyMaterial == "" {
		return nil, errors.New("secretbox: empty key material")
	}

	if b, err := base64.StdEncoding.DecodeString(keyMaterial); err == nil && len(b) == requiredKeyLength {
		return &Box{key: b}, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(keyMaterial); err == nil && len(b) == requiredKeyLength {
		return &Box{key: b}, nil
	}
	if len(keyMaterial) == 64 {
		if b, err := hex.DecodeString(keyMaterial); err == nil {
			return &Box{key: b}, nil
		}
	}
	if len(keyMaterial) == requiredKeyLength {
		return &Box{key: []byte(keyMaterial)}, nil
	}

	// Passphrase: derivar una clave de 32 bytes.
	k := pbkdf2.Key([]byte(keyMaterial), []byte(kdfSalt), kdfIterations, requiredKeyLength, sha256.New)
	return &Box{key: k}, nil
}

// Encrypt cifra plainText y devuelve base64(nonce)|base64(ciphertext).
func (b *Box) Encrypt(plainText string) (string, error) {
	aesgcm, err := b.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce random: %w", err)
	}

	ct := aesgcm.Seal(nil, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt revierte Encrypt. Un ciphertext manipulado falla la verificación GCM.
func (b *Box) Decrypt(cipherText string) (string, error) {
	parts := strings.SplitN(cipherText, sep, 2)
	if len(parts) != 2 {
		return "", ErrCiphertextFormat
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSizeGCM {
		return "", ErrCiphertextFormat
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrCiphertextFormat
	}

	aesgcm, err := b.aead()
	if err != nil {
		return "", err
	}
	pt, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("secretbox: open: %w", err)
	}
	return string(pt), nil
}

func (b *Box) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: aes.NewCipher: %w", err)
	}
	return cipher.NewGCM(block)
}
