// Package secrets holds the credential-at-rest encryption capability.
// Decrypted values are short-lived, scoped to the call that needed
// them, and never cached or logged.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"chathub/internal/domain"
)

// Decryptor turns a stored ciphertext into an in-memory plaintext.
// Failures surface as domain.ErrCredential and are never defaulted.
type Decryptor interface {
	Decrypt(ciphertext string) (string, error)
}

// Encryptor is the inverse capability, used by tooling that seeds
// config files.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
}

// Box is an AES-256-GCM implementation keyed by a single master key.
// Ciphertexts are base64(nonce || sealed).
type Box struct {
	aead cipher.AEAD
}

// NewBox builds a box from a base64-encoded 32-byte master key.
func NewBox(masterKeyB64 string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

func (b *Box) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: not base64", domain.ErrCredential)
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrCredential)
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCredential, err)
	}
	return string(plain), nil
}
