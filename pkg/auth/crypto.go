// Package auth covers token minting and verification, password hashing,
// and at-rest encryption of platform credentials.
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// TokenVault encrypts and decrypts platform tokens with AES-256-GCM.
// The cipher key is the SHA-256 of the configured encryption key, so any
// passphrase length is accepted. Ciphertext layout: base64(nonce || sealed).
type TokenVault struct {
	aead cipher.AEAD
}

// NewTokenVault derives the AES key from the configured secret.
func NewTokenVault(encryptionKey string) (*TokenVault, error) {
	if encryptionKey == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key := sha256.Sum256([]byte(encryptionKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &TokenVault{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce. Repeated calls on the
// same plaintext yield different ciphertexts.
func (v *TokenVault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (v *TokenVault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
