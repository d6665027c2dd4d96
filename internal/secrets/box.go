// Package secrets seals provider credentials before they touch storage.
// Tokens and passwords are never persisted in the clear.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/stitchcal/stitch/internal/core"
)

// Box is an XChaCha20-Poly1305 AEAD over a single master key. Ciphertexts
// are nonce-prefixed, so each seal is independently decryptable.
type Box struct {
	aead cipher.AEAD
}

// NewBox builds a Box from a hex-encoded 32-byte master key.
func NewBox(hexKey string) (*Box, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a nonce-prefixed ciphertext.
func (b *Box) Open(blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return plaintext, nil
}

// SealCredentials serializes and seals a credential set.
func (b *Box) SealCredentials(creds core.Credentials) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}
	return b.Seal(plain)
}

// OpenCredentials reverses SealCredentials.
func (b *Box) OpenCredentials(blob []byte) (core.Credentials, error) {
	plain, err := b.Open(blob)
	if err != nil {
		return core.Credentials{}, err
	}
	var creds core.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return core.Credentials{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return creds, nil
}
