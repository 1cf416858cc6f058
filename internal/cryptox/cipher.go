// Package cryptox implements the authenticated symmetric cipher used for
// fields stored at rest, plus the keyed digest used to look those fields up.
//
// Ciphertexts are laid out as nonce (12 bytes) || ciphertext || tag (16 bytes).
// Every call to Encrypt draws a fresh random nonce, so encrypting the same
// plaintext twice under one key yields different bytes.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

const (
	// KeySize is the required key length (AES-256).
	KeySize = 32
	// NonceSize is the GCM nonce length prepended to every ciphertext.
	NonceSize = 12
	// TagSize is the GCM authentication tag length appended to every ciphertext.
	TagSize = 16
)

var (
	// ErrInvalidKey is returned when the key is not KeySize bytes.
	ErrInvalidKey = errors.New("cryptox: key must be 32 bytes")
	// ErrAuthentication is returned when a ciphertext fails tag verification:
	// wrong key, tampered payload, corrupted nonce or truncated input.
	ErrAuthentication = errors.New("cryptox: message authentication failed")
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithTagSize(block, TagSize)
}

// Encrypt seals plaintext under key and returns nonce || ciphertext || tag.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	// Seal appends ciphertext||tag after the nonce already in the buffer.
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt splits payload on the fixed nonce/tag offsets and opens it.
// Any verification failure is reported as ErrAuthentication; no partial
// plaintext is ever returned.
func Decrypt(payload, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(payload) < NonceSize+TagSize {
		return nil, ErrAuthentication
	}
	nonce, sealed := payload[:NonceSize], payload[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}
