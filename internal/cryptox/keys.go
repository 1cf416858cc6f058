package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	cipherKeyInfo = "larder/pii-cipher/v1"
	indexKeyInfo  = "larder/email-index/v1"
)

// Keys holds the sub-keys derived from the master encryption key.
type Keys struct {
	// Cipher encrypts personally identifiable fields.
	Cipher []byte
	// Index keys the deterministic email lookup digest.
	Index []byte
}

// DeriveKeys expands the 32-byte master key into independent cipher and
// index keys with HKDF-SHA256.
func DeriveKeys(master []byte) (Keys, error) {
	if len(master) != KeySize {
		return Keys{}, ErrInvalidKey
	}
	c, err := expand(master, cipherKeyInfo)
	if err != nil {
		return Keys{}, err
	}
	i, err := expand(master, indexKeyInfo)
	if err != nil {
		return Keys{}, err
	}
	return Keys{Cipher: c, Index: i}, nil
}

func expand(master []byte, info string) ([]byte, error) {
	out := make([]byte, KeySize)
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("cryptox: derive %s: %w", info, err)
	}
	return out, nil
}

// NormalizeEmail trims and lower-cases an address before indexing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailIndex returns the hex HMAC-SHA256 of the normalised email.
// The value is stable for a given key, which makes it usable as a unique
// indexed column while the address itself stays encrypted.
func EmailIndex(email string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(mac.Sum(nil))
}
