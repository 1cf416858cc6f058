// Package pii seals the personally identifiable fields of an account for
// storage. Each field is encrypted independently and base64 encoded.
package pii

import (
	"encoding/base64"
	"fmt"

	"larder.org/internal/cryptox"
)

// Info is the plaintext form. A nil Phone means the account has no phone
// number; it is stored as NULL and never passed through the cipher.
type Info struct {
	FirstName string
	LastName  string
	Email     string
	Phone     *string
}

// Sealed is the at-rest form: base64(nonce||ciphertext||tag) per field.
type Sealed struct {
	FirstName string
	LastName  string
	Email     string
	Phone     *string
}

// EncryptInfo seals every non-nil field of info under key.
func EncryptInfo(info Info, key []byte) (Sealed, error) {
	var (
		out Sealed
		err error
	)
	if out.FirstName, err = seal(info.FirstName, key); err != nil {
		return Sealed{}, fmt.Errorf("pii: first name: %w", err)
	}
	if out.LastName, err = seal(info.LastName, key); err != nil {
		return Sealed{}, fmt.Errorf("pii: last name: %w", err)
	}
	if out.Email, err = seal(info.Email, key); err != nil {
		return Sealed{}, fmt.Errorf("pii: email: %w", err)
	}
	if info.Phone != nil {
		p, err := seal(*info.Phone, key)
		if err != nil {
			return Sealed{}, fmt.Errorf("pii: phone: %w", err)
		}
		out.Phone = &p
	}
	return out, nil
}

// DecryptInfo is the exact inverse of EncryptInfo.
func DecryptInfo(s Sealed, key []byte) (Info, error) {
	var (
		out Info
		err error
	)
	if out.FirstName, err = open(s.FirstName, key); err != nil {
		return Info{}, fmt.Errorf("pii: first name: %w", err)
	}
	if out.LastName, err = open(s.LastName, key); err != nil {
		return Info{}, fmt.Errorf("pii: last name: %w", err)
	}
	if out.Email, err = open(s.Email, key); err != nil {
		return Info{}, fmt.Errorf("pii: email: %w", err)
	}
	if s.Phone != nil {
		p, err := open(*s.Phone, key)
		if err != nil {
			return Info{}, fmt.Errorf("pii: phone: %w", err)
		}
		out.Phone = &p
	}
	return out, nil
}

func seal(v string, key []byte) (string, error) {
	ct, err := cryptox.Encrypt([]byte(v), key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

func open(v string, key []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", cryptox.ErrAuthentication
	}
	pt, err := cryptox.Decrypt(raw, key)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
