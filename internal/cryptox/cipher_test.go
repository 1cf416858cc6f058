package cryptox

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, s string) []byte {
	t.Helper()
	k, err := hex.DecodeString(s)
	require.NoError(t, err)
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t, "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")

	for _, msg := range [][]byte{
		[]byte("This is a secret message"),
		{},
		bytes.Repeat([]byte{0xff}, 4096),
	} {
		ct, err := Encrypt(msg, key)
		require.NoError(t, err)
		assert.Len(t, ct, NonceSize+len(msg)+TagSize)

		pt, err := Decrypt(ct, key)
		require.NoError(t, err)
		assert.Equal(t, msg, append([]byte{}, pt...))
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	key := testKey(t, "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	msg := []byte("This is a secret message")

	a, err := Encrypt(msg, key)
	require.NoError(t, err)
	b, err := Encrypt(msg, key)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a[:NonceSize], b[:NonceSize])
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key := testKey(t, "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	wrong := testKey(t, "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

	ct, err := Encrypt([]byte("This is a secret message"), key)
	require.NoError(t, err)

	pt, err := Decrypt(ct, wrong)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Nil(t, pt)
}

func TestDecryptRejectsTampering(t *testing.T) {
	key := testKey(t, "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	ct, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	cases := map[string]func([]byte) []byte{
		"nonce": func(b []byte) []byte { b[0] ^= 1; return b },
		"body":  func(b []byte) []byte { b[NonceSize] ^= 1; return b },
		"tag":   func(b []byte) []byte { b[len(b)-1] ^= 1; return b },
		"short": func(b []byte) []byte { return b[:NonceSize+TagSize-1] },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tampered := mutate(append([]byte{}, ct...))
			_, err := Decrypt(tampered, key)
			assert.ErrorIs(t, err, ErrAuthentication)
		})
	}
}

func TestInvalidKeyLength(t *testing.T) {
	_, err := Encrypt([]byte("x"), make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = Decrypt(make([]byte, 64), make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDeriveKeysAndEmailIndex(t *testing.T) {
	master := testKey(t, "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	keys, err := DeriveKeys(master)
	require.NoError(t, err)
	assert.Len(t, keys.Cipher, KeySize)
	assert.Len(t, keys.Index, KeySize)
	assert.NotEqual(t, keys.Cipher, keys.Index)
	assert.NotEqual(t, master, keys.Cipher)

	again, err := DeriveKeys(master)
	require.NoError(t, err)
	assert.Equal(t, keys, again)

	a := EmailIndex("  Alice@Example.com ", keys.Index)
	b := EmailIndex("alice@example.com", keys.Index)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, EmailIndex("bob@example.com", keys.Index))
	assert.NotEqual(t, a, EmailIndex("alice@example.com", keys.Cipher))

	_, err = DeriveKeys([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
