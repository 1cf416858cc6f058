package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCookie covers a tampered, expired or malformed cookie value.
var ErrInvalidCookie = errors.New("session: invalid cookie")

// CookieCodec signs session ids into the cookie value as HS256 tokens whose
// jti is the session id.
type CookieCodec struct {
	secret []byte
	now    func() time.Time
}

// NewCookieCodec returns a codec keyed by secret.
func NewCookieCodec(secret string, now func() time.Time) (*CookieCodec, error) {
	if secret == "" {
		return nil, errors.New("session: cookie secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &CookieCodec{secret: []byte(secret), now: now}, nil
}

// Encode returns the signed cookie value for sid, valid for ttl.
func (c *CookieCodec) Encode(sid string, ttl time.Duration) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		ID:        sid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign cookie: %w", err)
	}
	return signed, nil
}

// Decode verifies value and returns the session id it carries.
func (c *CookieCodec) Decode(value string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(value, &claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || claims.ID == "" {
		return "", ErrInvalidCookie
	}
	return claims.ID, nil
}
