package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"larder.org/internal/hashpool"
)

// DefaultCost is the bcrypt work factor for passwords.
const DefaultCost = 10

// bcrypt ignores input beyond 72 bytes.
const bcryptMaxInput = 72

// Hasher hashes peppered passwords with bcrypt. Hashing runs through a
// hashpool.Pool so slow hashes cannot occupy every CPU.
type Hasher struct {
	pepper []byte
	cost   int
	pool   *hashpool.Pool
	// decoy is a hash of random bytes at cost, compared when no account
	// matched so both outcomes do the same bcrypt work.
	decoy   []byte
	compare func(ctx context.Context, hash, in []byte) error
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher)

// WithCost overrides the bcrypt work factor.
func WithCost(cost int) HasherOption {
	return func(h *Hasher) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			h.cost = cost
		}
	}
}

// WithConcurrency bounds the number of hashes computed at once with a
// private pool.
func WithConcurrency(n int) HasherOption {
	return func(h *Hasher) {
		if n > 0 {
			h.pool = hashpool.New(n)
		}
	}
}

// WithPool shares p with other bcrypt users.
func WithPool(p *hashpool.Pool) HasherOption {
	return func(h *Hasher) {
		if p != nil {
			h.pool = p
		}
	}
}

// NewHasher returns a Hasher for pepper. An empty pepper is a fatal
// configuration error.
func NewHasher(pepper string, opts ...HasherOption) (*Hasher, error) {
	if pepper == "" {
		return nil, ErrMissingPepper
	}
	h := &Hasher{
		pepper: []byte(pepper),
		cost:   DefaultCost,
		pool:   hashpool.New(0),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.compare = h.pool.Compare

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("auth: decoy secret: %w", err)
	}
	decoy, err := bcrypt.GenerateFromPassword(secret, h.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: decoy hash: %w", err)
	}
	h.decoy = decoy
	return h, nil
}

// Hash returns the bcrypt hash of password+pepper.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("auth: password is empty")
	}
	hash, err := h.pool.Generate(ctx, h.input(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. A mismatch is (false, nil);
// a malformed hash is an error.
func (h *Hasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	if hash == "" {
		return false, errors.New("auth: password hash is empty")
	}
	err := h.compare(ctx, []byte(hash), h.input(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// VerifyDecoy spends one comparison against the decoy hash. It is called
// for logins that matched no account.
func (h *Hasher) VerifyDecoy(ctx context.Context, password string) {
	_ = h.compare(ctx, h.decoy, h.input(password))
}

// input peppers the password. Inputs bcrypt would truncate are reduced to
// a base64 SHA-256 digest so every byte still counts.
func (h *Hasher) input(password string) []byte {
	in := make([]byte, 0, len(password)+len(h.pepper))
	in = append(in, password...)
	in = append(in, h.pepper...)
	if len(in) <= bcryptMaxInput {
		return in
	}
	sum := sha256.Sum256(in)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}
