// Package hashpool bounds the bcrypt work done at once across the process.
// Password and one-time-code hashing share one Pool.
package hashpool

import (
	"context"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent bcrypt calls.
type Pool struct {
	sem *semaphore.Weighted
}

// New returns a Pool running at most n hashes at once. n <= 0 means
// GOMAXPROCS.
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n))}
}

// Generate hashes secret at cost once a slot is free.
func (p *Pool) Generate(ctx context.Context, secret []byte, cost int) ([]byte, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	return bcrypt.GenerateFromPassword(secret, cost)
}

// Compare checks secret against hash once a slot is free. A mismatch is
// bcrypt.ErrMismatchedHashAndPassword.
func (p *Pool) Compare(ctx context.Context, hash, secret []byte) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return bcrypt.CompareHashAndPassword(hash, secret)
}
