package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	// WithAccountLock runs fn with the account for the email index locked
	// against concurrent callers. Writes made through accounts commit when
	// fn returns nil. ErrNotFound is returned without calling fn.
	WithAccountLock(ctx context.Context, index string, fn func(ctx context.Context, accounts AccountStore, acct *Account) error) error
}

// AccountStore manages account rows.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmailIndex(ctx context.Context, index string) (*Account, error)
	FindByResetToken(ctx context.Context, token string, now time.Time) (*Account, error)

	// RecordFailure increments the counter in a single statement and
	// returns the state it wrote.
	RecordFailure(ctx context.Context, id string, at time.Time) (LockoutState, error)
	RecordSuccess(ctx context.Context, id string) error
	ResetFailures(ctx context.Context, id string) error

	SetResetToken(ctx context.Context, id, token string, expiry time.Time) error
	// ConsumeResetToken replaces the password and clears the token and the
	// lock state if the token is still valid. It reports ErrInvalidResetToken
	// when no row matched.
	ConsumeResetToken(ctx context.Context, token, passwordHash string, now time.Time) error
}
