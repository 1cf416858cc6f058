package auth

import (
	"time"

	"larder.org/internal/pii"
)

// Account is the stored identity record. Personal fields stay sealed until
// the service decrypts the one row it matched.
type Account struct {
	ID           string
	EmailIndex   string
	Sealed       pii.Sealed
	PasswordHash string
	Slug         string

	FailedAttempts int
	IsLocked       bool
	LastFailed     *time.Time

	ResetToken       *string
	ResetTokenExpiry *time.Time

	CreatedAt time.Time
}

// Lockout returns the fields the lockout gate reads.
func (a *Account) Lockout() LockoutState {
	return LockoutState{
		FailedAttempts: a.FailedAttempts,
		IsLocked:       a.IsLocked,
		LastFailed:     a.LastFailed,
	}
}

// Identity is the decrypted summary placed in an authenticated session.
type Identity struct {
	ID        string
	Email     string
	Slug      string
	FirstName string
	LastName  string
}

// Pending is an account that passed the password step and awaits its
// one-time code.
type Pending struct {
	Identity
}

// Meta carries the request attributes recorded with security events.
type Meta struct {
	IP        string
	UserAgent string
}

// LoginInput is the password step of a login.
type LoginInput struct {
	Email    string
	Password string
	Meta
}

// SignupInput is a registration form submission.
type SignupInput struct {
	FirstName    string
	LastName     string
	Email        string
	Password     string
	PasswordConf string
	Phone        string
	Meta
}
