package otp

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("otp: not found")

// Action is an audit log action.
type Action string

const (
	ActionGenerated Action = "generated"
	ActionResend    Action = "resend"
	ActionSuccess   Action = "success"
	ActionFailed    Action = "failed"
)

// Challenge is one issued code. Only the hash is stored.
type Challenge struct {
	ID        string
	AccountID string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// LogEntry is an append-only record of a code lifecycle event.
type LogEntry struct {
	ID        string
	AccountID string
	Action    Action
	IP        string
	UserAgent string
	CreatedAt time.Time
}

// Store persists challenges and their audit log.
type Store interface {
	Create(ctx context.Context, c *Challenge) error
	// Latest returns the most recently created challenge regardless of expiry.
	Latest(ctx context.Context, accountID string) (*Challenge, error)
	// LatestValid returns the most recently created challenge unexpired at now.
	LatestValid(ctx context.Context, accountID string, now time.Time) (*Challenge, error)
	DeleteForAccount(ctx context.Context, accountID string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	AppendLog(ctx context.Context, e *LogEntry) error
}
