package session

import (
	"context"
	"time"
)

// Store persists sessions keyed by id. Load returns ErrNotFound for an
// unknown or expired id.
type Store interface {
	Load(ctx context.Context, sid string) (*Session, error)
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Delete(ctx context.Context, sid string) error
	PurgeExpired(ctx context.Context) (int64, error)
}
