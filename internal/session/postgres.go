package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore keeps sessions in the sessions table as JSON documents.
type PGStore struct {
	db  *sql.DB
	now func() time.Time
}

// PGOption configures a PGStore.
type PGOption func(*PGStore)

// WithPGClock overrides time source (useful for tests).
func WithPGClock(fn func() time.Time) PGOption {
	return func(s *PGStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewPGStore(db *sql.DB, opts ...PGOption) *PGStore {
	s := &PGStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PGStore) Load(ctx context.Context, sid string) (*Session, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`select data from sessions where sid=$1 and expires_at > $2`, sid, s.now()).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: load: %w", err)
	}
	return decode(sid, data)
}

func (s *PGStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := encode(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into sessions(sid, data, expires_at) values($1,$2,$3)
		 on conflict (sid) do update set data = excluded.data, expires_at = excluded.expires_at`,
		sess.ID, string(data), s.now().Add(ttl))
	if err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, sid string) error {
	if _, err := s.db.ExecContext(ctx, `delete from sessions where sid=$1`, sid); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

func (s *PGStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("session: purge: %w", err)
	}
	return res.RowsAffected()
}
