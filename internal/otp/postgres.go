package otp

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"larder.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on the otps and otp_logs tables.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, c *Challenge) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into otps(id, account_id, code_hash, expires_at, created_at) values($1,$2,$3,$4,$5)`,
		c.ID, c.AccountID, c.CodeHash, c.ExpiresAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("otp: insert: %w", err)
	}
	return nil
}

func (s *PGStore) Latest(ctx context.Context, accountID string) (*Challenge, error) {
	return scanChallenge(s.db.QueryRowContext(ctx,
		`select id, account_id, code_hash, expires_at, created_at from otps
		  where account_id=$1 order by created_at desc limit 1`, accountID))
}

func (s *PGStore) LatestValid(ctx context.Context, accountID string, now time.Time) (*Challenge, error) {
	return scanChallenge(s.db.QueryRowContext(ctx,
		`select id, account_id, code_hash, expires_at, created_at from otps
		  where account_id=$1 and expires_at > $2 order by created_at desc limit 1`, accountID, now))
}

func scanChallenge(row *sql.Row) (*Challenge, error) {
	var c Challenge
	if err := row.Scan(&c.ID, &c.AccountID, &c.CodeHash, &c.ExpiresAt, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *PGStore) DeleteForAccount(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `delete from otps where account_id=$1`, accountID)
	return err
}

func (s *PGStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from otps where expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) AppendLog(ctx context.Context, e *LogEntry) error {
	if e.ID == "" {
		e.ID = ids.NewAt(e.CreatedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`insert into otp_logs(id, account_id, action, ip_address, user_agent, created_at) values($1,$2,$3,$4,$5,$6)`,
		e.ID, e.AccountID, string(e.Action), e.IP, e.UserAgent, e.CreatedAt,
	)
	return err
}
