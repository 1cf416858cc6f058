package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts(ctx context.Context) AccountStore { return &accountStore{db: s.db} }

// WithAccountLock takes the row with select ... for update and runs fn in
// the same transaction.
func (s *PGStore) WithAccountLock(ctx context.Context, index string, fn func(ctx context.Context, accounts AccountStore, acct *Account) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auth: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if err = tx.Commit(); err != nil {
			err = fmt.Errorf("auth: commit: %w", err)
		}
	}()

	acct, err := scanAccount(tx.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email_index=$1 for update`, index))
	if err != nil {
		return err
	}
	return fn(ctx, &accountStore{db: tx}, acct)
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const accountColumns = `id, email_index, email, first_name, last_name, phone, password_hash, slug,
	failed_attempts, is_locked, last_failed, reset_token, reset_token_expiry, created_at`

// Account store ------------------------------------------------------------
type accountStore struct{ db dbtx }

func (s *accountStore) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx,
		`insert into accounts(id, email_index, email, first_name, last_name, phone, password_hash, slug)
		 values($1,$2,$3,$4,$5,$6,$7,$8) returning created_at`,
		a.ID, a.EmailIndex, a.Sealed.Email, a.Sealed.FirstName, a.Sealed.LastName,
		a.Sealed.Phone, a.PasswordHash, a.Slug,
	)
	if err := row.Scan(&a.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("auth: insert account: %w", err)
	}
	return nil
}

func (s *accountStore) Find(ctx context.Context, id string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id))
}

func (s *accountStore) FindByEmailIndex(ctx context.Context, index string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email_index=$1`, index))
}

func (s *accountStore) FindByResetToken(ctx context.Context, token string, now time.Time) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where reset_token=$1 and reset_token_expiry > $2`, token, now))
}

func scanAccount(row *sql.Row) (*Account, error) {
	var (
		a          Account
		phone      sql.NullString
		lastFailed sql.NullTime
		token      sql.NullString
		expiry     sql.NullTime
	)
	err := row.Scan(&a.ID, &a.EmailIndex, &a.Sealed.Email, &a.Sealed.FirstName, &a.Sealed.LastName,
		&phone, &a.PasswordHash, &a.Slug, &a.FailedAttempts, &a.IsLocked, &lastFailed,
		&token, &expiry, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if phone.Valid {
		a.Sealed.Phone = &phone.String
	}
	if lastFailed.Valid {
		a.LastFailed = &lastFailed.Time
	}
	if token.Valid {
		a.ResetToken = &token.String
	}
	if expiry.Valid {
		a.ResetTokenExpiry = &expiry.Time
	}
	return &a, nil
}

func (s *accountStore) RecordFailure(ctx context.Context, id string, at time.Time) (LockoutState, error) {
	row := s.db.QueryRowContext(ctx,
		`update accounts
		    set failed_attempts = failed_attempts + 1,
		        is_locked = (failed_attempts + 1) >= $2,
		        last_failed = $3
		  where id=$1
		  returning failed_attempts, is_locked, last_failed`,
		id, LockoutThreshold, at,
	)
	var (
		st         LockoutState
		lastFailed sql.NullTime
	)
	if err := row.Scan(&st.FailedAttempts, &st.IsLocked, &lastFailed); err != nil {
		if err == sql.ErrNoRows {
			return LockoutState{}, ErrNotFound
		}
		return LockoutState{}, fmt.Errorf("auth: record failure: %w", err)
	}
	if lastFailed.Valid {
		st.LastFailed = &lastFailed.Time
	}
	return st, nil
}

func (s *accountStore) RecordSuccess(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update accounts set failed_attempts = 0, is_locked = false, last_failed = null where id=$1`, id)
	if err != nil {
		return fmt.Errorf("auth: record success: %w", err)
	}
	return nil
}

func (s *accountStore) ResetFailures(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update accounts set failed_attempts = 0, is_locked = false where id=$1`, id)
	if err != nil {
		return fmt.Errorf("auth: reset failures: %w", err)
	}
	return nil
}

func (s *accountStore) SetResetToken(ctx context.Context, id, token string, expiry time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set reset_token = $1, reset_token_expiry = $2 where id=$3`, token, expiry, id)
	if err != nil {
		return fmt.Errorf("auth: set reset token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *accountStore) ConsumeResetToken(ctx context.Context, token, passwordHash string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts
		    set password_hash = $1, reset_token = null, reset_token_expiry = null,
		        failed_attempts = 0, is_locked = false, last_failed = null
		  where reset_token = $2 and reset_token_expiry > $3`,
		passwordHash, token, now,
	)
	if err != nil {
		return fmt.Errorf("auth: consume reset token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("auth: consume reset token: %w", err)
	}
	if n == 0 {
		return ErrInvalidResetToken
	}
	return nil
}
