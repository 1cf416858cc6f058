package auth

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"larder.org/internal/cryptox"
	"larder.org/internal/hashpool"
	"larder.org/internal/otp"
)

// memAccounts mirrors the PostgreSQL statements in memory.
type memAccounts struct {
	mu   sync.Mutex
	rows map[string]*Account
	// row serialises WithAccountLock like a select for update.
	row sync.Mutex
}

func newMemAccounts() *memAccounts { return &memAccounts{rows: map[string]*Account{}} }

func (m *memAccounts) Accounts(context.Context) AccountStore { return m }

func (m *memAccounts) WithAccountLock(ctx context.Context, index string, fn func(context.Context, AccountStore, *Account) error) error {
	m.row.Lock()
	defer m.row.Unlock()
	a, err := m.FindByEmailIndex(ctx, index)
	if err != nil {
		return err
	}
	return fn(ctx, m, a)
}

func (m *memAccounts) copyOf(a *Account) *Account {
	cp := *a
	return &cp
}

func (m *memAccounts) Create(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.EmailIndex == a.EmailIndex || r.Slug == a.Slug {
			return ErrAlreadyExists
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now()
	m.rows[a.ID] = m.copyOf(a)
	return nil
}

func (m *memAccounts) Find(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		return m.copyOf(r), nil
	}
	return nil, ErrNotFound
}

func (m *memAccounts) FindByEmailIndex(_ context.Context, index string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.EmailIndex == index {
			return m.copyOf(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memAccounts) FindByResetToken(_ context.Context, token string, now time.Time) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ResetToken != nil && *r.ResetToken == token && r.ResetTokenExpiry.After(now) {
			return m.copyOf(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memAccounts) RecordFailure(_ context.Context, id string, at time.Time) (LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return LockoutState{}, ErrNotFound
	}
	r.FailedAttempts++
	r.IsLocked = r.FailedAttempts >= LockoutThreshold
	t := at
	r.LastFailed = &t
	return r.Lockout(), nil
}

func (m *memAccounts) RecordSuccess(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		r.FailedAttempts, r.IsLocked, r.LastFailed = 0, false, nil
	}
	return nil
}

func (m *memAccounts) ResetFailures(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		r.FailedAttempts, r.IsLocked = 0, false
	}
	return nil
}

func (m *memAccounts) SetResetToken(_ context.Context, id, token string, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	r.ResetToken, r.ResetTokenExpiry = &token, &expiry
	return nil
}

func (m *memAccounts) ConsumeResetToken(_ context.Context, token, hash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ResetToken != nil && *r.ResetToken == token && r.ResetTokenExpiry.After(now) {
			r.PasswordHash = hash
			r.ResetToken, r.ResetTokenExpiry = nil, nil
			r.FailedAttempts, r.IsLocked, r.LastFailed = 0, false, nil
			return nil
		}
	}
	return ErrInvalidResetToken
}

func (m *memAccounts) get(t *testing.T, id string) *Account {
	t.Helper()
	a, err := m.Find(context.Background(), id)
	require.NoError(t, err)
	return a
}

// memChallenges is an otp.Store kept in memory.
type memChallenges struct {
	mu   sync.Mutex
	rows []*otp.Challenge
	logs []otp.Action
}

func (m *memChallenges) Create(_ context.Context, c *otp.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memChallenges) newest(accountID string, valid func(*otp.Challenge) bool) (*otp.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if c := m.rows[i]; c.AccountID == accountID && valid(c) {
			return c, nil
		}
	}
	return nil, otp.ErrNotFound
}

func (m *memChallenges) Latest(_ context.Context, accountID string) (*otp.Challenge, error) {
	return m.newest(accountID, func(*otp.Challenge) bool { return true })
}

func (m *memChallenges) LatestValid(_ context.Context, accountID string, now time.Time) (*otp.Challenge, error) {
	return m.newest(accountID, func(c *otp.Challenge) bool { return c.ExpiresAt.After(now) })
}

func (m *memChallenges) DeleteForAccount(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	for _, c := range m.rows {
		if c.AccountID != accountID {
			kept = append(kept, c)
		}
	}
	m.rows = kept
	return nil
}

func (m *memChallenges) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	kept := m.rows[:0]
	for _, c := range m.rows {
		if c.ExpiresAt.Before(now) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	m.rows = kept
	return n, nil
}

func (m *memChallenges) AppendLog(_ context.Context, e *otp.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, e.Action)
	return nil
}

type outbox struct {
	mu   sync.Mutex
	msgs []sentMail
	err  error
}

type sentMail struct{ to, subject, html string }

func (o *outbox) Send(_ context.Context, to, subject, html string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, sentMail{to, subject, html})
	return nil
}

func (o *outbox) last(t *testing.T) sentMail {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs)
	return o.msgs[len(o.msgs)-1]
}

var (
	otpCodeRe   = regexp.MustCompile(`<strong>(\d{6})</strong>`)
	resetLinkRe = regexp.MustCompile(`/reset-password/([0-9a-f]{64})`)
)

type pwnedSet map[string]bool

func (p pwnedSet) IsPwned(_ context.Context, pw string) bool { return p[pw] }

type harness struct {
	svc      *Service
	accounts *memAccounts
	codes    *memChallenges
	mail     *outbox
	pwned    pwnedSet
	now      time.Time
	compares atomic.Int64

	mu     sync.Mutex
	delays []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		accounts: newMemAccounts(),
		codes:    &memChallenges{},
		mail:     &outbox{},
		pwned:    pwnedSet{},
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	delay := func(_ context.Context, d time.Duration) {
		h.mu.Lock()
		h.delays = append(h.delays, d)
		h.mu.Unlock()
	}

	keys, err := cryptox.DeriveKeys(make([]byte, cryptox.KeySize))
	require.NoError(t, err)
	pool := hashpool.New(4)
	hasher, err := NewHasher("pepper", WithCost(bcrypt.MinCost), WithPool(pool))
	require.NoError(t, err)
	compare := hasher.compare
	hasher.compare = func(ctx context.Context, hash, in []byte) error {
		h.compares.Add(1)
		return compare(ctx, hash, in)
	}
	codes := otp.NewService(h.codes, h.mail,
		otp.WithCost(bcrypt.MinCost),
		otp.WithPool(pool),
		otp.WithClock(clock),
		otp.WithDelay(delay),
	)

	h.svc, err = NewService(h.accounts, hasher, keys, codes,
		WithClock(clock),
		WithDelay(delay),
		WithBreachChecker(h.pwned),
		WithMailer(h.mail),
		WithBaseURL("http://larder.test/"),
	)
	require.NoError(t, err)
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

const (
	testEmail    = "ann@example.com"
	testPassword = "Sup3rSecret"
)

func (h *harness) signup(t *testing.T) Identity {
	t.Helper()
	id, err := h.svc.Signup(context.Background(), SignupInput{
		FirstName: "ann", LastName: "lee", Email: testEmail,
		Password: testPassword, PasswordConf: testPassword,
		Meta: Meta{IP: "1.1.1.1", UserAgent: "A"},
	})
	require.NoError(t, err)
	return id
}

func (h *harness) login(password string) (*Pending, error) {
	return h.svc.Login(context.Background(), LoginInput{
		Email: testEmail, Password: password, Meta: Meta{IP: "1.1.1.1", UserAgent: "A"},
	})
}

func (h *harness) lastOTP(t *testing.T) string {
	t.Helper()
	m := otpCodeRe.FindStringSubmatch(h.mail.last(t).html)
	require.Len(t, m, 2)
	return m[1]
}
