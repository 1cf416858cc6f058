package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"larder.org/internal/audit"
	"larder.org/internal/cryptox"
	"larder.org/internal/ids"
	"larder.org/internal/mail"
	"larder.org/internal/obs"
	"larder.org/internal/otp"
	"larder.org/internal/pii"
)

const (
	// ResetTokenTTL is how long a reset link stays valid.
	ResetTokenTTL   = time.Hour
	resetTokenBytes = 32
)

// BreachChecker reports whether a password is known to be compromised.
type BreachChecker interface {
	IsPwned(ctx context.Context, password string) bool
}

type neverPwned struct{}

func (neverPwned) IsPwned(context.Context, string) bool { return false }

// Service runs signup, the two-step login, and the password reset flow.
type Service struct {
	store   Store
	hasher  *Hasher
	keys    cryptox.Keys
	codes   *otp.Service
	breach  BreachChecker
	mailer  mail.Mailer
	baseURL string

	now   func() time.Time
	delay func(context.Context, time.Duration)
	log   *zap.Logger
	audit *audit.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithDelay overrides the penalty wait applied to rejected logins.
func WithDelay(fn func(context.Context, time.Duration)) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.delay = fn
		}
		return nil
	}
}

// WithBreachChecker enables the breached-password check on signup and reset.
func WithBreachChecker(b BreachChecker) ServiceOption {
	return func(s *Service) error {
		if b != nil {
			s.breach = b
		}
		return nil
	}
}

// WithMailer sets the mailer for reset links.
func WithMailer(m mail.Mailer) ServiceOption {
	return func(s *Service) error {
		if m != nil {
			s.mailer = m
		}
		return nil
	}
}

// WithBaseURL sets the public origin used in reset links.
func WithBaseURL(u string) ServiceOption {
	return func(s *Service) error {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" {
			return errors.New("auth: base url is empty")
		}
		s.baseURL = u
		return nil
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithAudit sets the security event logger.
func WithAudit(a *audit.Logger) ServiceOption {
	return func(s *Service) error {
		if a != nil {
			s.audit = a
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, hasher *Hasher, keys cryptox.Keys, codes *otp.Service, opts ...ServiceOption) (*Service, error) {
	if hasher == nil {
		return nil, ErrMissingPepper
	}
	if codes == nil {
		return nil, errors.New("auth: otp service is required")
	}
	if len(keys.Cipher) != cryptox.KeySize || len(keys.Index) != cryptox.KeySize {
		return nil, cryptox.ErrInvalidKey
	}
	svc := &Service{
		store:   store,
		hasher:  hasher,
		keys:    keys,
		codes:   codes,
		breach:  neverPwned{},
		mailer:  mail.NewLogMailer(nil),
		baseURL: "http://localhost:3000",
		now:     time.Now,
		delay:   sleep,
		log:     zap.NewNop(),
		audit:   audit.New(nil),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// reject waits FailureDelay and returns err.
func (s *Service) reject(ctx context.Context, err error) error {
	s.delay(ctx, FailureDelay)
	return err
}

// Login runs the password step. On success the account's counters are
// cleared, a one-time code is emailed and the pending identity returned.
// A session is not established until VerifyOTP succeeds.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Pending, error) {
	if n, err := s.codes.PurgeExpired(ctx); err != nil {
		s.log.Warn("otp_purge_failed", zap.Error(err))
	} else if n > 0 {
		s.log.Debug("otp_purged", zap.Int64("removed", n))
	}

	email := strings.TrimSpace(in.Email)
	password := strings.TrimSpace(in.Password)
	if email == "" || password == "" {
		return nil, s.reject(ctx, &ValidationError{Field: "email", Reason: MsgCredentialsRequired})
	}

	var (
		acct      *Account
		rejection error
	)
	err := s.store.WithAccountLock(ctx, cryptox.EmailIndex(email, s.keys.Index),
		func(ctx context.Context, accounts AccountStore, a *Account) error {
			acct = a
			var err error
			rejection, err = s.attempt(audit.WithAccountID(ctx, a.ID), accounts, a, password, in.IP)
			return err
		})
	if errors.Is(err, ErrNotFound) {
		s.hasher.VerifyDecoy(ctx, password)
		obs.LoginOutcome("invalid")
		return nil, s.reject(ctx, &AuthError{Kind: KindInvalidCredentials})
	}
	if err != nil {
		obs.LoginOutcome("error")
		return nil, err
	}
	if rejection != nil {
		return nil, s.reject(ctx, rejection)
	}

	ident, err := s.identity(acct)
	if err != nil {
		return nil, err
	}
	ctx = audit.WithAccountID(ctx, acct.ID)
	if err := s.codes.Issue(ctx, subject(ident), otpMeta(in.Meta), otp.ActionGenerated); err != nil {
		return nil, otpError(err)
	}
	obs.LoginOutcome("success")
	return &Pending{Identity: ident}, nil
}

// attempt gates and checks one password while the account row is locked.
// A rejected attempt is returned as rejection with a nil err so its
// counter update commits.
func (s *Service) attempt(ctx context.Context, accounts AccountStore, acct *Account, password, ip string) (rejection, err error) {
	now := s.now()
	gate := Evaluate(acct.Lockout(), now)
	switch gate.Kind {
	case GatePermanent:
		obs.LoginOutcome("locked")
		obs.LockoutState(gate.Kind.String())
		s.audit.Event(ctx, "login.locked", zap.String("ip", ip))
		return &LockoutError{Permanent: true}, nil
	case GateBackoff:
		obs.LoginOutcome("locked")
		obs.LockoutState(gate.Kind.String())
		s.audit.Event(ctx, "login.backoff", zap.String("ip", ip), zap.Duration("retry_after", gate.RetryAfter))
		return &LockoutError{RetryAfter: gate.RetryAfter}, nil
	case GateWindowReset:
		obs.LockoutState(gate.Kind.String())
		if err := accounts.ResetFailures(ctx, acct.ID); err != nil {
			return nil, err
		}
	}

	ok, err := s.hasher.Verify(ctx, password, acct.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("auth: verify password: %w", err)
	}
	if ok {
		return nil, accounts.RecordSuccess(ctx, acct.ID)
	}

	st, err := accounts.RecordFailure(ctx, acct.ID, now)
	if err != nil {
		return nil, err
	}
	obs.LoginOutcome("invalid")
	switch {
	case st.FailedAttempts >= MaxAttempts:
		obs.LockoutState("locked")
		s.audit.Event(ctx, "account.locked", zap.String("ip", ip), zap.Int("failed_attempts", st.FailedAttempts))
		return &LockoutError{Permanent: true, Locked: true}, nil
	case st.FailedAttempts == LockoutThreshold:
		s.audit.Event(ctx, "account.soft_locked", zap.String("ip", ip))
	}
	return &AuthError{Kind: KindInvalidCredentials}, nil
}

// VerifyOTP completes a login. Every failure is the same invalid-code error.
func (s *Service) VerifyOTP(ctx context.Context, p Pending, code string, meta Meta) (Identity, error) {
	acct, err := s.store.Accounts(ctx).Find(ctx, p.ID)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, &AuthError{Kind: KindInvalidOTP}
	}
	if err != nil {
		return Identity{}, err
	}
	ctx = audit.WithAccountID(ctx, acct.ID)
	if err := s.codes.Verify(ctx, acct.ID, strings.TrimSpace(code), otpMeta(meta)); err != nil {
		if errors.Is(err, otp.ErrInvalid) {
			return Identity{}, &AuthError{Kind: KindInvalidOTP}
		}
		return Identity{}, err
	}
	ident, err := s.identity(acct)
	if err != nil {
		return Identity{}, err
	}
	s.audit.Event(ctx, "login.success", zap.String("ip", meta.IP))
	return ident, nil
}

// ResendOTP issues a new code for a pending login, subject to the resend
// throttle (*otp.ResendTooSoonError).
func (s *Service) ResendOTP(ctx context.Context, p Pending, meta Meta) error {
	acct, err := s.store.Accounts(ctx).Find(ctx, p.ID)
	if errors.Is(err, ErrNotFound) {
		return &AuthError{Kind: KindInvalidOTP}
	}
	if err != nil {
		return err
	}
	ident, err := s.identity(acct)
	if err != nil {
		return err
	}
	if err := s.codes.Resend(audit.WithAccountID(ctx, acct.ID), subject(ident), otpMeta(meta)); err != nil {
		return otpError(err)
	}
	return nil
}

// Signup validates and creates an account. The caller establishes the
// session from the returned identity.
func (s *Service) Signup(ctx context.Context, in SignupInput) (Identity, error) {
	in, phone := normalizeSignup(in)
	if err := ValidateSignup(in); err != nil {
		return Identity{}, err
	}
	if s.breach.IsPwned(ctx, in.Password) {
		return Identity{}, &ValidationError{Field: "password", Reason: MsgBreached}
	}

	accounts := s.store.Accounts(ctx)
	index := cryptox.EmailIndex(in.Email, s.keys.Index)
	if _, err := accounts.FindByEmailIndex(ctx, index); err == nil {
		return Identity{}, &ValidationError{Field: "email", Reason: MsgDuplicateEmail}
	} else if !errors.Is(err, ErrNotFound) {
		return Identity{}, err
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return Identity{}, err
	}
	sealed, err := pii.EncryptInfo(pii.Info{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Phone:     phone,
	}, s.keys.Cipher)
	if err != nil {
		return Identity{}, err
	}
	acct := &Account{
		EmailIndex:   index,
		Sealed:       sealed,
		PasswordHash: hash,
		Slug:         AccountSlug(in.FirstName, in.LastName, s.now()),
	}
	if err := accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return Identity{}, &ValidationError{Field: "email", Reason: MsgDuplicateEmail}
		}
		return Identity{}, err
	}
	s.audit.Event(audit.WithAccountID(ctx, acct.ID), "account.created", zap.String("ip", in.IP))
	return Identity{
		ID:        acct.ID,
		Email:     in.Email,
		Slug:      acct.Slug,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	}, nil
}

// RequestReset emails a reset link when the address belongs to an account.
// An unknown address and a failed delivery are not errors, so callers
// respond identically; delivery failures are logged and audited.
func (s *Service) RequestReset(ctx context.Context, email string, meta Meta) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	accounts := s.store.Accounts(ctx)
	acct, err := accounts.FindByEmailIndex(ctx, cryptox.EmailIndex(email, s.keys.Index))
	if errors.Is(err, ErrNotFound) {
		s.audit.Event(ctx, "reset.requested", zap.Bool("matched", false), zap.String("ip", meta.IP))
		return nil
	}
	if err != nil {
		return err
	}
	ctx = audit.WithAccountID(ctx, acct.ID)

	token, err := ids.Secret(resetTokenBytes)
	if err != nil {
		return err
	}
	if err := accounts.SetResetToken(ctx, acct.ID, token, s.now().Add(ResetTokenTTL)); err != nil {
		return err
	}
	ident, err := s.identity(acct)
	if err != nil {
		return err
	}
	msg, err := mail.ResetEmail(ident.FirstName, s.baseURL+"/reset-password/"+token)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, ident.Email, msg.Subject, msg.HTML); err != nil {
		s.log.Error("reset_mail_failed", zap.String("account_id", acct.ID), zap.Error(err))
		s.audit.Event(ctx, "reset.delivery_failed", zap.String("ip", meta.IP))
		return nil
	}
	s.audit.Event(ctx, "reset.requested", zap.Bool("matched", true), zap.String("ip", meta.IP))
	return nil
}

// CheckResetToken returns the account's first name for a valid token. The
// name is empty when it cannot be decrypted.
func (s *Service) CheckResetToken(ctx context.Context, token string) (string, error) {
	acct, err := s.validToken(ctx, token)
	if err != nil {
		return "", err
	}
	info, err := pii.DecryptInfo(acct.Sealed, s.keys.Cipher)
	if err != nil {
		s.log.Warn("reset_decrypt_failed", zap.String("account_id", acct.ID), zap.Error(err))
		return "", nil
	}
	return info.FirstName, nil
}

// ResetPassword replaces the password behind a valid token. The token is
// consumed and the lock state cleared in the same update.
func (s *Service) ResetPassword(ctx context.Context, token, password, confirm string, meta Meta) error {
	password = strings.TrimSpace(password)
	if password != strings.TrimSpace(confirm) {
		return &ValidationError{Field: "confirmPassword", Reason: MsgResetMismatch}
	}
	acct, err := s.validToken(ctx, token)
	if err != nil {
		return err
	}
	if !ValidPassword(password) {
		return &ValidationError{Field: "password", Reason: MsgPasswordPolicy}
	}
	if s.breach.IsPwned(ctx, password) {
		return &ValidationError{Field: "password", Reason: MsgBreached}
	}
	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return err
	}
	err = s.store.Accounts(ctx).ConsumeResetToken(ctx, token, hash, s.now())
	if errors.Is(err, ErrInvalidResetToken) {
		return &AuthError{Kind: KindInvalidResetToken}
	}
	if err != nil {
		return err
	}
	s.audit.Event(audit.WithAccountID(ctx, acct.ID), "password.reset", zap.String("ip", meta.IP))
	return nil
}

func (s *Service) validToken(ctx context.Context, token string) (*Account, error) {
	if token == "" {
		return nil, &AuthError{Kind: KindInvalidResetToken}
	}
	acct, err := s.store.Accounts(ctx).FindByResetToken(ctx, token, s.now())
	if errors.Is(err, ErrNotFound) {
		return nil, &AuthError{Kind: KindInvalidResetToken}
	}
	return acct, err
}

func (s *Service) identity(acct *Account) (Identity, error) {
	info, err := pii.DecryptInfo(acct.Sealed, s.keys.Cipher)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: decrypt account %s: %w", acct.ID, err)
	}
	return Identity{
		ID:        acct.ID,
		Email:     info.Email,
		Slug:      acct.Slug,
		FirstName: info.FirstName,
		LastName:  info.LastName,
	}, nil
}

func subject(id Identity) otp.Subject {
	return otp.Subject{AccountID: id.ID, Email: id.Email, FirstName: id.FirstName}
}

func otpMeta(m Meta) otp.Meta {
	return otp.Meta{IP: m.IP, UserAgent: m.UserAgent}
}

func otpError(err error) error {
	if errors.Is(err, otp.ErrDelivery) {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return err
}
