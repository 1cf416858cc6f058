// Package otp issues and verifies the emailed one-time codes that form the
// second login factor.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"larder.org/internal/audit"
	"larder.org/internal/hashpool"
	"larder.org/internal/mail"
	"larder.org/internal/obs"
)

const (
	// CodeTTL is how long an issued code stays valid.
	CodeTTL = 5 * time.Minute
	// ResendInterval is the minimum gap between two issued codes.
	ResendInterval = 60 * time.Second
	// DefaultCost is the bcrypt work factor for code hashes.
	DefaultCost = 10

	codeMin = 100000
	codeMax = 999999
)

var (
	// ErrInvalid covers a wrong code, an expired code and a missing challenge.
	ErrInvalid = errors.New("otp: invalid or expired code")
	// ErrDelivery reports that the code could not be emailed.
	ErrDelivery = errors.New("otp: delivery failed")
)

// ResendTooSoonError rejects a resend inside ResendInterval.
type ResendTooSoonError struct {
	Wait time.Duration
}

func (e *ResendTooSoonError) Error() string {
	return fmt.Sprintf("otp: resend too soon, wait %s", e.Wait)
}

// Seconds is the remaining wait rounded up to whole seconds.
func (e *ResendTooSoonError) Seconds() int {
	return int((e.Wait + time.Second - 1) / time.Second)
}

// Message is the text shown to the user.
func (e *ResendTooSoonError) Message() string {
	return fmt.Sprintf("Please wait %d seconds before resending.", e.Seconds())
}

// Subject is the account a code is issued to.
type Subject struct {
	AccountID string
	Email     string
	FirstName string
}

// Meta carries request attributes stored in the audit log.
type Meta struct {
	IP        string
	UserAgent string
}

// Service runs the code lifecycle.
type Service struct {
	store  Store
	mailer mail.Mailer
	pool   *hashpool.Pool
	cost   int
	now    func() time.Time
	delay  func(context.Context, time.Duration)
	log    *zap.Logger
	audit  *audit.Logger
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithDelay overrides the penalty wait applied to failed verifications.
func WithDelay(fn func(context.Context, time.Duration)) Option {
	return func(s *Service) {
		if fn != nil {
			s.delay = fn
		}
	}
}

// WithCost overrides the bcrypt work factor.
func WithCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

// WithPool runs code hashing through p, shared with password hashing.
func WithPool(p *hashpool.Pool) Option {
	return func(s *Service) {
		if p != nil {
			s.pool = p
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAudit sets the security event logger.
func WithAudit(a *audit.Logger) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, mailer mail.Mailer, opts ...Option) *Service {
	s := &Service{
		store:  store,
		mailer: mailer,
		pool:   hashpool.New(0),
		cost:   DefaultCost,
		now:    time.Now,
		delay:  sleep,
		log:    zap.NewNop(),
		audit:  audit.New(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
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

// PenaltyDelay is the wait added to a rejected code.
const PenaltyDelay = 500 * time.Millisecond

// Issue creates, stores and emails a new code. action is ActionGenerated on
// the password step and ActionResend on a resend.
func (s *Service) Issue(ctx context.Context, sub Subject, meta Meta, action Action) error {
	code, err := generateCode()
	if err != nil {
		return err
	}
	hash, err := s.pool.Generate(ctx, []byte(code), s.cost)
	if err != nil {
		return fmt.Errorf("otp: hash: %w", err)
	}
	now := s.now()
	c := &Challenge{
		AccountID: sub.AccountID,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(CodeTTL),
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return err
	}
	s.record(ctx, sub.AccountID, action, meta)

	msg, err := mail.OTPEmail(sub.FirstName, code)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, sub.Email, msg.Subject, msg.HTML); err != nil {
		s.log.Error("otp_mail_failed", zap.String("account_id", sub.AccountID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// Verify checks code against the newest unexpired challenge. On success all
// challenges for the account are deleted. Every rejection is ErrInvalid.
func (s *Service) Verify(ctx context.Context, accountID, code string, meta Meta) error {
	c, err := s.store.LatestValid(ctx, accountID, s.now())
	switch {
	case errors.Is(err, ErrNotFound):
		return s.reject(ctx, accountID, meta)
	case err != nil:
		return err
	}
	if err := s.pool.Compare(ctx, []byte(c.CodeHash), []byte(code)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return s.reject(ctx, accountID, meta)
	}
	s.record(ctx, accountID, ActionSuccess, meta)
	if err := s.store.DeleteForAccount(ctx, accountID); err != nil {
		s.log.Warn("otp_cleanup_failed", zap.String("account_id", accountID), zap.Error(err))
	}
	return nil
}

func (s *Service) reject(ctx context.Context, accountID string, meta Meta) error {
	s.record(ctx, accountID, ActionFailed, meta)
	s.delay(ctx, PenaltyDelay)
	return ErrInvalid
}

// Resend issues a fresh code unless the newest challenge is younger than
// ResendInterval. A throttled resend writes nothing.
func (s *Service) Resend(ctx context.Context, sub Subject, meta Meta) error {
	last, err := s.store.Latest(ctx, sub.AccountID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	default:
		since := s.now().Sub(last.CreatedAt)
		if since < ResendInterval {
			obs.OTPEvent("throttled")
			return &ResendTooSoonError{Wait: ResendInterval - since}
		}
	}
	return s.Issue(ctx, sub, meta, ActionResend)
}

// PurgeExpired deletes challenges past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.PurgeExpired(ctx, s.now())
}

// record appends to the audit log. Failures are logged and never abort
// the flow.
func (s *Service) record(ctx context.Context, accountID string, action Action, meta Meta) {
	obs.OTPEvent(string(action))
	s.audit.Event(audit.WithAccountID(ctx, accountID), "otp."+string(action),
		zap.String("ip", meta.IP), zap.String("user_agent", meta.UserAgent))
	err := s.store.AppendLog(ctx, &LogEntry{
		AccountID: accountID,
		Action:    action,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.log.Warn("otp_log_failed", zap.String("account_id", accountID), zap.String("action", string(action)), zap.Error(err))
	}
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("otp: generate: %w", err)
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}
