package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"larder.org/internal/ids"
)

const (
	// CookieName is the session cookie.
	CookieName = "larder.sid"
	// DefaultTTL is the session and cookie lifetime.
	DefaultTTL = time.Hour

	csrfBytes = 32
)

// Manager loads and writes sessions through a Store and the signed cookie.
type Manager struct {
	store  Store
	codec  *CookieCodec
	ttl    time.Duration
	secure bool
	log    *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithSecureCookie marks the cookie Secure.
func WithSecureCookie(secure bool) ManagerOption {
	return func(m *Manager) { m.secure = secure }
}

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func NewManager(store Store, codec *CookieCodec, opts ...ManagerOption) *Manager {
	m := &Manager{
		store: store,
		codec: codec,
		ttl:   DefaultTTL,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the backing store.
func (m *Manager) Store() Store { return m.store }

// Load returns the session named by the request cookie. A missing, forged
// or expired cookie yields a new unsaved session; only store failures are
// errors.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return newSession()
	}
	sid, err := m.codec.Decode(c.Value)
	if err != nil {
		m.log.Debug("session_cookie_rejected", zap.Error(err))
		return newSession()
	}
	s, err := m.store.Load(r.Context(), sid)
	if errors.Is(err, ErrNotFound) {
		return newSession()
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Save stores s, refreshing its lifetime, and writes the cookie.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if err := m.store.Save(ctx, s, m.ttl); err != nil {
		return err
	}
	value, err := m.codec.Encode(s.ID, m.ttl)
	if err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(value, int(m.ttl/time.Second)))
	s.fresh = false
	return nil
}

// Regenerate discards s and returns an empty session under a new id. The
// caller copies across whatever it needs and saves the result.
func (m *Manager) Regenerate(ctx context.Context, s *Session) (*Session, error) {
	if s != nil && !s.fresh {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			return nil, err
		}
	}
	return newSession()
}

// Destroy removes s from the store and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	http.SetCookie(w, m.cookie("", -1))
	if s == nil || s.fresh {
		return nil
	}
	return m.store.Delete(ctx, s.ID)
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// EnsureCSRF returns the session's synchronizer token, creating it on first
// use. The session must be saved for a new token to persist.
func (s *Session) EnsureCSRF() (string, error) {
	if s.CSRFToken != "" {
		return s.CSRFToken, nil
	}
	tok, err := ids.Secret(csrfBytes)
	if err != nil {
		return "", fmt.Errorf("session: csrf token: %w", err)
	}
	s.CSRFToken = tok
	return tok, nil
}

// ValidCSRF compares token against the session's synchronizer token.
func (s *Session) ValidCSRF(token string) bool {
	if s.CSRFToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.CSRFToken), []byte(token)) == 1
}
