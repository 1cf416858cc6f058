// Package httpapi serves the server-rendered account pages.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"larder.org/internal/audit"
	"larder.org/internal/auth"
	"larder.org/internal/obs"
	"larder.org/internal/session"
)

const maxBodyBytes = 1 << 20

// Authenticator is the account flow behind the pages.
type Authenticator interface {
	Login(ctx context.Context, in auth.LoginInput) (*auth.Pending, error)
	VerifyOTP(ctx context.Context, p auth.Pending, code string, meta auth.Meta) (auth.Identity, error)
	ResendOTP(ctx context.Context, p auth.Pending, meta auth.Meta) error
	Signup(ctx context.Context, in auth.SignupInput) (auth.Identity, error)
	RequestReset(ctx context.Context, email string, meta auth.Meta) error
	CheckResetToken(ctx context.Context, token string) (string, error)
	ResetPassword(ctx context.Context, token, password, confirm string, meta auth.Meta) error
}

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the database and, when configured, Redis.
type ReadyProbe struct {
	DB    *sql.DB
	Redis Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		return rp.Redis.Ping(ctx)
	}
	return nil
}

// Deps wires the API.
type Deps struct {
	Auth     Authenticator
	Sessions *session.Manager
	Guard    *session.Guard
	Limiter  *RateLimiter
	Ready    ReadyProbe
	Log      *zap.Logger
	Audit    *audit.Logger
	Version  string
	Now      func() time.Time
}

// API is the HTTP layer.
type API struct {
	auth     Authenticator
	sessions *session.Manager
	guard    *session.Guard
	limiter  *RateLimiter
	ready    ReadyProbe
	log      *zap.Logger
	audit    *audit.Logger
	version  string
	now      func() time.Time
	views    views
}

func New(d Deps) (*API, error) {
	if d.Auth == nil || d.Sessions == nil {
		return nil, errors.New("httpapi: auth and sessions are required")
	}
	v, err := loadViews()
	if err != nil {
		return nil, err
	}
	a := &API{
		auth:     d.Auth,
		sessions: d.Sessions,
		guard:    d.Guard,
		limiter:  d.Limiter,
		ready:    d.Ready,
		log:      d.Log,
		audit:    d.Audit,
		version:  d.Version,
		now:      d.Now,
		views:    v,
	}
	if a.guard == nil {
		a.guard = session.NewGuard(session.DefaultIdleTimeout)
	}
	if a.limiter == nil {
		a.limiter = NewRateLimiter(10, 2, nil)
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.audit == nil {
		a.audit = audit.New(nil)
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// Handler returns the routed, fully wrapped handler.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, Logging(a.log), obs.Instrument, SecurityHeaders, MaxBodyBytes(maxBodyBytes))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.sessions.Middleware, session.Integrity(a.sessions, a.guard, a.audit, a.now), CSRF)

		r.Get("/", a.index)
		r.Get("/login", a.loginPage)
		r.Get("/signup", a.signupPage)
		r.Get("/forgot-password", a.forgotPage)
		r.Get("/reset-password/{token}", a.resetPage)
		r.Post("/logout", a.logout)

		r.Group(func(r chi.Router) {
			r.Use(a.limiter.Middleware)
			r.Post("/login", a.login)
			r.Post("/signup", a.signup)
			r.Post("/forgot-password", a.forgot)
			r.Post("/reset-password/{token}", a.reset)
		})

		r.With(session.EnsureAuthenticated).Get("/profile/{slug}", a.profile)
	})
	return r
}

// --- handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "larder",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		a.log.Warn("readiness_failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func meta(r *http.Request) auth.Meta {
	return auth.Meta{IP: clientIP(r), UserAgent: r.UserAgent()}
}

// saveSession persists s, logging and answering 500 on failure.
func (a *API) saveSession(w http.ResponseWriter, r *http.Request, s *session.Session) bool {
	if err := a.sessions.Save(r.Context(), w, s); err != nil {
		a.log.Error("session_save_failed", zap.Error(err))
		text(w, http.StatusInternalServerError, auth.MsgGeneric)
		return false
	}
	return true
}

// csrfToken returns the session's token, saving the session when the
// token is new.
func (a *API) csrfToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	s := session.FromContext(r.Context())
	had := s.CSRFToken != ""
	tok, err := s.EnsureCSRF()
	if err != nil {
		a.log.Error("csrf_token_failed", zap.Error(err))
		text(w, http.StatusInternalServerError, auth.MsgGeneric)
		return "", false
	}
	if !had || s.IsNew() {
		if !a.saveSession(w, r, s) {
			return "", false
		}
	}
	return tok, true
}

// establish starts an authenticated session for id under a fresh session
// id and redirects to the profile.
func (a *API) establish(w http.ResponseWriter, r *http.Request, id auth.Identity, flash string) {
	next, err := a.sessions.Regenerate(r.Context(), session.FromContext(r.Context()))
	if err != nil {
		a.log.Error("session_regenerate_failed", zap.Error(err))
		text(w, http.StatusInternalServerError, auth.MsgGeneric)
		return
	}
	next.Bind(toUser(id), session.FingerprintOf(r), a.now())
	next.Flash = flash
	if !a.saveSession(w, r, next) {
		return
	}
	a.audit.Event(audit.WithAccountID(r.Context(), id.ID), "session.established", zap.String("ip", clientIP(r)))
	http.Redirect(w, r, "/profile/"+id.Slug, http.StatusFound)
}

func toUser(id auth.Identity) session.User {
	return session.User{ID: id.ID, Email: id.Email, Slug: id.Slug, FirstName: id.FirstName, LastName: id.LastName}
}

func toPending(u *session.User) auth.Pending {
	return auth.Pending{Identity: auth.Identity{ID: u.ID, Email: u.Email, Slug: u.Slug, FirstName: u.FirstName, LastName: u.LastName}}
}
