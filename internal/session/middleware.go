package session

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"larder.org/internal/audit"
	"larder.org/internal/obs"
)

type ctxKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request's session, or nil outside Middleware.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

// Middleware loads the session for every request.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Load(r)
		if err != nil {
			m.log.Error("session_load_failed", zap.Error(err))
			http.Error(w, "Something went wrong", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}

// Integrity applies the guard to authenticated sessions. A denied session
// is destroyed and the client redirected to login; an allowed one is saved
// with its refreshed activity time.
func Integrity(m *Manager, g *Guard, a *audit.Logger, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := FromContext(r.Context())
			if !s.Authenticated() {
				next.ServeHTTP(w, r)
				return
			}
			fp := FingerprintOf(r)
			d := g.Check(s, fp, now())
			if !d.Allow {
				ctx := audit.WithAccountID(r.Context(), s.User.ID)
				obs.SessionInvalidated(string(d.Reason))
				a.Event(ctx, "session."+string(d.Reason),
					zap.String("ip", fp.IP), zap.String("user_agent", fp.UA),
					zap.String("bound_ip", s.IP), zap.String("bound_user_agent", s.UA))
				if err := m.Destroy(ctx, w, s); err != nil {
					m.log.Warn("session_destroy_failed", zap.Error(err))
				}
				http.Redirect(w, r, d.Redirect(), http.StatusFound)
				return
			}
			if err := m.Save(r.Context(), w, s); err != nil {
				m.log.Error("session_save_failed", zap.Error(err))
				http.Error(w, "Something went wrong", http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// EnsureAuthenticated redirects to /login unless the session has a user.
func EnsureAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !FromContext(r.Context()).Authenticated() {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
