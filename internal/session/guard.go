package session

import "time"

// DefaultIdleTimeout ends an authenticated session after this much
// inactivity.
const DefaultIdleTimeout = 15 * time.Minute

// Reason names why a session was invalidated.
type Reason string

const (
	ReasonIntegrity Reason = "integrity"
	ReasonTimeout   Reason = "timeout"
)

// Decision is the guard's verdict on one request.
type Decision struct {
	Allow  bool
	Reason Reason
}

// Redirect is the login URL that reports the reason to the user.
func (d Decision) Redirect() string {
	if d.Allow {
		return ""
	}
	return "/login?" + string(d.Reason) + "=1"
}

// Guard checks that an authenticated session is still used from the
// browser it was bound to and has not gone idle.
type Guard struct {
	idle time.Duration
}

func NewGuard(idle time.Duration) *Guard {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Guard{idle: idle}
}

// Check evaluates s for a request with fingerprint fp at now. Sessions
// without a user are allowed untouched. An allowed authenticated session
// has LastActivity moved to now; a missing LastActivity counts as now.
func (g *Guard) Check(s *Session, fp Fingerprint, now time.Time) Decision {
	if !s.Authenticated() {
		return Decision{Allow: true}
	}
	if s.UA != fp.UA || s.IP != fp.IP {
		return Decision{Reason: ReasonIntegrity}
	}
	if s.LastActivity != nil && now.Sub(*s.LastActivity) > g.idle {
		return Decision{Reason: ReasonTimeout}
	}
	s.touch(now)
	return Decision{Allow: true}
}
