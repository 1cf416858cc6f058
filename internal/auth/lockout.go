package auth

import (
	"time"
)

const (
	// LockoutThreshold is the failure count that starts exponential backoff.
	LockoutThreshold = 3
	// MaxAttempts is the failure count that locks the account until reset.
	MaxAttempts = 6
	// ObservationWindow bounds how long failures count against an account.
	ObservationWindow = 10 * time.Minute
	// FailureDelay is added to every rejected login before responding.
	FailureDelay = 500 * time.Millisecond
)

// LockoutState is the persisted per-account counter.
type LockoutState struct {
	FailedAttempts int
	IsLocked       bool
	LastFailed     *time.Time
}

// GateKind is the outcome of evaluating a login attempt against the lock state.
type GateKind int

const (
	// GateOpen lets the attempt proceed to password verification.
	GateOpen GateKind = iota
	// GateWindowReset lets the attempt proceed after the stale counter is
	// persisted back to zero.
	GateWindowReset
	// GateBackoff rejects the attempt until RetryAfter has passed.
	GateBackoff
	// GatePermanent rejects every attempt until a password reset.
	GatePermanent
)

func (k GateKind) String() string {
	switch k {
	case GateOpen:
		return "open"
	case GateWindowReset:
		return "reset"
	case GateBackoff:
		return "backoff"
	case GatePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Gate is the decision for one attempt.
type Gate struct {
	Kind       GateKind
	RetryAfter time.Duration
}

// Backoff is the wait required after n consecutive failures:
// 2^(n-LockoutThreshold) seconds, zero below the threshold.
func Backoff(n int) time.Duration {
	if n < LockoutThreshold {
		return 0
	}
	return time.Second << uint(n-LockoutThreshold)
}

// Evaluate decides whether an attempt at now may proceed. It has no side
// effects; the caller persists GateWindowReset.
func Evaluate(st LockoutState, now time.Time) Gate {
	if st.FailedAttempts >= MaxAttempts {
		return Gate{Kind: GatePermanent}
	}
	if st.FailedAttempts <= 0 || st.LastFailed == nil {
		return Gate{Kind: GateOpen}
	}
	elapsed := now.Sub(*st.LastFailed)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > ObservationWindow {
		return Gate{Kind: GateWindowReset}
	}
	if st.FailedAttempts >= LockoutThreshold {
		wait := Backoff(st.FailedAttempts)
		if elapsed < wait {
			return Gate{Kind: GateBackoff, RetryAfter: ceilSeconds(wait - elapsed)}
		}
	}
	return Gate{Kind: GateOpen}
}

func ceilSeconds(d time.Duration) time.Duration {
	if r := d % time.Second; r != 0 {
		d += time.Second - r
	}
	return d
}
