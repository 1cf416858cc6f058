package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("auth: not found")
	ErrAlreadyExists     = errors.New("auth: already exists")
	ErrMissingPepper     = errors.New("auth: pepper is required")
	ErrInvalidResetToken = errors.New("auth: invalid or expired reset token")
	ErrDelivery          = errors.New("auth: mail delivery failed")
)

// User-facing messages. Authentication failures share one text so the
// response never says which part of the credentials was wrong.
const (
	MsgCredentialsRequired = "Email and password are required."
	MsgInvalidCredentials  = "Login failed; Invalid email or password."
	MsgPermanentlyLocked   = "Login attempt has been permanently locked. Please reset your password."
	MsgAccountLocked       = "Account permanently locked. Please user 'Forgot Password' to reset access."
	MsgInvalidOTP          = "Invalid OTP or session expired."
	MsgOTPResent           = "New OTP sent. Please check your email."
	MsgResetRequested      = "If that email address is in our database, we will send you an email to reset your password."
	MsgInvalidResetToken   = "Invalid or expired token"
	MsgResetMismatch       = "Passwords do not match."
	MsgGeneric             = "Something went wrong"
	MsgBreached            = "This password has been found in known data breaches. Please choose a different one."

	MsgEmptyFields    = "Empty input fields!"
	MsgInvalidName    = "Invalid name entered"
	MsgInvalidEmail   = "Invalid email address entered"
	MsgSignupMismatch = "Passwords do not match"
	MsgInvalidPhone   = "Invalid phone number"
	MsgDuplicateEmail = "Invalid Email Address"
	MsgPasswordPolicy = "Password must include at least:\n- 1 uppercase letter;\n 1 lowercase letter;\n 1 digit;\n Minimum length of 8 characters."
)

// ValidationError is a malformed or rejected input, reported inline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "auth: validation: " + e.Reason
	}
	return fmt.Sprintf("auth: validation: %s: %s", e.Field, e.Reason)
}

// Kind classifies an authentication failure.
type Kind int

const (
	KindInvalidCredentials Kind = iota + 1
	KindInvalidOTP
	KindInvalidResetToken
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindInvalidOTP:
		return "invalid_otp"
	case KindInvalidResetToken:
		return "invalid_reset_token"
	default:
		return "unknown"
	}
}

// AuthError is a deliberately generic authentication failure.
type AuthError struct {
	Kind Kind
}

func (e *AuthError) Error() string { return "auth: " + e.Kind.String() }

// Is lets errors.Is(err, ErrInvalidResetToken) match reset-token failures.
func (e *AuthError) Is(target error) bool {
	return target == ErrInvalidResetToken && e.Kind == KindInvalidResetToken
}

// Message is the text shown to the user.
func (e *AuthError) Message() string {
	switch e.Kind {
	case KindInvalidOTP:
		return MsgInvalidOTP
	case KindInvalidResetToken:
		return MsgInvalidResetToken
	default:
		return MsgInvalidCredentials
	}
}

// LockoutError rejects a login attempt because of the account's lock state.
// Locked is set only on the attempt that moved the account into the
// permanent state.
type LockoutError struct {
	RetryAfter time.Duration
	Permanent  bool
	Locked     bool
}

func (e *LockoutError) Error() string {
	if e.Permanent {
		return "auth: account permanently locked"
	}
	return fmt.Sprintf("auth: locked out for %s", e.RetryAfter)
}

// Seconds is the remaining wait rounded up to whole seconds.
func (e *LockoutError) Seconds() int {
	return int((e.RetryAfter + time.Second - 1) / time.Second)
}

// Message is the text shown to the user.
func (e *LockoutError) Message() string {
	switch {
	case e.Locked:
		return MsgAccountLocked
	case e.Permanent:
		return MsgPermanentlyLocked
	default:
		return fmt.Sprintf("Too many attempts. Try again in %d seconds.", e.Seconds())
	}
}
