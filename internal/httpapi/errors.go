package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"larder.org/internal/auth"
	"larder.org/internal/otp"
)

// failure is an error translated for the browser.
type failure struct {
	status     int
	message    string
	retryAfter int
}

// classify maps service errors to a status and the message shown to the
// user. Anything unrecognised is reported generically.
func classify(err error) failure {
	var (
		verr    *auth.ValidationError
		aerr    *auth.AuthError
		lerr    *auth.LockoutError
		tooSoon *otp.ResendTooSoonError
	)
	switch {
	case errors.As(err, &verr):
		return failure{status: http.StatusBadRequest, message: verr.Reason}
	case errors.As(err, &aerr):
		return failure{status: http.StatusUnauthorized, message: aerr.Message()}
	case errors.As(err, &lerr):
		if lerr.Permanent {
			return failure{status: http.StatusForbidden, message: lerr.Message()}
		}
		return failure{status: http.StatusTooManyRequests, message: lerr.Message(), retryAfter: lerr.Seconds()}
	case errors.As(err, &tooSoon):
		return failure{status: http.StatusTooManyRequests, message: tooSoon.Message(), retryAfter: tooSoon.Seconds()}
	default:
		return failure{status: http.StatusInternalServerError, message: auth.MsgGeneric}
	}
}

func (f failure) writeHeaders(w http.ResponseWriter) {
	if f.retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(f.retryAfter))
	}
}
