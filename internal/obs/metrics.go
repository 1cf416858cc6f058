package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Account security metrics
var (
	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_total",
			Help: "Password-step login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	lockoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_lockout_total",
			Help: "Lockout gate rejections and transitions by state.",
		},
		[]string{"state"},
	)

	otpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_otp_total",
			Help: "One-time code lifecycle events by action.",
		},
		[]string{"action"},
	)

	breachCheckTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_breach_check_total",
			Help: "Breached-password lookups by result.",
		},
		[]string{"result"},
	)

	sessionInvalidatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_session_invalidated_total",
			Help: "Sessions destroyed by the integrity guard by reason.",
		},
		[]string{"reason"},
	)
)

var initOnce sync.Once

// Init registers all collectors in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginTotal, lockoutTotal, otpTotal, breachCheckTotal, sessionInvalidatedTotal,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// LoginOutcome counts a password-step result: success, invalid, locked, error.
func LoginOutcome(outcome string) { loginTotal.WithLabelValues(outcome).Inc() }

// LockoutState counts a lockout gate decision: backoff, permanent, reset.
func LockoutState(state string) { lockoutTotal.WithLabelValues(state).Inc() }

// OTPEvent counts generated, resend, success, failed and throttled codes.
func OTPEvent(action string) { otpTotal.WithLabelValues(action).Inc() }

// BreachCheck counts pwned, clean and unavailable lookups.
func BreachCheck(result string) { breachCheckTotal.WithLabelValues(result).Inc() }

// SessionInvalidated counts guard denials: integrity or timeout.
func SessionInvalidated(reason string) { sessionInvalidatedTotal.WithLabelValues(reason).Inc() }

// Instrument records in-flight, count and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses per-resource path segments so tokens and slugs
// never become label values.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) == 2 && parts[1] != "" {
		switch parts[0] {
		case "reset-password":
			return "/reset-password/:token"
		case "profile":
			return "/profile/:slug"
		}
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
