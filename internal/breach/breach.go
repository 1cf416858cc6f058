// Package breach checks passwords against a k-anonymity breach corpus
// (the Pwned Passwords range API).
//
// Only the first five hex characters of the SHA-1 digest leave the process.
// The check fails open: when the service is unreachable, slow or returns an
// unexpected response, IsPwned reports false and the password is accepted.
// Signup and reset must keep working while the third party is down.
package breach

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"larder.org/internal/obs"
)

// DefaultURL is the public range endpoint; the prefix is appended.
const DefaultURL = "https://api.pwnedpasswords.com/range/"

// Checker queries the range API.
type Checker struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithHTTPClient replaces the HTTP client. Its timeout bounds every lookup.
func WithHTTPClient(c *http.Client) Option {
	return func(ch *Checker) {
		if c != nil {
			ch.client = c
		}
	}
}

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(l *zap.Logger) Option {
	return func(ch *Checker) {
		if l != nil {
			ch.log = l
		}
	}
}

// New returns a Checker for baseURL with the given request timeout.
func New(baseURL string, timeout time.Duration, opts ...Option) *Checker {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := &Checker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsPwned reports whether password appears in the breach corpus. Any lookup
// failure returns false.
func (c *Checker) IsPwned(ctx context.Context, password string) bool {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	found, err := c.lookup(ctx, prefix, suffix)
	if err != nil {
		c.log.Warn("breach_check_unavailable", zap.Error(err))
		obs.BreachCheck("unavailable")
		return false
	}
	if found {
		obs.BreachCheck("pwned")
	} else {
		obs.BreachCheck("clean")
	}
	return found
}

func (c *Checker) lookup(ctx context.Context, prefix, suffix string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+prefix, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Add-Padding", "true")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("breach: unexpected status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		hashSuffix, count, _ := strings.Cut(sc.Text(), ":")
		if !strings.EqualFold(strings.TrimSpace(hashSuffix), suffix) {
			continue
		}
		// Padding rows carry a zero count.
		n, err := strconv.Atoi(strings.TrimSpace(count))
		return err == nil && n > 0, nil
	}
	if err := sc.Err(); err != nil {
		return false, err
	}
	return false, nil
}
