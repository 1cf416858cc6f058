// Package session keeps server-side login sessions bound to the browser
// that created them.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"larder.org/internal/ids"
)

// ErrNotFound is returned by stores for an unknown or expired session id.
var ErrNotFound = errors.New("session: not found")

// idBytes gives 256-bit session ids.
const idBytes = 32

// User is the authenticated identity held by a session.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Slug      string `json:"slug"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Session is the server-side state behind the cookie. UA and IP are the
// fingerprint captured when the user authenticated.
type Session struct {
	ID           string     `json:"-"`
	User         *User      `json:"user,omitempty"`
	Pending      *User      `json:"pendingUser,omitempty"`
	UA           string     `json:"ua,omitempty"`
	IP           string     `json:"ip,omitempty"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	CSRFToken    string     `json:"csrf,omitempty"`
	Flash        string     `json:"flash,omitempty"`

	fresh bool
}

func newSession() (*Session, error) {
	id, err := ids.Secret(idBytes)
	if err != nil {
		return nil, fmt.Errorf("session: new id: %w", err)
	}
	return &Session{ID: id, fresh: true}, nil
}

// Authenticated reports whether the session carries a logged-in user.
func (s *Session) Authenticated() bool { return s != nil && s.User != nil }

// IsNew reports whether the session has not been stored yet.
func (s *Session) IsNew() bool { return s.fresh }

// Bind stores u as the logged-in user and captures the fingerprint.
func (s *Session) Bind(u User, fp Fingerprint, now time.Time) {
	s.User = &u
	s.Pending = nil
	s.UA = fp.UA
	s.IP = fp.IP
	s.touch(now)
}

// PopFlash returns and clears the one-shot notice.
func (s *Session) PopFlash() string {
	f := s.Flash
	s.Flash = ""
	return f
}

func (s *Session) touch(now time.Time) {
	t := now.UTC()
	s.LastActivity = &t
}

func encode(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("session: encode: %w", err)
	}
	return data, nil
}

func decode(sid string, data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", sid, err)
	}
	s.ID = sid
	return &s, nil
}

// Fingerprint is the request attributes a session is bound to.
type Fingerprint struct {
	UA string
	IP string
}

// FingerprintOf reads the user agent and remote address of r.
func FingerprintOf(r *http.Request) Fingerprint {
	return Fingerprint{UA: r.UserAgent(), IP: RemoteIP(r)}
}

// RemoteIP is the host part of r.RemoteAddr.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
