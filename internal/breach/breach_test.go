package breach

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func digest(pw string) (string, string) {
	sum := sha1.Sum([]byte(pw))
	d := strings.ToUpper(hex.EncodeToString(sum[:]))
	return d[:5], d[5:]
}

func TestIsPwnedMatchesSuffix(t *testing.T) {
	prefix, suffix := digest("password1")
	var gotPath, gotPadding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPadding = r.Header.Get("Add-Padding")
		fmt.Fprintf(w, "0000000000000000000000000000000000A:1\r\n%s:42\r\n", strings.ToLower(suffix))
	}))
	defer srv.Close()

	c := New(srv.URL+"/range", time.Second)
	if !c.IsPwned(context.Background(), "password1") {
		t.Fatal("expected password to be reported as pwned")
	}
	if gotPath != "/range/"+prefix {
		t.Fatalf("expected only the prefix to be sent, got path %q", gotPath)
	}
	if gotPadding != "true" {
		t.Fatalf("expected Add-Padding header, got %q", gotPadding)
	}
}

func TestIsPwnedNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0000000000000000000000000000000000A:1\n")
	}))
	defer srv.Close()

	if New(srv.URL, time.Second).IsPwned(context.Background(), "Correct-Horse-9") {
		t.Fatal("expected clean password")
	}
}

func TestIsPwnedIgnoresPaddingRows(t *testing.T) {
	_, suffix := digest("password1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "0000000000000000000000000000000000A:1\r\n%s:0\r\n", suffix)
	}))
	defer srv.Close()

	if New(srv.URL, time.Second).IsPwned(context.Background(), "password1") {
		t.Fatal("a zero-count padding row must not match")
	}
}

// The check fails open on every kind of dependency failure.
func TestIsPwnedFailsOpen(t *testing.T) {
	_, suffix := digest("password1")

	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "%s:1\n", suffix)
		}))
		defer srv.Close()
		if New(srv.URL, time.Second).IsPwned(context.Background(), "password1") {
			t.Fatal("non-200 must fail open")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)
		if New(srv.URL, 50*time.Millisecond).IsPwned(context.Background(), "password1") {
			t.Fatal("timeout must fail open")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		if New(url, time.Second).IsPwned(context.Background(), "password1") {
			t.Fatal("connection failure must fail open")
		}
	})
}
