package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	c := &Config{}
	c.LoadDefaults()
	err := c.applyEnv(lookupFrom(map[string]string{
		"LARDER_HTTP_ADDR":       ":9000",
		"LARDER_SESSION_BACKEND": "redis",
		"ENCRYPTION_KEY":         testKeyHex,
		"PEPPER":                 "pep",
		"SESSION_SECRET":         "sec",
		"SMTP_PORT":              "465",
		"LARDER_IDLE_TIMEOUT":    "20m",
		"LARDER_COOKIE_SECURE":   "false",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if c.HTTPAddr != ":9000" || c.SessionBackend != "redis" {
		t.Fatalf("unexpected overrides: %+v", c)
	}
	if len(c.EncryptionKey) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(c.EncryptionKey))
	}
	if c.SMTPPort != 465 || c.IdleTimeout != 20*time.Minute || c.CookieSecure {
		t.Fatalf("unexpected parsed values: port=%d idle=%s secure=%v", c.SMTPPort, c.IdleTimeout, c.CookieSecure)
	}
	if c.PwnedTimeout != 3*time.Second {
		t.Fatalf("default pwned timeout lost: %s", c.PwnedTimeout)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"hex":      {"ENCRYPTION_KEY": "zz"},
		"port":     {"SMTP_PORT": "abc"},
		"duration": {"LARDER_IDLE_TIMEOUT": "-1s"},
		"bool":     {"LARDER_COOKIE_SECURE": "maybe"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			c := &Config{}
			c.LoadDefaults()
			if err := c.applyEnv(lookupFrom(env)); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestValidateMissingSecrets(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.LoadDefaults()
		c.EncryptionKey = make([]byte, 32)
		c.Pepper = "pep"
		c.SessionSecret = "sec"
		return c
	}
	cases := map[string]struct {
		mutate func(*Config)
		name   string
	}{
		"key":    {func(c *Config) { c.EncryptionKey = nil }, "ENCRYPTION_KEY"},
		"short":  {func(c *Config) { c.EncryptionKey = make([]byte, 16) }, "ENCRYPTION_KEY"},
		"pepper": {func(c *Config) { c.Pepper = "" }, "PEPPER"},
		"secret": {func(c *Config) { c.SessionSecret = "" }, "SESSION_SECRET"},
	}
	for label, tc := range cases {
		t.Run(label, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			err := c.Validate()
			var missing *MissingSecretError
			if !errors.As(err, &missing) {
				t.Fatalf("expected MissingSecretError, got %v", err)
			}
			if missing.Name != tc.name {
				t.Fatalf("expected %s, got %s", tc.name, missing.Name)
			}
		})
	}

	c := base()
	c.SessionBackend = "memcached"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "memcached") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "LARDER_TEST_ONLY_BASE=1\nLARDER_BASE_URL=https://larder.example\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("LARDER_BASE_URL", "")
	os.Unsetenv("LARDER_BASE_URL")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.BaseURL != "https://larder.example" {
		t.Fatalf("expected base url from dotenv, got %q", c.BaseURL)
	}

	if _, err := Load(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}
