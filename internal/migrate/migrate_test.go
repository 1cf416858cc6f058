package migrate

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(Migrations(), "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no migrations embedded")
	}
	body, err := fs.ReadFile(Migrations(), "00001_init.sql")
	if err != nil {
		t.Fatalf("read init: %v", err)
	}
	sql := string(body)
	for _, want := range []string{
		"-- +goose Up", "-- +goose Down",
		"create table if not exists accounts",
		"create table if not exists otps",
		"create table if not exists otp_logs",
		"create table if not exists sessions",
		"email_index        text not null unique",
		"check (action in ('generated', 'resend', 'success', 'failed'))",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("init migration missing %q", want)
		}
	}
}
