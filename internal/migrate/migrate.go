// Package migrate applies the embedded schema migrations with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migrations returns the migration files rooted at their directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Manager runs goose against a PostgreSQL database.
type Manager struct {
	db *sql.DB
}

// NewManager configures goose for the embedded files and PostgreSQL.
func NewManager(db *sql.DB, log *zap.Logger) (*Manager, error) {
	goose.SetBaseFS(Migrations())
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("migrate: dialect: %w", err)
	}
	if log != nil {
		goose.SetLogger(gooseLogger{log.Sugar()})
	}
	return &Manager{db: db}, nil
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return goose.UpContext(ctx, m.db, ".")
}

// Down rolls back the most recent migration.
func (m *Manager) Down(ctx context.Context) error {
	return goose.DownContext(ctx, m.db, ".")
}

// Status logs the state of every migration.
func (m *Manager) Status(ctx context.Context) error {
	return goose.StatusContext(ctx, m.db, ".")
}

// Version is the currently applied schema version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	return goose.GetDBVersionContext(ctx, m.db)
}

type gooseLogger struct {
	*zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) { l.Infof(format, v...) }
