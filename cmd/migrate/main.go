package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"larder.org/internal/config"
	"larder.org/internal/migrate"
	"larder.org/internal/obs"
	"larder.org/internal/store"
)

func main() {
	envFile := flag.String("env", ".env", "Optional dotenv file")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides LARDER_PG_DSN)")
	flag.Parse()

	if len(flag.Args()) == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|status|version]")
		os.Exit(2)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *dsn != "" {
		cfg.DatabaseDSN = *dsn
	}
	logger, err := obs.NewLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	mgr, err := migrate.NewManager(db, logger)
	if err != nil {
		logger.Fatal("migrate init", zap.Error(err))
	}

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		err = mgr.Status(ctx)
	case "version":
		var v int64
		if v, err = mgr.Version(ctx); err == nil {
			fmt.Println(v)
		}
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}
