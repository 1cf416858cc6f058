package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"larder.org/internal/audit"
	"larder.org/internal/auth"
	"larder.org/internal/breach"
	"larder.org/internal/config"
	"larder.org/internal/cryptox"
	"larder.org/internal/hashpool"
	"larder.org/internal/httpapi"
	"larder.org/internal/mail"
	"larder.org/internal/obs"
	"larder.org/internal/otp"
	"larder.org/internal/session"
	"larder.org/internal/store"
	"larder.org/internal/sweep"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	envFile := flag.String("env", ".env", "Optional dotenv file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	ready := httpapi.ReadyProbe{DB: db}
	var sessStore session.Store
	switch cfg.SessionBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		rs := session.NewRedisStore(rdb)
		sessStore = rs
		ready.Redis = rs
	default:
		sessStore = session.NewPGStore(db)
	}

	codec, err := session.NewCookieCodec(cfg.SessionSecret, nil)
	if err != nil {
		logger.Fatal("session codec", zap.Error(err))
	}
	sessions := session.NewManager(sessStore, codec,
		session.WithTTL(cfg.SessionTTL),
		session.WithSecureCookie(cfg.CookieSecure),
		session.WithLogger(logger),
	)

	keys, err := cryptox.DeriveKeys(cfg.EncryptionKey)
	if err != nil {
		logger.Fatal("derive keys", zap.Error(err))
	}
	pool := hashpool.New(0)
	hasher, err := auth.NewHasher(cfg.Pepper, auth.WithPool(pool))
	if err != nil {
		logger.Fatal("password hasher", zap.Error(err))
	}

	var mailer mail.Mailer = mail.NewLogMailer(logger)
	if cfg.MailUser != "" {
		mailer = mail.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.MailUser, cfg.MailPass)
	} else {
		logger.Warn("mail_not_configured", zap.String("fallback", "log"))
	}

	trail := audit.New(logger)
	codes := otp.NewService(otp.NewPGStore(db), mailer,
		otp.WithLogger(logger),
		otp.WithAudit(trail),
		otp.WithPool(pool),
	)
	accounts, err := auth.NewService(auth.NewPGStore(db), hasher, keys, codes,
		auth.WithMailer(mailer),
		auth.WithBreachChecker(breach.New(cfg.PwnedURL, cfg.PwnedTimeout, breach.WithLogger(logger))),
		auth.WithBaseURL(cfg.BaseURL),
		auth.WithLogger(logger),
		auth.WithAudit(trail),
	)
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}

	limiter := httpapi.NewRateLimiter(cfg.RateBurst, cfg.RatePerSec, nil)
	api, err := httpapi.New(httpapi.Deps{
		Auth:     accounts,
		Sessions: sessions,
		Guard:    session.NewGuard(cfg.IdleTimeout),
		Limiter:  limiter,
		Ready:    ready,
		Log:      logger,
		Audit:    trail,
		Version:  version,
	})
	if err != nil {
		logger.Fatal("http api", zap.Error(err))
	}

	go sweep.Run(ctx, "otp", cfg.SweepInterval, codes.PurgeExpired, logger)
	go sweep.Run(ctx, "sessions", cfg.SweepInterval, sessStore.PurgeExpired, logger)
	go sweep.Run(ctx, "rate_limiter", cfg.SweepInterval, limiter.Prune, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server_start",
			zap.String("version", version),
			zap.String("addr", srv.Addr),
			zap.String("session_backend", cfg.SessionBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("server_shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("server_stopped")
}
