package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"authgate.dev/internal/auth"
	"authgate.dev/internal/config"
	"authgate.dev/internal/httpapi"
	"authgate.dev/internal/keys"
	"authgate.dev/internal/obs"
	"authgate.dev/internal/store/pg"
	"authgate.dev/internal/token"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := obs.NewLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	km := keys.NewManager(cfg.JWTPrivateKey, cfg.JWTKid)

	var store auth.Store
	var probe httpapi.ReadyProbe
	if cfg.DatabaseDSN != "" {
		pgStore, err := pg.Open(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("open db", zap.Error(err))
		}
		defer func() { _ = pgStore.Close() }()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		logger.Warn("no AUTHGATE_PG_DSN configured, using in-memory store")
		store = auth.NewMemStore()
	}

	svc := auth.NewService(store, token.NewService(km),
		auth.WithPepper(cfg.PasswordPepper),
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithAccessTTL(cfg.AccessTokenTTL()),
		auth.WithRefreshTTL(cfg.RefreshTokenTTL()),
	)

	api := httpapi.New(svc, km, probe, version,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting authgate-api",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	logger.Info("stopped")
}
