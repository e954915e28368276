package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialer-platform/internal/accounts"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/config"
	"dialer-platform/internal/credits"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/dnc"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/retell"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := campaigns.NewPostgresStore(db)
	ledger := credits.NewService(db)
	dncChecker := dnc.NewService(db)
	keys := accounts.NewService(db)
	gateway := retell.NewClient(cfg.Retell.BaseURL)
	guard := dialer.NewRedisRunGuard(rdb, cfg.Dialer.MaxActiveRuns, cfg.Dialer.RunGuardTTL)

	orch := dialer.New(dialer.Deps{
		Store:   store,
		Ledger:  ledger,
		DNC:     dncChecker,
		Keys:    keys,
		Gateway: gateway,
		Guard:   guard,
		Logger:  log,
	}, dialer.Config{
		WorkerPool:    cfg.Dialer.WorkerPool,
		DefaultSlots:  cfg.Dialer.DefaultSlots,
		PausePoll:     cfg.Dialer.PausePoll,
		NoSlotBackoff: cfg.Dialer.NoSlotBackoff,
		BatchPacing:   cfg.Dialer.BatchPacing,
	})

	h := httpapi.Handlers{
		Auth:   authManager,
		Store:  store,
		Ledger: ledger,
		Dialer: orch,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, auth.RequireAccessToken(authManager), h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Give live dialing loops a bounded window to settle. Campaigns interrupted
	// here resume from persisted state via the resume flow.
	loopsDone := make(chan struct{})
	go func() {
		orch.Wait()
		close(loopsDone)
	}()
	select {
	case <-loopsDone:
		log.Info("dialing loops drained")
	case <-shutdownCtx.Done():
		log.Warn("shutdown timeout with dialing loops still live")
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
