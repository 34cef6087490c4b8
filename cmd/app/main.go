// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"planetq-generation/internal/config"
	pg "planetq-generation/internal/infra/db/postgres"
	"planetq-generation/internal/infra/logging"
	"planetq-generation/internal/infra/metrics"
	"planetq-generation/internal/infra/providers"
	red "planetq-generation/internal/infra/redis"
	"planetq-generation/internal/infra/sched"
	"planetq-generation/internal/infra/sse"
	"planetq-generation/internal/infra/web"
	"planetq-generation/internal/infra/worker"
	"planetq-generation/internal/usecase"

	"planetq-generation/internal/domain/ports/adapter"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	lease := red.NewGenerationLease(redisClient, cfg.Redis.LeaseTTL)

	// ---- Repositories ----
	userRepo := pg.NewUserRepo(pool)
	taskRepo := pg.NewTaskRepo(pool)
	creditLogRepo := pg.NewCreditLogRepo(pool)
	galleryRepo := pg.NewGalleryRepo(pool)

	// ---- Providers ----
	var adapters []adapter.GenerationProvider
	if cfg.Providers.Suno.Key != "" {
		a, err := providers.NewSunoAdapter(cfg.Providers.Suno.Key, cfg.Providers.Suno.BaseURL, cfg.Providers.Suno.Model)
		if err != nil {
			logger.Fatal().Err(err).Msg("suno adapter")
		}
		adapters = append(adapters, a)
	}
	if cfg.Providers.GoAPI.Key != "" {
		a, err := providers.NewGoAPIAdapter(cfg.Providers.GoAPI.Key, cfg.Providers.GoAPI.BaseURL, cfg.Providers.GoAPI.Model)
		if err != nil {
			logger.Fatal().Err(err).Msg("goapi adapter")
		}
		adapters = append(adapters, a)
	}
	if cfg.Providers.PiAPI.Key != "" {
		a, err := providers.NewPiAPIAdapter(cfg.Providers.PiAPI.Key, cfg.Providers.PiAPI.BaseURL, cfg.Providers.PiAPI.Model)
		if err != nil {
			logger.Fatal().Err(err).Msg("piapi adapter")
		}
		adapters = append(adapters, a)
	}
	if len(adapters) == 0 {
		logger.Fatal().Msg("no generation provider configured: set providers.suno.key, providers.goapi.key or providers.piapi.key")
	}
	registry := providers.NewRegistry(adapters...)

	estimator := usecase.NewCostEstimator(map[string]usecase.CostSchedule{
		"suno":  scheduleFrom(cfg.Providers.Suno),
		"goapi": scheduleFrom(cfg.Providers.GoAPI),
		"piapi": scheduleFrom(cfg.Providers.PiAPI),
	})

	// ---- Stream hub ----
	hub := sse.NewHub(logger)

	// ---- Use cases ----
	ledger := usecase.NewCreditLedgerUseCase(userRepo, creditLogRepo, tm, logger)
	submitUC := usecase.NewSubmitUseCase(userRepo, taskRepo, registry, estimator, lease, hub,
		cfg.Server.BaseURL, cfg.Server.WebhookSecret, logger)
	reconUC := usecase.NewReconcileUseCase(taskRepo, galleryRepo, ledger, registry, lease, hub, tm,
		cfg.Polling.Interval, cfg.Polling.MaxAttempts, logger)

	// ---- Background workers ----
	pool2 := worker.NewPool(cfg.Polling.Workers, logger)
	pool2.Start(ctx)
	defer pool2.Stop()
	poller := worker.NewPoller(pool2, reconUC, logger)

	sweeper := sched.NewSweeper(reconUC, taskRepo,
		cfg.Sweep.Interval, cfg.Sweep.StaleAfter, cfg.Sweep.MaxAge, cfg.Sweep.BatchSize, logger)
	go sweeper.Start(ctx)

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Server.JWTSecret, cfg.Server.SessionTTL)
	limiter := red.NewSubmitLimiter(redisClient, cfg.Server.SubmitPerMinute, time.Minute)
	srv := web.NewServer(submitUC, reconUC, ledger, galleryRepo, sweeper, poller, hub, auth,
		limiter, cfg.Server.WebhookSecret, cfg.Server.SweepKey, logger)
	go func() {
		if err := srv.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
	_ = srv.Shutdown(context.Background())
}

func scheduleFrom(p config.ProviderConfig) usecase.CostSchedule {
	s := usecase.DefaultSchedule
	if p.BaseCost > 0 {
		s.Base = p.BaseCost
	}
	if p.IncludedWords > 0 {
		s.IncludedWords = p.IncludedWords
	}
	if p.BucketWords > 0 {
		s.BucketWords = p.BucketWords
	}
	if p.BucketCost > 0 {
		s.BucketCost = p.BucketCost
	}
	return s
}
